package docsworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cargoforge/registry/internal/jobqueue"
	"github.com/cargoforge/registry/internal/metadata"
	"github.com/cargoforge/registry/internal/storage"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeBuilder struct {
	fail  bool
	calls int
}

func (b *fakeBuilder) Build(ctx context.Context, crateName, version, target string) (map[string][]byte, error) {
	b.calls++
	if b.fail {
		return nil, errors.New("build exploded")
	}
	return map[string][]byte{"index.html": []byte("<html></html>")}, nil
}

func setupWorker(t *testing.T, builder Builder, maxRetries int) (*Worker, *metadata.Store, *jobqueue.Queue) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Crate{}, &types.Version{}))

	store := metadata.New(db)
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	artifacts := storage.NewArtifactStore(blobs)
	jobs := jobqueue.New()

	return New(jobs, store, artifacts, builder, maxRetries), store, jobs
}

func TestDocsWorkerMarksDone(t *testing.T) {
	builder := &fakeBuilder{}
	w, store, jobs := setupWorker(t, builder, 3)

	ctx := context.Background()
	crate, _, err := metadata.GetOrCreateCrate(store.DB(ctx), "foo")
	require.NoError(t, err)
	_, err = metadata.InsertVersion(store.DB(ctx), crate.ID, "0.1.0", "abc")
	require.NoError(t, err)

	jobs.Push(jobqueue.JobCrate{Name: "foo", Version: "0.1.0", Targets: []string{"x86_64-unknown-linux-gnu"}})
	jobs.Close()
	w.Run(ctx)

	versions, err := store.GetCrateVersions(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, types.DocsDone, versions[0].DocsStatus)

	tree, err := w.artifacts.ListDocTree(ctx, "foo", "0.1.0", "x86_64-unknown-linux-gnu")
	require.NoError(t, err)
	require.NotEmpty(t, tree)
}

func TestDocsWorkerRetriesThenFails(t *testing.T) {
	builder := &fakeBuilder{fail: true}
	w, store, jobs := setupWorker(t, builder, 2)

	ctx := context.Background()
	crate, _, err := metadata.GetOrCreateCrate(store.DB(ctx), "foo")
	require.NoError(t, err)
	_, err = metadata.InsertVersion(store.DB(ctx), crate.ID, "0.1.0", "abc")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		jobs.Push(jobqueue.JobCrate{Name: "foo", Version: "0.1.0", Targets: []string{"x86_64-unknown-linux-gnu"}})
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		jobs.Close()
	}()
	w.Run(ctx)

	versions, err := store.GetCrateVersions(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, types.DocsFailed, versions[0].DocsStatus)
	require.Equal(t, 2, builder.calls)
}
