package depsworker

import (
	"context"
	"testing"
	"time"

	"github.com/cargoforge/registry/internal/index"
	"github.com/cargoforge/registry/internal/metadata"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeSource struct {
	data []byte
}

func (f *fakeSource) Fetch(ctx context.Context, since time.Time) ([]byte, time.Time, bool, error) {
	return f.data, time.Now(), false, nil
}

func setupDepsWorker(t *testing.T, advisoryJSONLines string) (*Worker, *metadata.Store, *index.Index) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Crate{}, &types.Version{}))
	store := metadata.New(db)

	idx, err := index.Open(index.Config{Root: t.TempDir(), AuthorName: "registry", AuthorEmail: "registry@example.com", Branch: "master"})
	require.NoError(t, err)

	w := New(store, idx, nil, &fakeSource{data: []byte(advisoryJSONLines)}, time.Hour)
	return w, store, idx
}

func TestDepsWorkerFlagsVulnerableDependency(t *testing.T) {
	ctx := context.Background()
	w, store, idx := setupDepsWorker(t, `{"id":"RUSTSEC-0001","package":"bad-dep","patched":">=2.0.0","title":"known issue"}`)

	crate, _, err := metadata.GetOrCreateCrate(store.DB(ctx), "foo")
	require.NoError(t, err)
	version, err := metadata.InsertVersion(store.DB(ctx), crate.ID, "0.1.0", "abc")
	require.NoError(t, err)

	depCrate, _, err := metadata.GetOrCreateCrate(store.DB(ctx), "bad-dep")
	require.NoError(t, err)
	_, err = metadata.InsertVersion(store.DB(ctx), depCrate.ID, "1.0.0", "def")
	require.NoError(t, err)

	require.NoError(t, idx.Publish(ctx, types.IndexLine{
		Name: "foo", Vers: "0.1.0", Cksum: "abc",
		Deps: []types.IndexDep{{Name: "bad-dep", Req: "^1.0", Kind: "normal"}},
	}))
	require.NoError(t, idx.Publish(ctx, types.IndexLine{Name: "bad-dep", Vers: "1.0.0", Cksum: "def"}))

	require.NoError(t, w.refreshAdvisories(ctx))
	require.NoError(t, w.scanVersion(ctx, "foo", *version))

	versions, err := store.GetCrateVersions(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, types.DepsCheckIssues, versions[0].DepsCheckStatus)
	require.Contains(t, versions[0].DepsCheckSummary, "bad-dep")
}

func TestDepsWorkerClearsCleanDependency(t *testing.T) {
	ctx := context.Background()
	w, store, idx := setupDepsWorker(t, `{"id":"RUSTSEC-0002","package":"good-dep","patched":">=1.0.0","title":"old issue"}`)

	crate, _, err := metadata.GetOrCreateCrate(store.DB(ctx), "foo")
	require.NoError(t, err)
	version, err := metadata.InsertVersion(store.DB(ctx), crate.ID, "0.1.0", "abc")
	require.NoError(t, err)

	depCrate, _, err := metadata.GetOrCreateCrate(store.DB(ctx), "good-dep")
	require.NoError(t, err)
	_, err = metadata.InsertVersion(store.DB(ctx), depCrate.ID, "1.2.0", "def")
	require.NoError(t, err)

	require.NoError(t, idx.Publish(ctx, types.IndexLine{
		Name: "foo", Vers: "0.1.0", Cksum: "abc",
		Deps: []types.IndexDep{{Name: "good-dep", Req: "^1.0", Kind: "normal"}},
	}))
	require.NoError(t, idx.Publish(ctx, types.IndexLine{Name: "good-dep", Vers: "1.2.0", Cksum: "def"}))

	require.NoError(t, w.refreshAdvisories(ctx))
	require.NoError(t, w.scanVersion(ctx, "foo", *version))

	versions, err := store.GetCrateVersions(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, types.DepsCheckOK, versions[0].DepsCheckStatus)
}
