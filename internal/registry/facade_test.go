package registry

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/cargoforge/registry/internal/index"
	"github.com/cargoforge/registry/internal/jobqueue"
	"github.com/cargoforge/registry/internal/metadata"
	"github.com/cargoforge/registry/internal/storage"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func mustParseUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func setupTestFacade(t *testing.T) (*Facade, *metadata.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.User{}, &types.Token{}, &types.Crate{}, &types.Version{}, &types.Ownership{}))
	store := metadata.New(db)

	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	artifacts := storage.NewArtifactStore(blobs)

	idx, err := index.Open(index.Config{
		Root:        t.TempDir(),
		AuthorName:  "registry",
		AuthorEmail: "registry@example.com",
		Branch:      "master",
	})
	require.NoError(t, err)

	jobs := jobqueue.New()
	return New(store, artifacts, idx, jobs), store
}

func buildArchive(t *testing.T, manifest types.PublishManifest, tarball []byte) []byte {
	t.Helper()
	manifestBytes, err := json.Marshal(manifest)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(manifestBytes))))
	buf.Write(manifestBytes)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(tarball))))
	buf.Write(tarball)
	return buf.Bytes()
}

func mintPublishToken(t *testing.T, store *metadata.Store) (string, string) {
	t.Helper()
	ctx := context.Background()
	user, err := store.GetOrCreateUserByPrincipal(ctx, "alice", "alice@example.com", "Alice")
	require.NoError(t, err)
	token, secret, err := store.CreateToken(ctx, user.ID, "ci", types.TokenCapPublish|types.TokenCapYank|types.TokenCapManageOwners)
	require.NoError(t, err)
	return token.ID.String(), secret
}

func TestPublishCrateVersionEndToEnd(t *testing.T) {
	facade, store := setupTestFacade(t)
	ctx := context.Background()
	tokenID, secret := mintPublishToken(t, store)
	tid := mustParseUUID(t, tokenID)

	archive := buildArchive(t, types.PublishManifest{Name: "foo", Vers: "0.1.0"}, []byte("tarball-bytes"))

	result, err := facade.PublishCrateVersion(ctx, tid, secret, archive)
	require.NoError(t, err)
	require.Equal(t, "foo", result.Crate)
	require.Equal(t, "0.1.0", result.Version)
	require.True(t, result.Created)

	versions, targets, err := facade.GetCrateInfo(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.NotEmpty(t, targets)

	content, err := facade.GetCrateContent(ctx, "foo", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, []byte("tarball-bytes"), content)

	owners, err := facade.GetOwners(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, owners, 1)
}

func TestPublishCrateVersionRejectsDuplicate(t *testing.T) {
	facade, store := setupTestFacade(t)
	ctx := context.Background()
	tokenID, secret := mintPublishToken(t, store)
	tid := mustParseUUID(t, tokenID)

	archive := buildArchive(t, types.PublishManifest{Name: "foo", Vers: "0.1.0"}, []byte("tarball-bytes"))

	_, err := facade.PublishCrateVersion(ctx, tid, secret, archive)
	require.NoError(t, err)

	_, err = facade.PublishCrateVersion(ctx, tid, secret, archive)
	require.Error(t, err)
}

func TestYankVersionRoundTrip(t *testing.T) {
	facade, store := setupTestFacade(t)
	ctx := context.Background()
	tokenID, secret := mintPublishToken(t, store)
	tid := mustParseUUID(t, tokenID)

	archive := buildArchive(t, types.PublishManifest{Name: "foo", Vers: "0.1.0"}, []byte("tarball-bytes"))
	_, err := facade.PublishCrateVersion(ctx, tid, secret, archive)
	require.NoError(t, err)

	require.NoError(t, facade.YankVersion(ctx, tid, secret, "foo", "0.1.0", true))
	versions, _, err := facade.GetCrateInfo(ctx, "foo")
	require.NoError(t, err)
	require.True(t, versions[0].Yanked)

	require.NoError(t, facade.YankVersion(ctx, tid, secret, "foo", "0.1.0", true))
}
