package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestArtifactStore(t *testing.T) *ArtifactStore {
	t.Helper()
	blobs, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewArtifactStore(blobs)
}

func TestArtifactStoreRoundTripsCrateBytes(t *testing.T) {
	store := setupTestArtifactStore(t)
	ctx := context.Background()

	payload := []byte("pretend-tarball-bytes")
	require.NoError(t, store.StoreCrate(ctx, "foo", "0.1.0", bytes.NewReader(payload)))

	rc, err := store.DownloadCrate(ctx, "foo", "0.1.0")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestArtifactStoreDeleteCrateRollback(t *testing.T) {
	store := setupTestArtifactStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreCrate(ctx, "foo", "0.1.0", bytes.NewReader([]byte("x"))))
	require.NoError(t, store.DeleteCrate(ctx, "foo", "0.1.0"))

	_, err := store.DownloadCrate(ctx, "foo", "0.1.0")
	require.Error(t, err)
}

func TestArtifactStoreDocTreeListing(t *testing.T) {
	store := setupTestArtifactStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreDocTree(ctx, "foo", "0.1.0", "x86_64-unknown-linux-gnu", "index.html", bytes.NewReader([]byte("<html></html>"))))
	require.NoError(t, store.StoreDocTree(ctx, "foo", "0.1.0", "x86_64-unknown-linux-gnu", "foo/index.html", bytes.NewReader([]byte("<html></html>"))))

	files, err := store.ListDocTree(ctx, "foo", "0.1.0", "x86_64-unknown-linux-gnu")
	require.NoError(t, err)
	require.Len(t, files, 2)
}
