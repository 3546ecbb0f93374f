// Package storage implements the content-addressed artifact store (spec
// §4.2): three flat namespaces (crates, readmes, docs) over a BlobStorage,
// addressed by path rather than by hash — collisions are prevented upstream
// by the metadata store's unique (crate, version) constraint (spec §5).
package storage

import (
	"context"
	"fmt"
	"io"
)

// ArtifactStore is the registry's view over a BlobStorage: it knows the
// three namespace conventions and nothing else about crate semantics.
type ArtifactStore struct {
	blobs BlobStorage
}

// NewArtifactStore wraps a BlobStorage as an ArtifactStore.
func NewArtifactStore(blobs BlobStorage) *ArtifactStore {
	return &ArtifactStore{blobs: blobs}
}

func cratePath(name, version string) string {
	return fmt.Sprintf("crates/%s/%s.crate", name, version)
}

func readmePath(name, version string) string {
	return fmt.Sprintf("readmes/%s/%s.md", name, version)
}

func docPath(name, version, target, file string) string {
	return fmt.Sprintf("docs/%s/%s/%s/%s", name, version, target, file)
}

func docTreeRoot(name, version, target string) string {
	return fmt.Sprintf("docs/%s/%s/%s", name, version, target)
}

// StoreCrate writes a crate tarball under crates/<name>/<version>.crate.
func (a *ArtifactStore) StoreCrate(ctx context.Context, name, version string, content io.Reader) error {
	return a.blobs.Store(ctx, cratePath(name, version), content, "application/gzip")
}

// DownloadCrate reads back a crate tarball.
func (a *ArtifactStore) DownloadCrate(ctx context.Context, name, version string) (io.ReadCloser, error) {
	return a.blobs.Retrieve(ctx, cratePath(name, version))
}

// DeleteCrate removes a crate tarball, used to roll back a failed publish
// that got as far as the artifact-store step (spec §4.7 step 6 rollback).
func (a *ArtifactStore) DeleteCrate(ctx context.Context, name, version string) error {
	return a.blobs.Delete(ctx, cratePath(name, version))
}

// DownloadCrateMetadata returns the byte size of a stored crate tarball
// without reading its content. The download endpoint does not call it.
func (a *ArtifactStore) DownloadCrateMetadata(ctx context.Context, name, version string) (int64, error) {
	return a.blobs.GetSize(ctx, cratePath(name, version))
}

// StoreReadme writes a version's extracted README.
func (a *ArtifactStore) StoreReadme(ctx context.Context, name, version string, content io.Reader) error {
	return a.blobs.Store(ctx, readmePath(name, version), content, "text/markdown")
}

// DownloadCrateReadme reads back a version's README.
func (a *ArtifactStore) DownloadCrateReadme(ctx context.Context, name, version string) (io.ReadCloser, error) {
	return a.blobs.Retrieve(ctx, readmePath(name, version))
}

// StoreDocTree uploads one file of a built documentation tree under
// docs/<name>/<version>/<target>/... (spec §4.5).
func (a *ArtifactStore) StoreDocTree(ctx context.Context, name, version, target, file string, content io.Reader) error {
	return a.blobs.Store(ctx, docPath(name, version, target, file), content, contentTypeForDocFile(file))
}

// DownloadDocFile reads back one file of a built documentation tree.
func (a *ArtifactStore) DownloadDocFile(ctx context.Context, name, version, target, file string) (io.ReadCloser, error) {
	return a.blobs.Retrieve(ctx, docPath(name, version, target, file))
}

// ListDocTree lists every stored file under a version/target's doc tree.
func (a *ArtifactStore) ListDocTree(ctx context.Context, name, version, target string) ([]string, error) {
	return a.blobs.List(ctx, docTreeRoot(name, version, target))
}

func contentTypeForDocFile(file string) string {
	switch {
	case hasSuffix(file, ".html"):
		return "text/html; charset=utf-8"
	case hasSuffix(file, ".css"):
		return "text/css; charset=utf-8"
	case hasSuffix(file, ".js"):
		return "application/javascript"
	default:
		return "application/octet-stream"
	}
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}
