package index

import "strings"

// ContentTypeFor implements the sparse-index content-type rules recovered
// from the original routes.rs (`get_content_type`-adjacent logic): JSON
// documents report application/json, ref/HEAD-shaped paths report plain
// text, and everything else (a shard file) is served as opaque bytes.
func ContentTypeFor(relPath string) string {
	switch {
	case strings.HasSuffix(relPath, ".json"):
		return "application/json"
	case relPath == "HEAD" || strings.HasPrefix(relPath, "info/") || strings.HasPrefix(relPath, "info"):
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// AllowedForSparse reports whether relPath may be served over the sparse
// HTTP surface. config.json is always allowed, even when the sparse
// protocol as a whole has been disabled (spec §4.3) — clients that only
// ever need config.json (e.g. to discover the Git Smart HTTP surface)
// cannot be locked out by that toggle.
func AllowedForSparse(relPath string, sparseEnabled bool) bool {
	if relPath == "config.json" {
		return true
	}
	return sparseEnabled
}
