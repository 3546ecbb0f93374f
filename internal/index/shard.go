package index

import "strings"

// ShardPath computes the index file path for a crate name, following
// cargo's sharding convention (spec §3 IndexEntry, §6):
//
//	length 1 -> "1/<name>"
//	length 2 -> "2/<name>"
//	length 3 -> "3/<c1>/<name>"
//	length >= 4 -> "<c1c2>/<c3c4>/<name>"
//
// This function is pure: it never touches the filesystem or the git
// repository, so it is safe to call from both the writer path (locked)
// and from read paths (unlocked) without any synchronization (spec §9
// Open Question).
func ShardPath(name string) string {
	lower := strings.ToLower(name)
	switch {
	case len(lower) == 1:
		return "1/" + lower
	case len(lower) == 2:
		return "2/" + lower
	case len(lower) == 3:
		return "3/" + lower[:1] + "/" + lower
	default:
		return lower[:2] + "/" + lower[2:4] + "/" + lower
	}
}
