package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardPathConvention(t *testing.T) {
	assert.Equal(t, "1/a", ShardPath("a"))
	assert.Equal(t, "2/ab", ShardPath("ab"))
	assert.Equal(t, "3/a/abc", ShardPath("abc"))
	assert.Equal(t, "ab/cd/abcd", ShardPath("abcd"))
	assert.Equal(t, "se/rd/serde", ShardPath("serde"))
}

func TestShardPathIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, ShardPath("Foo"), ShardPath("foo"))
}

// TestShardPathPurity is the §9 Open Question property test: two distinct
// crate names must never collide on the same shard file unless cargo's own
// sharding rule says they should (i.e. unless they are equal once
// lower-cased). A collision here would make the yank rewrite's "find this
// version's line within this shard file" step unsafe.
func TestShardPathPurity(t *testing.T) {
	names := []string{
		"a", "b", "ab", "ba", "abc", "abd", "cba",
		"serde", "tokio", "rand", "libc", "clap",
		"a1", "a2", "aa11", "bb22",
	}

	for _, n1 := range names {
		for _, n2 := range names {
			if ShardPath(n1) == ShardPath(n2) {
				assert.Equal(t, normalizedEqual(n1, n2), true,
					"%q and %q collided on shard %q without being the same name", n1, n2, ShardPath(n1))
			}
		}
	}
}

func normalizedEqual(a, b string) bool {
	return toLower(a) == toLower(b)
}

func toLower(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + ('a' - 'A')
		}
	}
	return string(out)
}
