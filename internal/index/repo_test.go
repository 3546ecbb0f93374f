package index

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cargoforge/registry/pkg/types"
	"github.com/stretchr/testify/require"
)

func setupTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(Config{
		Root:         t.TempDir(),
		AuthorName:   "registry-bot",
		AuthorEmail:  "registry-bot@localhost",
		Branch:       "master",
		DownloadBase: "http://localhost/api/v1/crates",
		APIBase:      "http://localhost",
	})
	require.NoError(t, err)
	return idx
}

func TestOpenCreatesConfigJSON(t *testing.T) {
	idx := setupTestIndex(t)
	data, err := idx.ConfigJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), "\"dl\"")
}

func TestPublishAppendsAndCommits(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	line := types.IndexLine{Name: "foo", Vers: "0.1.0", Cksum: "abc", V: 2}
	require.NoError(t, idx.Publish(ctx, line))

	data, ok, err := idx.ReadFile(ShardPath("foo"))
	require.NoError(t, err)
	require.True(t, ok)

	var decoded types.IndexLine
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &decoded))
	require.Equal(t, "foo", decoded.Name)
	require.False(t, decoded.Yanked)

	head1, err := idx.HeadHash()
	require.NoError(t, err)

	// A second version appends a second line and a second commit.
	require.NoError(t, idx.Publish(ctx, types.IndexLine{Name: "foo", Vers: "0.2.0", Cksum: "def", V: 2}))
	head2, err := idx.HeadHash()
	require.NoError(t, err)
	require.NotEqual(t, head1, head2)
}

func TestYankIsIdempotentAndPreservesOtherLines(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Publish(ctx, types.IndexLine{Name: "foo", Vers: "0.1.0", Cksum: "a", V: 2}))
	require.NoError(t, idx.Publish(ctx, types.IndexLine{Name: "foo", Vers: "0.2.0", Cksum: "b", V: 2}))

	require.NoError(t, idx.Yank(ctx, "foo", "0.1.0", true))
	require.NoError(t, idx.Yank(ctx, "foo", "0.1.0", true)) // idempotent

	data, ok, err := idx.ReadFile(ShardPath("foo"))
	require.NoError(t, err)
	require.True(t, ok)

	lines := decodeLines(t, data)
	require.Len(t, lines, 2)
	require.True(t, lines[0].Yanked)
	require.False(t, lines[1].Yanked)

	require.NoError(t, idx.Yank(ctx, "foo", "0.1.0", false))
	lines = decodeLines(t, mustReread(t, idx, "foo"))
	require.False(t, lines[0].Yanked)
}

func TestYankUnknownVersionFails(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Publish(ctx, types.IndexLine{Name: "foo", Vers: "0.1.0", Cksum: "a", V: 2}))

	err := idx.Yank(ctx, "foo", "9.9.9", true)
	require.Error(t, err)
}

func decodeLines(t *testing.T, data []byte) []types.IndexLine {
	t.Helper()
	var out []types.IndexLine
	start := 0
	for i, b := range data {
		if b == '\n' {
			var l types.IndexLine
			require.NoError(t, json.Unmarshal(data[start:i], &l))
			out = append(out, l)
			start = i + 1
		}
	}
	return out
}

func mustReread(t *testing.T, idx *Index, name string) []byte {
	t.Helper()
	data, _, err := idx.ReadFile(ShardPath(name))
	require.NoError(t, err)
	return data
}
