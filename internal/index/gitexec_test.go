package index

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	lastArgs  []string
	lastStdin []byte
	output    []byte
}

func (f *fakeExecutor) Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, error) {
	f.lastArgs = args
	if stdin != nil {
		f.lastStdin, _ = io.ReadAll(stdin)
	}
	return f.output, nil
}

func TestAdvertiseUploadPackWrapsServiceAnnouncement(t *testing.T) {
	fake := &fakeExecutor{output: []byte("0032want-line\n0000")}
	SetExecutor(fake)
	defer SetExecutor(execCommandExecutor{})

	idx := &Index{cfg: Config{Root: t.TempDir()}}
	out, err := idx.AdvertiseUploadPack(context.Background())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out, pktLine("# service=git-upload-pack\n")))
	assert.Contains(t, string(out), "want-line")
	assert.Equal(t, []string{"upload-pack", "--stateless-rpc", "--advertise-refs", "."}, fake.lastArgs)
}

func TestUploadPackForwardsRequestBody(t *testing.T) {
	fake := &fakeExecutor{output: []byte("PACK-bytes")}
	SetExecutor(fake)
	defer SetExecutor(execCommandExecutor{})

	idx := &Index{cfg: Config{Root: t.TempDir()}}
	out, err := idx.UploadPack(context.Background(), bytes.NewReader([]byte("0032want abc\n00000009done\n")))
	require.NoError(t, err)

	assert.Equal(t, "PACK-bytes", string(out))
	assert.Contains(t, string(fake.lastStdin), "want abc")
}
