package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
)

// CommandExecutor runs an external command and captures its stdout. It
// exists so tests can substitute a fake without invoking a real git binary
// — the same seam davetashner-stringer's internal/gitcli package uses for
// its blame commands.
type CommandExecutor interface {
	Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, error)
}

type execCommandExecutor struct{}

func (execCommandExecutor) Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %v: %w (stderr: %s)", name, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

var executor CommandExecutor = execCommandExecutor{}

// SetExecutor overrides the package-level command executor, for tests.
func SetExecutor(e CommandExecutor) {
	executor = e
}

// pktLine encodes a single pkt-line per the git smart HTTP protocol: a
// 4-hex-digit length prefix (including itself) followed by the payload.
func pktLine(payload string) []byte {
	length := len(payload) + 4
	return []byte(fmt.Sprintf("%04x%s", length, payload))
}

// flushPkt is the git pkt-line "end of section" marker.
var flushPkt = []byte("0000")

// AdvertiseUploadPack renders the info/refs?service=git-upload-pack
// response body: a pkt-line service announcement and flush packet,
// followed by git's own ref advertisement, making the response
// byte-compatible with a real git client (spec §6, §9).
func (i *Index) AdvertiseUploadPack(ctx context.Context) ([]byte, error) {
	out, err := executor.Run(ctx, i.cfg.Root, nil,
		"git", "upload-pack", "--stateless-rpc", "--advertise-refs", ".")
	if err != nil {
		return nil, fmt.Errorf("failed to advertise refs: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(pktLine("# service=git-upload-pack\n"))
	buf.Write(flushPkt)
	buf.Write(out)
	return buf.Bytes(), nil
}

// UploadPack runs the negotiation phase of git-upload-pack, feeding the
// client's request body (want/have lines) as stdin and returning git's
// packfile response verbatim.
func (i *Index) UploadPack(ctx context.Context, body io.Reader) ([]byte, error) {
	out, err := executor.Run(ctx, i.cfg.Root, body,
		"git", "upload-pack", "--stateless-rpc", ".")
	if err != nil {
		return nil, fmt.Errorf("failed to run upload-pack: %w", err)
	}
	return out, nil
}
