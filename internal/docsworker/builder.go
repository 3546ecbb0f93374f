package docsworker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ShellBuilder is the in-repo demonstration implementation of Builder: it
// shells out to an external command and collects the regular files left at
// the top level of a scratch directory. Invoking an actual `rustdoc`-shaped toolchain is out
// of scope for the core registry (spec §1); this exists only to show the
// collaborator contract a real implementation would satisfy.
type ShellBuilder struct {
	// Command is the executable to run, given crate/version/target as
	// trailing arguments followed by the scratch output directory.
	Command string
	Timeout time.Duration
}

// NewShellBuilder returns a ShellBuilder invoking command with a default
// 5-minute timeout.
func NewShellBuilder(command string) *ShellBuilder {
	return &ShellBuilder{Command: command, Timeout: 5 * time.Minute}
}

// Build runs the configured command against a fresh scratch directory and
// reads back the files at the top level of that directory as the doc tree.
// Subdirectories, and any files inside them, are not collected.
func (b *ShellBuilder) Build(ctx context.Context, crateName, version, target string) (map[string][]byte, error) {
	scratch, err := os.MkdirTemp("", "docbuild-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	runCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, b.Command, crateName, version, target, scratch)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("doc build command failed: %w: %s", err, stderr.String())
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return nil, fmt.Errorf("failed to read scratch dir: %w", err)
	}

	files := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(scratch + "/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read built doc file %s: %w", entry.Name(), err)
		}
		files[entry.Name()] = data
	}
	return files, nil
}
