// Package index implements the git-backed crate index (spec §4.3): local
// file access, the sparse HTTP protocol, and Git Smart HTTP (upload-pack
// only — this registry never accepts a push through the index).
package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Config configures the index's on-disk git repository.
type Config struct {
	Root          string
	AuthorName    string
	AuthorEmail   string
	Branch        string
	AllowGit      bool
	AllowSparse   bool
	DownloadBase  string
	APIBase       string
	RegistryTitle string
}

// Index is the single in-process owner of the index's working tree and git
// history. Every write (publish, yank) is serialized through writerSem, a
// single-slot semaphore (spec §5) — readers take no lock, since a shard
// file read is never observed mid-write (writes are append or atomic
// rewrite, never a partial truncate).
type Index struct {
	cfg       Config
	repo      *git.Repository
	fs        billy.Filesystem
	writerSem *semaphore.Weighted
}

// Open opens (or, on first run, initializes) the index's git repository at
// cfg.Root and ensures config.json exists. File I/O against the working
// tree goes through a billy.Filesystem rather than the os package directly
// (the same seam google/oss-rebuild's cratesio index manager uses), so the
// working-tree reads/writes and the git plumbing agree on one root.
func Open(cfg Config) (*Index, error) {
	fs := osfs.New(cfg.Root)
	if err := fs.MkdirAll(".", 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index root: %w", err)
	}

	repo, err := git.PlainOpen(cfg.Root)
	if err != nil {
		repo, err = git.PlainInit(cfg.Root, false)
		if err != nil {
			return nil, fmt.Errorf("failed to init index repository: %w", err)
		}
	}

	idx := &Index{cfg: cfg, repo: repo, fs: fs, writerSem: semaphore.NewWeighted(1)}

	if err := idx.ensureConfigJSON(); err != nil {
		return nil, err
	}

	log.Info().Str("root", cfg.Root).Msg("index repository opened")
	return idx, nil
}

const configJSONRelPath = "config.json"

// configDoc is the index's always-served config.json (spec §4.3).
type configDoc struct {
	DL  string `json:"dl"`
	API string `json:"api"`
}

// readBillyFile reads relPath through the index's billy.Filesystem,
// reporting (nil, false, nil) when the file does not exist.
func readBillyFile(fs billy.Filesystem, relPath string) ([]byte, bool, error) {
	f, err := fs.Open(relPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// writeBillyFile atomically replaces relPath's contents via a temp-then-rename
// pair on the same billy.Filesystem, creating parent directories as needed.
func writeBillyFile(fs billy.Filesystem, relPath string, data []byte) error {
	if dir := filepath.Dir(relPath); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := relPath + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp, relPath)
}

func (i *Index) ensureConfigJSON() error {
	doc := configDoc{DL: i.cfg.DownloadBase, API: i.cfg.APIBase}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config.json: %w", err)
	}
	data = append(data, '\n')

	existing, found, err := readBillyFile(i.fs, configJSONRelPath)
	if err == nil && found && bytes.Equal(existing, data) {
		return nil
	}

	if err := writeBillyFile(i.fs, configJSONRelPath, data); err != nil {
		return fmt.Errorf("failed to write config.json: %w", err)
	}

	return i.commitPaths(context.Background(), "update config.json", configJSONRelPath)
}

// ConfigJSON returns the always-served config.json bytes.
func (i *Index) ConfigJSON() ([]byte, error) {
	data, _, err := readBillyFile(i.fs, configJSONRelPath)
	return data, err
}

// ReadFile returns the bytes at a path relative to the index root, used by
// the sparse HTTP surface (spec §4.3) and by the deps worker to load a
// crate's index lines.
func (i *Index) ReadFile(relPath string) ([]byte, bool, error) {
	data, found, err := readBillyFile(i.fs, relPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read index file %q: %w", relPath, err)
	}
	return data, found, nil
}

// Publish appends one JSON line to the shard file for line.Name and commits
// the result (spec §4.3 publish algorithm). The write is a single
// lock-append-commit-unlock cycle: the "Idle -> Staged -> Committed ->
// Idle" state machine is realized here as the semaphore's critical section,
// with Staged being the interval between the append and the commit.
func (i *Index) Publish(ctx context.Context, line types.IndexLine) error {
	if err := i.writerSem.Acquire(ctx, 1); err != nil {
		return apierror.Wrap(apierror.Internal, "failed to acquire index writer lock", err)
	}
	defer i.writerSem.Release(1)

	rel := ShardPath(line.Name)

	encoded, err := json.Marshal(line)
	if err != nil {
		return apierror.Wrap(apierror.Internal, "failed to encode index line", err)
	}

	if dir := filepath.Dir(rel); dir != "." {
		if err := i.fs.MkdirAll(dir, 0o755); err != nil {
			return apierror.Wrap(apierror.Internal, "failed to create shard directory", err)
		}
	}

	f, err := i.fs.OpenFile(rel, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apierror.Wrap(apierror.Internal, "failed to open shard file", err)
	}
	if _, err := f.Write(append(encoded, '\n')); err != nil {
		f.Close()
		return apierror.Wrap(apierror.Internal, "failed to append index line", err)
	}
	if err := f.Close(); err != nil {
		return apierror.Wrap(apierror.Internal, "failed to close shard file", err)
	}

	msg := fmt.Sprintf("publish %s %s", line.Name, line.Vers)
	if err := i.commitPaths(ctx, msg, rel); err != nil {
		// Revert the staged append so Idle means Idle (spec §4.3 state machine).
		i.revertPath(rel)
		return err
	}

	return nil
}

// Yank rewrites the yanked flag in place for one (name, version) line and
// commits the result (spec §4.3 yank algorithm). The in-place rewrite is
// safe only because ShardPath is pure and every line in a shard file is
// independently addressed by (name, version) — see shard_test.go.
func (i *Index) Yank(ctx context.Context, name, version string, yanked bool) error {
	if err := i.writerSem.Acquire(ctx, 1); err != nil {
		return apierror.Wrap(apierror.Internal, "failed to acquire index writer lock", err)
	}
	defer i.writerSem.Release(1)

	rel := ShardPath(name)

	original, found, err := readBillyFile(i.fs, rel)
	if err != nil || !found {
		return apierror.Wrap(apierror.NotFound, "crate has no index entry", err)
	}

	rewritten, lineFound, err := rewriteYankedFlag(original, name, version, yanked)
	if err != nil {
		return apierror.Wrap(apierror.Internal, "failed to rewrite index line", err)
	}
	if !lineFound {
		return apierror.New(apierror.NotFound, fmt.Sprintf("version %s of %s not found in index", version, name))
	}

	if err := writeBillyFile(i.fs, rel, rewritten); err != nil {
		return apierror.Wrap(apierror.Internal, "failed to commit index rewrite", err)
	}

	verb := "yank"
	if !yanked {
		verb = "unyank"
	}
	msg := fmt.Sprintf("%s %s %s", verb, name, version)
	if err := i.commitPaths(ctx, msg, rel); err != nil {
		i.revertPath(rel)
		return err
	}

	return nil
}

func rewriteYankedFlag(original []byte, name, version string, yanked bool) ([]byte, bool, error) {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(original))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	found := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var entry types.IndexLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, false, fmt.Errorf("failed to parse index line: %w", err)
		}

		if entry.Name == name && entry.Vers == version {
			entry.Yanked = yanked
			found = true
			reencoded, err := json.Marshal(entry)
			if err != nil {
				return nil, false, fmt.Errorf("failed to re-encode index line: %w", err)
			}
			out.Write(reencoded)
		} else {
			out.Write(line)
		}
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to scan index shard: %w", err)
	}

	return out.Bytes(), found, nil
}

// commitPaths stages the given index-relative paths and commits them with a
// deterministic author (spec §3 IndexCommit), producing a linear,
// single-branch history.
func (i *Index) commitPaths(ctx context.Context, message string, paths ...string) error {
	wt, err := i.repo.Worktree()
	if err != nil {
		return apierror.Wrap(apierror.Internal, "failed to open index worktree", err)
	}

	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			return apierror.Wrap(apierror.Internal, fmt.Sprintf("failed to stage %s", p), err)
		}
	}

	sig := &object.Signature{
		Name:  i.cfg.AuthorName,
		Email: i.cfg.AuthorEmail,
		When:  time.Now(),
	}

	_, err = wt.Commit(message, &git.CommitOptions{
		Author:    sig,
		Committer: sig,
	})
	if err != nil {
		return apierror.Wrap(apierror.Internal, "failed to commit index change", err)
	}

	log.Info().Str("message", message).Msg("index commit created")
	return nil
}

// revertPath discards an uncommitted working-tree change to path, used when
// a staged append/rewrite fails to commit (spec §4.3: Idle on failure).
func (i *Index) revertPath(path string) {
	wt, err := i.repo.Worktree()
	if err != nil {
		log.Error().Err(err).Msg("failed to open worktree for revert")
		return
	}
	if err := wt.Checkout(&git.CheckoutOptions{Force: true}); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to revert staged index change")
	}
}

// HeadHash returns the index branch's current commit hash.
func (i *Index) HeadHash() (string, error) {
	ref, err := i.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read index HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}
