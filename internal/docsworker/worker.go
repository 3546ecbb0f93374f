// Package docsworker implements the single long-lived documentation
// build consumer (spec §4.5). It only ever talks to the job queue, the
// metadata store and the artifact store — never back to the facade
// (spec §9: avoid back-references from workers to the facade).
package docsworker

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cargoforge/registry/internal/jobqueue"
	"github.com/cargoforge/registry/internal/metadata"
	"github.com/cargoforge/registry/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Builder is the opaque external collaborator that renders documentation
// for one crate version and target (spec §1: "the actual build of
// documentation" is out of core scope; the core only schedules and
// records results). It returns the rendered tree as a set of
// relative-path -> content pairs.
type Builder interface {
	Build(ctx context.Context, crateName, version, target string) (map[string][]byte, error)
}

// Worker consumes jobqueue.JobCrate entries one at a time and drives each
// through the docs state machine (spec §4.5).
type Worker struct {
	jobs       *jobqueue.Queue
	store      *metadata.Store
	artifacts  *storage.ArtifactStore
	builder    Builder
	maxRetries int
}

// New constructs a Worker. maxRetries bounds per-version retry attempts
// (spec §4.5: "bounded at 3").
func New(jobs *jobqueue.Queue, store *metadata.Store, artifacts *storage.ArtifactStore, builder Builder, maxRetries int) *Worker {
	return &Worker{jobs: jobs, store: store, artifacts: artifacts, builder: builder, maxRetries: maxRetries}
}

// Run drains the queue until it is closed, processing jobs strictly
// serially (spec §4.5: "single long-lived cooperative task").
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ok := w.jobs.Pop()
		if !ok {
			log.Info().Msg("docs worker stopping: queue closed")
			return
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job jobqueue.JobCrate) {
	versionID, err := w.resolveVersionID(ctx, job.Name, job.Version)
	if err != nil {
		log.Error().Err(err).Str("crate", job.Name).Str("version", job.Version).
			Msg("docs worker: failed to resolve version")
		return
	}

	if err := w.store.SetDocsBuilding(ctx, versionID); err != nil {
		log.Error().Err(err).Str("crate", job.Name).Msg("docs worker: failed to mark building")
		return
	}

	if err := w.buildAllTargets(ctx, job); err != nil {
		attempts, incErr := w.store.IncrementDocsAttempt(ctx, versionID)
		if incErr != nil {
			log.Error().Err(incErr).Msg("docs worker: failed to bump retry counter")
			return
		}
		if attempts >= w.maxRetries {
			if failErr := w.store.SetDocsFailed(ctx, versionID, err.Error()); failErr != nil {
				log.Error().Err(failErr).Msg("docs worker: failed to mark failed")
			}
			log.Error().Err(err).Str("crate", job.Name).Str("version", job.Version).
				Int("attempts", attempts).Msg("docs build permanently failed")
			return
		}
		log.Warn().Err(err).Str("crate", job.Name).Int("attempt", attempts).
			Msg("docs build failed, will retry on next regen")
		return
	}

	if err := w.store.SetDocsDone(ctx, versionID); err != nil {
		log.Error().Err(err).Str("crate", job.Name).Msg("docs worker: failed to mark done")
	}
}

// buildAllTargets fans out one Builder invocation per target concurrently
// (grounded on the pack's errgroup-based concurrent-collector pattern),
// uploading each target's tree independently so a partial failure in one
// target doesn't discard the others' completed uploads.
func (w *Worker) buildAllTargets(ctx context.Context, job jobqueue.JobCrate) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range job.Targets {
		target := target
		g.Go(func() error {
			tree, err := w.builder.Build(gctx, job.Name, job.Version, target)
			if err != nil {
				return fmt.Errorf("build failed for target %s: %w", target, err)
			}
			for file, content := range tree {
				if err := w.artifacts.StoreDocTree(gctx, job.Name, job.Version, target, file, bytesReader(content)); err != nil {
					return fmt.Errorf("failed to upload %s/%s: %w", target, file, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) resolveVersionID(ctx context.Context, crateName, number string) (uuid.UUID, error) {
	versions, err := w.store.GetCrateVersions(ctx, crateName)
	if err != nil {
		return uuid.Nil, err
	}
	for _, v := range versions {
		if v.Number == number {
			return v.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("version %s of %s not found", number, crateName)
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
