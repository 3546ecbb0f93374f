// Package registry implements the registry facade (spec §4.7): the
// sequencing authority for every multi-plane write. It never reaches
// through a global — a Facade is constructed once at startup with its
// three collaborators (metadata store, artifact store, index) and the
// job queue, and every other subsystem reaches the others only through
// the facade or through its own narrow collaborator set (spec §9: avoid
// back-references from workers to the facade).
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/internal/index"
	"github.com/cargoforge/registry/internal/jobqueue"
	"github.com/cargoforge/registry/internal/metadata"
	"github.com/cargoforge/registry/internal/storage"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Facade is the top-level orchestrator. It holds no mutable state of its
// own beyond its three collaborators; every invariant it enforces lives
// either in the metadata transaction or in the index's single-writer lock.
type Facade struct {
	store     *metadata.Store
	artifacts *storage.ArtifactStore
	idx       *index.Index
	jobs      *jobqueue.Queue
}

// New builds a Facade over its collaborators.
func New(store *metadata.Store, artifacts *storage.ArtifactStore, idx *index.Index, jobs *jobqueue.Queue) *Facade {
	return &Facade{store: store, artifacts: artifacts, idx: idx, jobs: jobs}
}

// PublishResult summarizes a successful publish for the HTTP layer.
type PublishResult struct {
	Crate   string
	Version string
	Created bool
}

// PublishCrateVersion runs the canonical 9-step publish sequence (spec
// §4.7). Steps 1-2 and 3 (parse/validate) happen outside any lock; steps
// 4-8 run inside one metadata transaction, with the tarball upload and
// index commit nested inside it so that any failure after they succeed
// rolls the transaction back and best-effort undoes the side effect.
// Step 9 (enqueue) happens strictly after the transaction commits, since
// a job for a version that was never durably published must never exist.
func (f *Facade) PublishCrateVersion(ctx context.Context, tokenID uuid.UUID, secret string, body []byte) (*PublishResult, error) {
	// Step 2: authenticate, verify write capability.
	user, token, err := f.store.Authenticate(ctx, tokenID, secret)
	if err != nil {
		return nil, err
	}
	if !token.HasCapability(types.TokenCapPublish) {
		return nil, apierror.New(apierror.Forbidden, "token lacks publish capability")
	}

	// Step 3: parse and validate the uploaded archive.
	manifest, tarball, err := parsePublishArchive(body)
	if err != nil {
		return nil, err
	}
	if err := metadata.ValidateCrateName(manifest.Name); err != nil {
		return nil, err
	}
	if err := validateManifestDeps(manifest); err != nil {
		return nil, err
	}
	checksum := sha256Hex(tarball)

	var result PublishResult
	var targets []string
	var versionID uuid.UUID

	// The metadata transaction is opened with a context that survives
	// cancellation of the inbound request: once we begin mutating the
	// metadata and index planes together, an aborted publish would leave
	// a committed index line with no matching metadata row, which
	// violates the iff invariant (spec §3, §5 ordering guarantee). The
	// facade therefore treats the whole sequence from here on as the
	// shielded continuation described in spec §5/§9, rather than trying
	// to narrow the shield to the exact post-index-commit window.
	shielded := context.WithoutCancel(ctx)

	err = f.store.WithTransaction(shielded, func(tx *gorm.DB) error {
		crate, created, err := metadata.GetOrCreateCrate(tx, manifest.Name)
		if err != nil {
			return err
		}

		if !created {
			var owned int64
			if err := tx.Model(&types.Ownership{}).
				Where("crate_id = ? AND user_id = ?", crate.ID, user.ID).
				Count(&owned).Error; err != nil {
				return apierror.Wrap(apierror.Internal, "failed to check crate ownership", err)
			}
			if owned == 0 {
				return apierror.New(apierror.Forbidden, "user does not own this crate")
			}
		}

		version, err := metadata.InsertVersion(tx, crate.ID, manifest.Vers, checksum)
		if err != nil {
			return err
		}

		if pkg := extractCargoToml(tarball); pkg != nil {
			updates := map[string]interface{}{
				"description": pkg.Package.Description,
				"license":     pkg.Package.License,
				"authors":     strings.Join(pkg.Package.Authors, "|"),
				"keywords":    strings.Join(pkg.Package.Keywords, "|"),
			}
			if err := tx.Model(version).Updates(updates).Error; err != nil {
				log.Error().Err(err).Str("crate", manifest.Name).Str("version", manifest.Vers).
					Msg("failed to store supplemental Cargo.toml fields")
			}
		}

		if created {
			if err := metadata.EstablishInitialOwnership(tx, crate.ID, user.ID); err != nil {
				return apierror.Wrap(apierror.Internal, "failed to establish initial ownership", err)
			}
		}

		// Step 5: upload the tarball. A failure here returns before any
		// index write, so the only rollback needed is the transaction's.
		if err := f.artifacts.StoreCrate(shielded, manifest.Name, manifest.Vers, newByteReader(tarball)); err != nil {
			return apierror.Wrap(apierror.Internal, "failed to store crate tarball", err)
		}

		// Step 6: append to the index and commit. A failure here must
		// best-effort undo the tarball write before the transaction
		// rollback undoes the metadata insert (spec §4.3 state machine).
		line := buildIndexLine(manifest, checksum)
		if err := f.idx.Publish(shielded, line); err != nil {
			if delErr := f.artifacts.DeleteCrate(shielded, manifest.Name, manifest.Vers); delErr != nil {
				log.Error().Err(delErr).Str("crate", manifest.Name).Str("version", manifest.Vers).
					Msg("failed to roll back tarball after index publish failure")
			}
			return err
		}

		// Step 7: read the crate's current target whitelist.
		targets = splitTargetsList(crate.Targets)

		result = PublishResult{Crate: manifest.Name, Version: manifest.Vers, Created: created}
		versionID = version.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Step 9: enqueue the docs job. Enqueue "failure" in this
	// implementation can only be the queue having been closed during
	// shutdown; either way the version's docs state is left queued for
	// startup recovery to pick up (spec §4.7 step 9, §7 crash recovery).
	if err := f.store.SetDocsQueuedByVersionID(ctx, versionID); err != nil {
		log.Error().Err(err).Str("crate", result.Crate).Str("version", result.Version).
			Msg("failed to mark docs queued after publish")
	}
	f.jobs.Push(jobqueue.JobCrate{Name: result.Crate, Version: result.Version, Targets: targets})

	return &result, nil
}

func splitTargetsList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// GetCrateInfo returns one crate's versions and target list (spec §4.7),
// both read from the metadata store. It does not read the crate's index
// lines or any stored manifest.
func (f *Facade) GetCrateInfo(ctx context.Context, name string) ([]types.Version, []string, error) {
	versions, err := f.store.GetCrateVersions(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	targets, err := f.store.GetCrateTargets(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return versions, targets, nil
}

// GetCrateContent serves a crate tarball, incrementing its download
// counter first (spec §4.7 get_crate_content).
func (f *Facade) GetCrateContent(ctx context.Context, name, version string) ([]byte, error) {
	if err := f.store.IncrementDL(ctx, name, version); err != nil {
		return nil, err
	}
	rc, err := f.artifacts.DownloadCrate(ctx, name, version)
	if err != nil {
		return nil, apierror.Wrap(apierror.NotFound, "crate tarball not found", err)
	}
	defer rc.Close()
	return readAll(rc)
}

// Search delegates to the metadata store's ranked search.
func (f *Facade) Search(ctx context.Context, query string, page, perPage int) ([]metadata.SearchResult, int64, error) {
	return f.store.Search(ctx, query, page, perPage)
}

// GetCratesOutdatedHeads lists every crate whose latest version currently
// flags a dependency advisory (recovered from `original_source`'s
// `application.rs:427`, a registry-wide admin view the spec's Data Model
// implies but never names outright).
func (f *Facade) GetCratesOutdatedHeads(ctx context.Context) ([]types.Crate, error) {
	return f.store.GetCratesOutdatedHeads(ctx)
}

// YankVersion toggles a version's yanked flag in both metadata and the
// index. The two planes are updated in the same order as publish: index
// first, metadata last, so a crash between them always leaves metadata
// behind the index, never ahead of it.
func (f *Facade) YankVersion(ctx context.Context, tokenID uuid.UUID, secret string, name, version string, yanked bool) error {
	_, token, err := f.store.Authenticate(ctx, tokenID, secret)
	if err != nil {
		return err
	}
	if !token.HasCapability(types.TokenCapYank) {
		return apierror.New(apierror.Forbidden, "token lacks yank capability")
	}

	if err := f.idx.Yank(ctx, name, version, yanked); err != nil {
		return err
	}
	return f.store.SetYanked(ctx, name, version, yanked)
}

// AddOwners grants ownership, requiring the caller to already own the
// crate (spec §4.1 add_owners).
func (f *Facade) AddOwners(ctx context.Context, tokenID uuid.UUID, secret, crateName string, userIDs []uuid.UUID) error {
	user, token, err := f.store.Authenticate(ctx, tokenID, secret)
	if err != nil {
		return err
	}
	if !token.HasCapability(types.TokenCapManageOwners) {
		return apierror.New(apierror.Forbidden, "token lacks owner-management capability")
	}
	owner, err := f.store.IsOwner(ctx, crateName, user.ID)
	if err != nil {
		return err
	}
	if !owner {
		return apierror.New(apierror.Forbidden, "user does not own this crate")
	}
	return f.store.AddOwners(ctx, crateName, user.ID, userIDs)
}

// RemoveOwners revokes ownership, refusing to drop the crate below one
// owner (spec §3, §8 property — enforced inside metadata.RemoveOwners).
func (f *Facade) RemoveOwners(ctx context.Context, tokenID uuid.UUID, secret, crateName string, userIDs []uuid.UUID) error {
	user, token, err := f.store.Authenticate(ctx, tokenID, secret)
	if err != nil {
		return err
	}
	if !token.HasCapability(types.TokenCapManageOwners) {
		return apierror.New(apierror.Forbidden, "token lacks owner-management capability")
	}
	owner, err := f.store.IsOwner(ctx, crateName, user.ID)
	if err != nil {
		return err
	}
	if !owner {
		return apierror.New(apierror.Forbidden, "user does not own this crate")
	}
	return f.store.RemoveOwners(ctx, crateName, userIDs)
}

// GetOwners lists a crate's current owners.
func (f *Facade) GetOwners(ctx context.Context, crateName string) ([]types.Ownership, error) {
	return f.store.GetOwners(ctx, crateName)
}

// RegenCrateVersionDoc force-requeues documentation for one version and
// re-enqueues the job, bypassing the terminal failed/done state (spec
// §4.7 regen_crate_version_doc).
func (f *Facade) RegenCrateVersionDoc(ctx context.Context, crateName, number string) error {
	version, err := f.store.RegenCrateVersionDoc(ctx, crateName, number)
	if err != nil {
		return err
	}
	targets, err := f.store.GetCrateTargets(ctx, crateName)
	if err != nil {
		return err
	}
	f.jobs.Push(jobqueue.JobCrate{Name: crateName, Version: number, Targets: targets})
	_ = version
	return nil
}

// CheckCrateVersionDeps returns the last-recorded dependency/vulnerability
// check result for one version (spec §4.7 check_crate_version_deps). The
// scan itself is the deps worker's job; this is a read of its last result
// (spec §4.6: deps results are an eventual-consistency signal).
func (f *Facade) CheckCrateVersionDeps(ctx context.Context, crateName, number string) (types.DepsCheckStatus, string, error) {
	versions, err := f.store.GetCrateVersions(ctx, crateName)
	if err != nil {
		return "", "", err
	}
	for _, v := range versions {
		if v.Number == number {
			return v.DepsCheckStatus, v.DepsCheckSummary, nil
		}
	}
	return "", "", apierror.New(apierror.NotFound, fmt.Sprintf("version %s not found", number))
}

// RecoverUndocumented re-enqueues every version whose docs state is none,
// queued or building (not done or failed), used once at startup (spec
// §4.7, §7 crash recovery).
func (f *Facade) RecoverUndocumented(ctx context.Context) (int, error) {
	versions, err := f.store.GetUndocumentedCrates(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, v := range versions {
		crateName, err := f.store.CrateNameOf(ctx, v.CrateID)
		if err != nil {
			log.Error().Err(err).Str("version_id", v.ID.String()).Msg("failed to resolve crate name for recovery")
			continue
		}
		targets, err := f.store.GetCrateTargets(ctx, crateName)
		if err != nil {
			log.Error().Err(err).Str("crate", crateName).Msg("failed to load targets for recovery")
			continue
		}
		if err := f.store.SetDocsQueuedByVersionID(ctx, v.ID); err != nil {
			log.Error().Err(err).Str("crate", crateName).Msg("failed to queue docs during recovery")
			continue
		}
		f.jobs.Push(jobqueue.JobCrate{Name: crateName, Version: v.Number, Targets: targets})
		count++
	}
	log.Info().Int("count", count).Msg("recovered undocumented versions at startup")
	return count, nil
}
