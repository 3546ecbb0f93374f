package metadata

import (
	"context"
	"time"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/google/uuid"
)

// SetDocsQueuedByVersionID resets a version to the queued docs state with a
// fresh retry budget. Used both by the facade's post-publish enqueue and by
// RegenCrateVersionDoc (spec §4.5, §4.1 regen operation).
func (s *Store) SetDocsQueuedByVersionID(ctx context.Context, versionID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&types.Version{}).Where("id = ?", versionID).
		Updates(map[string]interface{}{"docs_status": types.DocsQueued, "docs_attempts": 0, "docs_reason": ""})
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to queue docs build", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierror.New(apierror.NotFound, "version not found")
	}
	return nil
}

// SetDocsBuilding transitions a version into the building state.
func (s *Store) SetDocsBuilding(ctx context.Context, versionID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&types.Version{}).Where("id = ?", versionID).
		Update("docs_status", types.DocsBuilding)
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to mark docs building", res.Error)
	}
	return nil
}

// SetDocsDone marks a version's docs build complete (terminal state).
func (s *Store) SetDocsDone(ctx context.Context, versionID uuid.UUID) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&types.Version{}).Where("id = ?", versionID).
		Updates(map[string]interface{}{"docs_status": types.DocsDone, "docs_at": now})
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to mark docs done", res.Error)
	}
	return nil
}

// IncrementDocsAttempt bumps the retry counter, returning the new count so
// the docs worker can compare it against its max-retries bound (spec §4.5:
// 3-retry bound).
func (s *Store) IncrementDocsAttempt(ctx context.Context, versionID uuid.UUID) (int, error) {
	var version types.Version
	if err := s.db.WithContext(ctx).Where("id = ?", versionID).First(&version).Error; err != nil {
		return 0, wrapNotFound(err, "version")
	}
	version.DocsAttempts++
	if err := s.db.WithContext(ctx).Model(&types.Version{}).Where("id = ?", versionID).
		Update("docs_attempts", version.DocsAttempts).Error; err != nil {
		return 0, apierror.Wrap(apierror.Internal, "failed to bump docs retry count", err)
	}
	return version.DocsAttempts, nil
}

// SetDocsFailed marks a version's docs build permanently failed (terminal
// state; spec §4.5: requires an explicit regen call to retry).
func (s *Store) SetDocsFailed(ctx context.Context, versionID uuid.UUID, reason string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&types.Version{}).Where("id = ?", versionID).
		Updates(map[string]interface{}{"docs_status": types.DocsFailed, "docs_at": now, "docs_reason": reason})
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to mark docs failed", res.Error)
	}
	return nil
}

// RegenCrateVersionDoc force-rebuilds documentation for one version,
// regardless of its current terminal state (spec §4.1 regen operation;
// supplemental, from original_source).
func (s *Store) RegenCrateVersionDoc(ctx context.Context, crateName, number string) (*types.Version, error) {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return nil, wrapNotFound(err, "crate")
	}

	var version types.Version
	if err := s.db.WithContext(ctx).Where("crate_id = ? AND number = ?", crate.ID, number).First(&version).Error; err != nil {
		return nil, wrapNotFound(err, "version")
	}

	if err := s.SetDocsQueuedByVersionID(ctx, version.ID); err != nil {
		return nil, err
	}
	version.DocsStatus = types.DocsQueued
	version.DocsAttempts = 0
	return &version, nil
}

// SetDepsCheckOK records a clean dependency/vulnerability scan result.
func (s *Store) SetDepsCheckOK(ctx context.Context, versionID uuid.UUID) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&types.Version{}).Where("id = ?", versionID).
		Updates(map[string]interface{}{"deps_check_status": types.DepsCheckOK, "deps_check_at": now, "deps_check_summary": ""})
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to record deps check result", res.Error)
	}
	return nil
}

// SetDepsCheckIssues records a flagged dependency/vulnerability scan
// result along with a human-readable summary.
func (s *Store) SetDepsCheckIssues(ctx context.Context, versionID uuid.UUID, summary string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&types.Version{}).Where("id = ?", versionID).
		Updates(map[string]interface{}{"deps_check_status": types.DepsCheckIssues, "deps_check_at": now, "deps_check_summary": summary})
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to record deps check issues", res.Error)
	}
	return nil
}

// GetStaleOrPendingVersions returns versions whose dependency check is
// still pending or was last run before `before` — the deps worker's
// per-tick rescan set (spec §4.6).
func (s *Store) GetStaleOrPendingVersions(ctx context.Context, before time.Time) ([]types.Version, error) {
	var versions []types.Version
	err := s.db.WithContext(ctx).
		Where("deps_check_status = ?", types.DepsCheckPending).
		Or("deps_check_at IS NOT NULL AND deps_check_at < ?", before).
		Find(&versions).Error
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to list stale versions", err)
	}
	return versions, nil
}
