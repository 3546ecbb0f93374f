package metadata

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/cargoforge/registry/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// crateNamePattern enforces cargo's identifier grammar restricted to
// lowercase: lowercase ASCII letters, digits, hyphens and underscores,
// starting with a letter (spec §3 Crate).
var crateNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// MaxCrateNameLength is the boundary spec §8 tests directly (64 ok, 65 fail).
const MaxCrateNameLength = 64

// ValidateCrateName checks the cargo grammar and length boundary.
func ValidateCrateName(name string) error {
	if len(name) == 0 || len(name) > MaxCrateNameLength {
		return apierror.New(apierror.InvalidRequest, "crate name length must be between 1 and 64 characters")
	}
	if !crateNamePattern.MatchString(name) {
		return apierror.New(apierror.InvalidRequest, "crate name must match [a-z][a-z0-9_-]*")
	}
	return nil
}

// DefaultTargets is the whitelist subset assigned to a newly published
// crate unless narrowed explicitly (spec §3 Crate, §4.6 `self_builtin_targets`).
var DefaultTargets = []string{
	"x86_64-unknown-linux-gnu",
	"x86_64-apple-darwin",
	"x86_64-pc-windows-msvc",
	"aarch64-unknown-linux-gnu",
	"aarch64-apple-darwin",
}

func joinTargets(targets []string) string { return strings.Join(targets, ",") }
func splitTargets(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// ValidateTargets rejects anything outside DefaultTargets (spec §4.7
// targets get/set validates against the builtin whitelist).
func ValidateTargets(targets []string) error {
	allowed := make(map[string]bool, len(DefaultTargets))
	for _, t := range DefaultTargets {
		allowed[t] = true
	}
	for _, t := range targets {
		if !allowed[t] {
			return apierror.New(apierror.InvalidRequest, fmt.Sprintf("unsupported target: %s", t))
		}
	}
	return nil
}

// GetOrCreateCrate loads a crate by name within tx, creating it (with the
// default target whitelist) if it doesn't yet exist. Called from inside
// the facade's publish transaction (spec §4.7 step 4).
func GetOrCreateCrate(tx *gorm.DB, name string) (*types.Crate, bool, error) {
	var crate types.Crate
	err := tx.Where("name = ?", name).First(&crate).Error
	if err == nil {
		return &crate, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, apierror.Wrap(apierror.Internal, "failed to look up crate", err)
	}

	crate = types.Crate{Name: name, Targets: joinTargets(DefaultTargets)}
	if err := tx.Create(&crate).Error; err != nil {
		return nil, false, apierror.Wrap(apierror.Internal, "failed to create crate", err)
	}
	return &crate, true, nil
}

// InsertVersion inserts a new (crate, version) row within tx, returning
// AlreadyExists if the pair is already present (spec §3 invariant: unique
// semver per crate; spec §8 concurrent-same-version property).
func InsertVersion(tx *gorm.DB, crateID uuid.UUID, number, checksum string) (*types.Version, error) {
	if !utils.IsValidCargoVersion(number) {
		return nil, apierror.New(apierror.InvalidRequest, "version must be a full semver triple")
	}

	var existing types.Version
	err := tx.Where("crate_id = ? AND number = ?", crateID, number).First(&existing).Error
	if err == nil {
		return nil, apierror.New(apierror.AlreadyExists, fmt.Sprintf("version %s already published", number))
	}
	if err != gorm.ErrRecordNotFound {
		return nil, apierror.Wrap(apierror.Internal, "failed to check existing version", err)
	}

	version := &types.Version{
		CrateID:         crateID,
		Number:          number,
		Checksum:        checksum,
		UploadedAt:      time.Now(),
		DepsCheckStatus: types.DepsCheckPending,
		DocsStatus:      types.DocsNone,
	}
	if err := tx.Create(version).Error; err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to insert version", err)
	}
	return version, nil
}

// GetCrateVersions returns every version of a crate, oldest first.
func (s *Store) GetCrateVersions(ctx context.Context, crateName string) ([]types.Version, error) {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return nil, wrapNotFound(err, "crate")
	}

	var versions []types.Version
	if err := s.db.WithContext(ctx).Where("crate_id = ?", crate.ID).Order("uploaded_at asc").Find(&versions).Error; err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to list versions", err)
	}
	return versions, nil
}

// GetCrateTargets returns a crate's target whitelist subset.
func (s *Store) GetCrateTargets(ctx context.Context, crateName string) ([]string, error) {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return nil, wrapNotFound(err, "crate")
	}
	return splitTargets(crate.Targets), nil
}

// SetCrateTargets overwrites a crate's target whitelist subset.
func (s *Store) SetCrateTargets(ctx context.Context, crateName string, targets []string) error {
	if err := ValidateTargets(targets); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&types.Crate{}).Where("name = ?", crateName).
		Update("targets", joinTargets(targets))
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to update targets", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierror.New(apierror.NotFound, "crate not found")
	}
	return nil
}

// SetYanked flips a version's yanked flag. Idempotent (spec §8 yank/unyank
// idempotency property).
func (s *Store) SetYanked(ctx context.Context, crateName, number string, yanked bool) error {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return wrapNotFound(err, "crate")
	}

	res := s.db.WithContext(ctx).Model(&types.Version{}).
		Where("crate_id = ? AND number = ?", crate.ID, number).
		Update("yanked", yanked)
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to update yanked flag", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierror.New(apierror.NotFound, "version not found")
	}
	return nil
}

// IncrementDL bumps both the crate-wide and version-specific download
// counters (spec §3: monotone download counters).
func (s *Store) IncrementDL(ctx context.Context, crateName, number string) error {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return wrapNotFound(err, "crate")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&types.Crate{}).Where("id = ?", crate.ID).
			UpdateColumn("download_count", gorm.Expr("download_count + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&types.Version{}).Where("crate_id = ? AND number = ?", crate.ID, number).
			UpdateColumn("download_count", gorm.Expr("download_count + 1")).Error
	})
}

// GetCrateDLStats returns the crate-wide and per-version download counts.
func (s *Store) GetCrateDLStats(ctx context.Context, crateName string) (total int64, byVersion map[string]int64, err error) {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return 0, nil, wrapNotFound(err, "crate")
	}

	var versions []types.Version
	if err := s.db.WithContext(ctx).Where("crate_id = ?", crate.ID).Find(&versions).Error; err != nil {
		return 0, nil, apierror.Wrap(apierror.Internal, "failed to load versions", err)
	}

	byVersion = make(map[string]int64, len(versions))
	for _, v := range versions {
		byVersion[v.Number] = v.DownloadCount
	}
	return crate.DownloadCount, byVersion, nil
}

// GetCratesStats returns registry-wide totals: crate count, version count,
// and total downloads.
func (s *Store) GetCratesStats(ctx context.Context) (crateCount, versionCount int64, totalDownloads int64, err error) {
	if err := s.db.WithContext(ctx).Model(&types.Crate{}).Count(&crateCount).Error; err != nil {
		return 0, 0, 0, apierror.Wrap(apierror.Internal, "failed to count crates", err)
	}
	if err := s.db.WithContext(ctx).Model(&types.Version{}).Count(&versionCount).Error; err != nil {
		return 0, 0, 0, apierror.Wrap(apierror.Internal, "failed to count versions", err)
	}
	var sum struct{ Total int64 }
	if err := s.db.WithContext(ctx).Model(&types.Crate{}).Select("COALESCE(SUM(download_count), 0) as total").Scan(&sum).Error; err != nil {
		return 0, 0, 0, apierror.Wrap(apierror.Internal, "failed to sum downloads", err)
	}
	return crateCount, versionCount, sum.Total, nil
}

// GetCratesOutdatedHeads returns crates whose latest version's
// dependency/vulnerability check flagged an issue (supplemental, recovered
// from original_source's `get_crates_outdated_heads` / `application.rs:427`).
func (s *Store) GetCratesOutdatedHeads(ctx context.Context) ([]types.Crate, error) {
	var crates []types.Crate
	err := s.db.WithContext(ctx).
		Joins("JOIN versions ON versions.crate_id = crates.id").
		Where("versions.deps_check_status = ? AND versions.uploaded_at = "+
			"(SELECT MAX(latest.uploaded_at) FROM versions AS latest WHERE latest.crate_id = crates.id)",
			types.DepsCheckIssues).
		Group("crates.id").
		Find(&crates).Error
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to list outdated crates", err)
	}
	return crates, nil
}

// SearchResult is one row of a crate search response.
type SearchResult struct {
	Name          string
	LatestVersion string
	DownloadCount int64
}

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

// Search implements the registry's name-prefix / substring crate search
// (spec §4.1), ranking exact name matches first, then prefix matches, then
// substring matches, each tier ordered by download count descending.
func (s *Store) Search(ctx context.Context, query string, page, perPage int) ([]SearchResult, int64, error) {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page < 1 {
		page = 1
	}

	like := "%" + strings.ToLower(query) + "%"

	var total int64
	if err := s.db.WithContext(ctx).Model(&types.Crate{}).Where("name LIKE ?", like).Count(&total).Error; err != nil {
		return nil, 0, apierror.Wrap(apierror.Internal, "failed to count search results", err)
	}

	var crates []types.Crate
	err := s.db.WithContext(ctx).
		Where("name LIKE ?", like).
		Order(fmt.Sprintf(
			"CASE WHEN LOWER(name) = %s THEN 0 WHEN LOWER(name) LIKE %s THEN 1 ELSE 2 END, download_count DESC",
			quoteSQLiteString(strings.ToLower(query)), quoteSQLiteString(strings.ToLower(query)+"%"))).
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&crates).Error
	if err != nil {
		return nil, 0, apierror.Wrap(apierror.Internal, "failed to search crates", err)
	}

	results := make([]SearchResult, 0, len(crates))
	for _, c := range crates {
		var latest types.Version
		_ = s.db.WithContext(ctx).Where("crate_id = ? AND yanked = ?", c.ID, false).
			Order("uploaded_at desc").First(&latest).Error
		results = append(results, SearchResult{Name: c.Name, LatestVersion: latest.Number, DownloadCount: c.DownloadCount})
	}

	return results, total, nil
}

// quoteSQLiteString is a minimal literal-quoter for the CASE expression
// above; query text never contains untrusted SQL structure because it is
// always embedded as a quoted string literal, not as an identifier.
func quoteSQLiteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// GetUndocumentedCrates returns every version whose docs state is none,
// queued or building (neither done nor failed), used by crash recovery at
// startup (spec §4.5, §7).
func (s *Store) GetUndocumentedCrates(ctx context.Context) ([]types.Version, error) {
	var versions []types.Version
	err := s.db.WithContext(ctx).
		Where("docs_status IN ?", []types.DocsStatus{types.DocsNone, types.DocsQueued, types.DocsBuilding}).
		Find(&versions).Error
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to list undocumented crates", err)
	}
	return versions, nil
}

// CrateNameOf resolves a version's owning crate name, used when rebuilding
// jobqueue.JobCrate entries from a Version row.
func (s *Store) CrateNameOf(ctx context.Context, crateID uuid.UUID) (string, error) {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("id = ?", crateID).First(&crate).Error; err != nil {
		return "", wrapNotFound(err, "crate")
	}
	return crate.Name, nil
}
