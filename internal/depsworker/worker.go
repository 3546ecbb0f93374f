// Package depsworker implements the periodic dependency/vulnerability
// scan (spec §4.6). It is read-only with respect to the index and
// artifact store, and — like docsworker — never reaches back to the
// facade (spec §9).
package depsworker

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cargoforge/registry/internal/common"
	"github.com/cargoforge/registry/internal/index"
	"github.com/cargoforge/registry/internal/metadata"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/rs/zerolog/log"
)

const advisoryCacheKey = "depsworker:advisories:raw"

// Worker periodically refreshes the advisory database and rescans stale
// or pending versions.
type Worker struct {
	store    *metadata.Store
	idx      *index.Index
	cache    *common.Cache // optional; nil disables the cache entirely
	source   Source
	interval time.Duration

	lastModified time.Time
	advisories   map[string][]Advisory
}

// New constructs a Worker. cache may be nil; when set, the worker only
// writes each refreshed advisory feed to it and never reads it back.
func New(store *metadata.Store, idx *index.Index, cache *common.Cache, source Source, interval time.Duration) *Worker {
	return &Worker{store: store, idx: idx, cache: cache, source: source, interval: interval, advisories: map[string][]Advisory{}}
}

// Run blocks, ticking every w.interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("deps worker stopping")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if err := w.refreshAdvisories(ctx); err != nil {
		log.Error().Err(err).Msg("deps worker: advisory refresh failed")
	}
	if err := w.scanStaleVersions(ctx); err != nil {
		log.Error().Err(err).Msg("deps worker: scan failed")
	}
}

func (w *Worker) refreshAdvisories(ctx context.Context) error {
	data, lastModified, notModified, err := w.source.Fetch(ctx, w.lastModified)
	if err != nil {
		return err
	}
	if notModified {
		log.Debug().Msg("deps worker: advisory database unchanged")
		return nil
	}

	advisories, err := parseAdvisories(data)
	if err != nil {
		return err
	}
	w.advisories = advisories
	w.lastModified = lastModified

	if w.cache != nil {
		if err := w.cache.Set(ctx, advisoryCacheKey, string(data), 7*24*time.Hour); err != nil {
			log.Warn().Err(err).Msg("deps worker: failed to cache advisory database")
		}
	}

	log.Info().Int("packages", len(advisories)).Time("published", lastModified).
		Msg("deps worker: advisory database refreshed")
	return nil
}

// scanStaleVersions rescans every version whose deps-check state is
// pending or older than one scan interval (spec §4.6).
func (w *Worker) scanStaleVersions(ctx context.Context) error {
	stale, err := w.store.GetStaleOrPendingVersions(ctx, time.Now().Add(-w.interval))
	if err != nil {
		return err
	}

	for _, v := range stale {
		crateName, err := w.store.CrateNameOf(ctx, v.CrateID)
		if err != nil {
			log.Error().Err(err).Str("version_id", v.ID.String()).Msg("deps worker: failed to resolve crate name")
			continue
		}
		if err := w.scanVersion(ctx, crateName, v); err != nil {
			log.Error().Err(err).Str("crate", crateName).Str("version", v.Number).Msg("deps worker: scan failed")
		}
	}
	return nil
}

// scanVersion loads crateName's index line, resolves its direct
// dependencies and one level of their own dependencies (a bounded,
// pragmatic stand-in for full transitive resolution — spec §4.6 asks for
// "direct and transitive" without specifying a resolution depth), and
// matches each resolved package against the advisory database.
func (w *Worker) scanVersion(ctx context.Context, crateName string, v types.Version) error {
	line, err := w.readIndexLine(crateName, v.Number)
	if err != nil {
		return err
	}

	var issues []string
	seen := map[string]bool{crateName: true}
	frontier := line.Deps

	for depth := 0; depth < 2 && len(frontier) > 0; depth++ {
		var next []types.IndexDep
		for _, dep := range frontier {
			if seen[dep.Name] {
				continue
			}
			seen[dep.Name] = true

			latest, err := w.latestResolvableVersion(ctx, dep.Name)
			if err != nil {
				continue
			}

			for _, adv := range w.advisories[dep.Name] {
				if versionIsAffected(latest, adv.Patched) {
					issues = append(issues, fmt.Sprintf("%s: %s (%s)", dep.Name, adv.Title, adv.ID))
				}
			}

			if depth == 0 {
				if depLine, err := w.readIndexLine(dep.Name, latest); err == nil {
					next = append(next, depLine.Deps...)
				}
			}
		}
		frontier = next
	}

	if len(issues) == 0 {
		return w.store.SetDepsCheckOK(ctx, v.ID)
	}
	return w.store.SetDepsCheckIssues(ctx, v.ID, fmt.Sprintf("%d advisories: %v", len(issues), issues))
}

func (w *Worker) readIndexLine(crateName, version string) (types.IndexLine, error) {
	rel := index.ShardPath(crateName)
	data, found, err := w.idx.ReadFile(rel)
	if err != nil {
		return types.IndexLine{}, err
	}
	if !found {
		return types.IndexLine{}, fmt.Errorf("no index entry for %s", crateName)
	}
	return decodeIndexLine(data, crateName, version)
}

// latestResolvableVersion returns the newest non-yanked published version
// of a dependency, the concrete version the advisory's patched constraint
// is checked against.
func (w *Worker) latestResolvableVersion(ctx context.Context, crateName string) (string, error) {
	versions, err := w.store.GetCrateVersions(ctx, crateName)
	if err != nil {
		return "", err
	}
	var latest string
	var latestParsed *semver.Version
	for _, v := range versions {
		if v.Yanked {
			continue
		}
		parsed, err := semver.NewVersion(v.Number)
		if err != nil {
			continue
		}
		if latestParsed == nil || parsed.GreaterThan(latestParsed) {
			latestParsed = parsed
			latest = v.Number
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no resolvable version for %s", crateName)
	}
	return latest, nil
}

// versionIsAffected reports whether version fails to satisfy the
// advisory's patched-version constraint (i.e. is still vulnerable). A
// malformed constraint is treated as "not checkable" rather than a match,
// so a bad advisory entry never produces a false positive.
func versionIsAffected(version, patchedConstraint string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	constraint, err := semver.NewConstraint(patchedConstraint)
	if err != nil {
		return false
	}
	return !constraint.Check(v)
}
