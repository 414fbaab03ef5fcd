package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/schaermu/packsyncd/internal/config"
	"github.com/schaermu/packsyncd/internal/dedup"
	"github.com/schaermu/packsyncd/internal/fingerprint"
	"github.com/schaermu/packsyncd/internal/ledger"
	"github.com/schaermu/packsyncd/internal/manifest"
	"github.com/schaermu/packsyncd/internal/pkgmeta"
)

// ManifestLoader retrieves the desired state
type ManifestLoader interface {
	Load(ctx context.Context, source string) (*manifest.Manifest, error)
}

// Installer downloads a URL and atomically installs it at dst
type Installer interface {
	Install(ctx context.Context, url, dst string) (int64, error)
}

// Engine orchestrates the sync process. It performs no locking: callers
// must not run two engines against the same base directory concurrently.
type Engine struct {
	cfg       *config.Config
	fs        afero.Fs
	loader    ManifestLoader
	installer Installer
	pruner    *dedup.Pruner
	logger    *slog.Logger
	dryRun    bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, fs afero.Fs, loader ManifestLoader, installer Installer, logger *slog.Logger, dryRun bool) *Engine {
	extractor := pkgmeta.NewZipExtractor(fs, cfg.Packages.MetadataEntry)
	scanner := pkgmeta.NewScanner(fs, cfg.Packages.Extension, extractor, logger)

	return &Engine{
		cfg:       cfg,
		fs:        fs,
		loader:    loader,
		installer: installer,
		pruner:    dedup.NewPruner(fs, scanner, cfg.Packages.SelfID, logger, dryRun),
		logger:    logger,
		dryRun:    dryRun,
	}
}

// Run executes one complete sync pass. A non-nil error means the run was
// aborted (manifest or ledger failure, or cancellation); isolated per-path
// failures are reported in Result.Failures instead.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.logger.Info("starting sync",
		"manifest", e.cfg.Manifest.URL,
		"base_dir", e.cfg.Paths.BaseDir,
		"dry_run", e.dryRun)

	m, err := e.loader.Load(ctx, e.cfg.Manifest.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
	}
	e.logger.Info("manifest loaded", "files", len(m.Files), "delete", len(m.Delete))

	versions, err := ledger.Load(e.fs, e.cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerIO, err)
	}
	e.logger.Debug("ledger loaded", "path", versions.Path(), "entries", versions.Len())

	packages := m.PackageVersions(e.cfg.Packages.Type, e.cfg.Packages.SelfID)

	result := &Result{}

	e.backfill(m, versions)

	valid, err := e.reconcile(ctx, m, versions, result)
	if err != nil {
		return result, err
	}

	e.deleteRedundant(m, valid, result)
	e.prune(packages, result)

	if versions.Dirty() {
		if e.dryRun {
			e.logger.Info("[dry-run] would update ledger", "path", versions.Path())
		} else if err := versions.Save(); err != nil {
			return result, fmt.Errorf("%w: %w", ErrLedgerIO, err)
		}
	}

	result.RestartRequired = result.Changed || result.Pruned > 0

	e.logger.Info("sync completed",
		"downloaded", result.Downloaded,
		"deleted", result.Deleted,
		"pruned", result.Pruned,
		"up_to_date", result.UpToDate,
		"skipped", result.Skipped,
		"failures", len(result.Failures),
		"changed", result.Changed,
		"restart_required", result.RestartRequired)

	return result, nil
}

// backfill records declared versions for version-tracked files that are
// already on disk, covering files placed out-of-band and a first run
// without a ledger. It never downloads.
func (e *Engine) backfill(m *manifest.Manifest, versions *ledger.Ledger) {
	for _, entry := range m.Files {
		if entry.Mode != manifest.ModeVersion {
			continue
		}

		local, err := e.resolve(entry.Path)
		if err != nil {
			// reported by the primary pass
			continue
		}

		exists, err := afero.Exists(e.fs, local)
		if err != nil || !exists {
			continue
		}

		if cur, ok := versions.Get(entry.Path); !ok || cur != entry.Version {
			versions.Set(entry.Path, entry.Version)
			e.logger.Debug("backfilled ledger", "path", entry.Path, "version", entry.Version)
		}
	}
}

// reconcile is the primary pass. It returns the set of local paths the
// manifest declares, which deletion must never touch.
func (e *Engine) reconcile(ctx context.Context, m *manifest.Manifest, versions *ledger.Ledger, result *Result) (map[string]struct{}, error) {
	valid := make(map[string]struct{}, len(m.Files))

	for _, entry := range m.Files {
		if err := ctx.Err(); err != nil {
			return valid, fmt.Errorf("sync interrupted: %w", err)
		}

		local, err := e.resolve(entry.Path)
		if err != nil {
			e.logger.Error("invalid manifest path", "path", entry.Path, "mode", entry.Mode, "error", err)
			result.fail(ErrEntryCheck, entry.Path, entry.Mode, err)
			continue
		}
		valid[local] = struct{}{}

		if !entry.Mode.Known() {
			e.logger.Debug("entry has no update mode, skipping", "path", entry.Path, "mode", entry.Mode)
			result.Skipped++
			continue
		}

		stale, err := e.needsUpdate(entry, local, versions)
		if err != nil {
			e.logger.Error("check update failed", "path", entry.Path, "mode", entry.Mode, "error", err)
			result.fail(ErrEntryCheck, entry.Path, entry.Mode, err)
			continue
		}
		e.logger.Debug("checked entry", "path", entry.Path, "mode", entry.Mode, "needs_update", stale)

		if !stale {
			e.correctLedger(entry, local, versions)
			result.UpToDate++
			continue
		}

		if e.dryRun {
			e.logger.Info("[dry-run] would download", "path", entry.Path, "url", entry.URL, "mode", entry.Mode)
			result.Downloaded++
			result.Changed = true
			continue
		}

		e.logger.Info("downloading file", "path", entry.Path, "url", entry.URL, "mode", entry.Mode)
		n, err := e.installer.Install(ctx, entry.URL, local)
		if err != nil {
			e.logger.Error("download or replace failed", "path", entry.Path, "mode", entry.Mode, "error", err)
			result.fail(ErrFetch, entry.Path, entry.Mode, err)
			continue
		}

		if entry.Mode == manifest.ModeVersion {
			versions.Set(entry.Path, entry.Version)
		}
		if entry.Mode == manifest.ModeHash {
			e.verifyDigest(entry, local)
		}

		result.Downloaded++
		result.Changed = true
		e.logger.Info("update finished", "path", entry.Path, "bytes", n)
	}

	return valid, nil
}

// needsUpdate applies the entry's change-detection mode.
func (e *Engine) needsUpdate(entry manifest.FileEntry, local string, versions *ledger.Ledger) (bool, error) {
	switch entry.Mode {
	case manifest.ModeHash:
		match, err := fingerprint.Matches(e.fs, local, entry.Hash)
		if err != nil {
			return false, err
		}
		return !match, nil

	case manifest.ModeVersion:
		recorded, _ := versions.Get(entry.Path)
		if recorded != entry.Version {
			return true, nil
		}
		// A matching ledger does not prove the file is still there.
		exists, err := afero.Exists(e.fs, local)
		if err != nil {
			return false, err
		}
		return !exists, nil

	case manifest.ModeAlways:
		return true, nil

	default:
		return false, nil
	}
}

// correctLedger records the declared version for an up-to-date
// version-tracked file the ledger does not know about yet.
func (e *Engine) correctLedger(entry manifest.FileEntry, local string, versions *ledger.Ledger) {
	if entry.Mode != manifest.ModeVersion {
		return
	}
	if cur, ok := versions.Get(entry.Path); ok && cur == entry.Version {
		return
	}
	if exists, err := afero.Exists(e.fs, local); err != nil || !exists {
		return
	}
	versions.Set(entry.Path, entry.Version)
}

// verifyDigest warns when freshly installed content does not carry the
// declared hash; the next run will fetch it again.
func (e *Engine) verifyDigest(entry manifest.FileEntry, local string) {
	match, err := fingerprint.Matches(e.fs, local, entry.Hash)
	if err != nil {
		e.logger.Warn("failed to verify downloaded file", "path", entry.Path, "error", err)
		return
	}
	if !match {
		e.logger.Warn("downloaded file does not match declared hash", "path", entry.Path, "hash", entry.Hash)
	}
}

// deleteRedundant removes paths on the manifest's delete list.
func (e *Engine) deleteRedundant(m *manifest.Manifest, valid map[string]struct{}, result *Result) {
	for _, rel := range m.Delete {
		local, err := e.resolve(rel)
		if err != nil {
			e.logger.Error("invalid delete path", "path", rel, "error", err)
			result.fail(ErrDelete, rel, "", err)
			continue
		}

		if _, ok := valid[local]; ok {
			e.logger.Warn("refusing to delete path declared in manifest files", "path", rel)
			continue
		}

		exists, err := e.linkExists(local)
		if err != nil {
			e.logger.Error("delete failed", "path", rel, "error", err)
			result.fail(ErrDelete, rel, "", err)
			continue
		}
		if !exists {
			continue
		}

		if e.dryRun {
			e.logger.Info("[dry-run] would delete", "path", rel)
			result.Deleted++
			result.Changed = true
			continue
		}

		e.logger.Info("deleting", "path", rel)
		if err := e.fs.Remove(local); err != nil {
			e.logger.Error("delete failed", "path", rel, "error", err)
			result.fail(ErrDelete, rel, "", err)
			continue
		}
		result.Deleted++
		result.Changed = true
	}
}

// linkExists is afero.Exists without following a trailing symlink, so a
// listed link is removed rather than skipped or resolved.
func (e *Engine) linkExists(path string) (bool, error) {
	var err error
	if l, ok := e.fs.(afero.Lstater); ok {
		_, _, err = l.LstatIfPossible(path)
	} else {
		_, err = e.fs.Stat(path)
	}
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// prune runs self-deduplication followed by package-version deduplication.
func (e *Engine) prune(packages map[string]string, result *Result) {
	dir := e.cfg.PackagesPath()

	removals, err := e.pruner.PruneSelf(dir)
	if err != nil {
		e.logger.Error("clean old self versions failed", "error", err)
		result.fail(ErrPrune, dir, "", err)
	}
	e.recordRemovals(removals, result)

	removals, err = e.pruner.PrunePackages(dir, packages)
	if err != nil {
		e.logger.Error("clean packages directory failed", "error", err)
		result.fail(ErrPrune, dir, "", err)
	}
	e.recordRemovals(removals, result)
}

func (e *Engine) recordRemovals(removals []dedup.Removal, result *Result) {
	for _, r := range removals {
		if r.Err != nil {
			result.fail(ErrPrune, r.Path, "", r.Err)
			continue
		}
		result.Pruned++
	}
}

// resolve maps a manifest-relative path to a local path inside the base
// directory, rejecting anything that would escape it lexically. Symlinks
// inside the tree (a shared mods folder, say) are followed as-is.
func (e *Engine) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}

	clean := filepath.FromSlash(rel)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("path %q escapes base directory", rel)
	}

	return filepath.Join(e.cfg.Paths.BaseDir, clean), nil
}
