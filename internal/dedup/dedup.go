// Package dedup removes superseded package artifacts from the packages
// directory: surplus copies of the updater itself, and packages whose
// installed version no longer matches the manifest.
package dedup

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/schaermu/packsyncd/internal/pkgmeta"
	"github.com/schaermu/packsyncd/internal/vercmp"
)

// Reasons recorded on removals.
const (
	ReasonOlderSelf  = "older-self"
	ReasonSuperseded = "superseded"
)

// Removal describes an artifact selected for deletion. Err is set when the
// deletion failed.
type Removal struct {
	Path    string
	ID      string
	Version string
	Reason  string
	Err     error
}

// Pruner deletes superseded artifacts.
type Pruner struct {
	fs      afero.Fs
	scanner *pkgmeta.Scanner
	selfID  string
	logger  *slog.Logger
	dryRun  bool
}

// NewPruner creates a Pruner. With dryRun set, removals are reported but
// nothing is deleted.
func NewPruner(fs afero.Fs, scanner *pkgmeta.Scanner, selfID string, logger *slog.Logger, dryRun bool) *Pruner {
	return &Pruner{
		fs:      fs,
		scanner: scanner,
		selfID:  selfID,
		logger:  logger,
		dryRun:  dryRun,
	}
}

// PruneSelf keeps only the highest-versioned copy of the updater's own
// package in dir. Among equal versions the first in file name order is kept.
func (p *Pruner) PruneSelf(dir string) ([]Removal, error) {
	infos, err := p.scanner.Scan(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var self []pkgmeta.Info
	for _, info := range infos {
		if info.ID == p.selfID {
			self = append(self, info)
		}
	}
	if len(self) < 2 {
		return nil, nil
	}

	versions := make([]string, len(self))
	for i, info := range self {
		versions[i] = info.Version
	}
	keep := vercmp.MaxIndex(versions)
	p.logger.Info("multiple copies of self installed",
		"count", len(self),
		"keep", self[keep].Path,
		"version", self[keep].Version)

	removals := make([]Removal, 0, len(self)-1)
	for i, info := range self {
		if i == keep {
			continue
		}
		removals = append(removals, p.remove(info, ReasonOlderSelf))
	}
	return removals, nil
}

// PrunePackages deletes every artifact in dir whose id appears in declared
// with a different version. Unknown ids and the updater's own id are left
// alone.
func (p *Pruner) PrunePackages(dir string, declared map[string]string) ([]Removal, error) {
	if len(declared) == 0 {
		return nil, nil
	}

	infos, err := p.scanner.Scan(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var removals []Removal
	for _, info := range infos {
		if info.ID == p.selfID {
			continue
		}
		want, ok := declared[info.ID]
		if !ok {
			continue
		}
		p.logger.Debug("comparing installed package",
			"id", info.ID,
			"installed", info.Version,
			"declared", want)
		if info.Version == want {
			continue
		}
		removals = append(removals, p.remove(info, ReasonSuperseded))
	}
	return removals, nil
}

func (p *Pruner) remove(info pkgmeta.Info, reason string) Removal {
	r := Removal{
		Path:    info.Path,
		ID:      info.ID,
		Version: info.Version,
		Reason:  reason,
	}

	if p.dryRun {
		p.logger.Info("[dry-run] would remove package", "path", info.Path, "id", info.ID, "version", info.Version, "reason", reason)
		return r
	}

	p.logger.Info("removing package", "path", info.Path, "id", info.ID, "version", info.Version, "reason", reason)
	if err := p.fs.Remove(info.Path); err != nil {
		r.Err = err
		p.logger.Error("failed to remove package", "path", info.Path, "error", err)
	}
	return r
}
