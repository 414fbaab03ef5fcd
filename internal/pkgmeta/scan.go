package pkgmeta

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Scanner enumerates installed artifacts in a directory.
type Scanner struct {
	fs        afero.Fs
	extension string
	extractor Extractor
	logger    *slog.Logger
}

// NewScanner creates a scanner for artifacts with the given file extension.
func NewScanner(fs afero.Fs, extension string, extractor Extractor, logger *slog.Logger) *Scanner {
	return &Scanner{
		fs:        fs,
		extension: extension,
		extractor: extractor,
		logger:    logger,
	}
}

// Scan returns the metadata of every artifact in dir, in file name order.
// Artifacts without metadata are skipped; unreadable ones are logged and
// skipped. A missing directory yields no artifacts.
func (s *Scanner) Scan(dir string) ([]Info, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.Mode().IsRegular() || !strings.EqualFold(filepath.Ext(entry.Name()), s.extension) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, ok, err := s.extractor.Extract(path)
		if err != nil {
			s.logger.Warn("failed to read package metadata", "path", path, "error", err)
			continue
		}
		if !ok {
			s.logger.Debug("artifact has no package metadata", "path", path)
			continue
		}
		infos = append(infos, info)
	}

	return infos, nil
}
