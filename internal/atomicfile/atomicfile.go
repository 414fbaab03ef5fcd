// Package atomicfile installs files by writing to a temporary sibling and
// renaming it over the destination, so readers never observe a partial file.
package atomicfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const tempPattern = ".packsyncd-tmp-*"

// Write streams r into dst with atomic replace semantics and returns the
// number of bytes written. Parent directories are created as needed.
func Write(fs afero.Fs, dst string, r io.Reader, perm os.FileMode) (int64, error) {
	dir := filepath.Dir(dst)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create parent directory: %w", err)
	}

	// The temp file must live in the destination directory for the rename
	// to stay on one filesystem.
	tmpFile, err := afero.TempFile(fs, dir, tempPattern)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fs.Remove(tmpPath)
	}() // cleanup on error

	n, err := io.Copy(tmpFile, r)
	if err != nil {
		_ = tmpFile.Close()
		return n, fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return n, fmt.Errorf("failed to flush temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return n, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fs.Chmod(tmpPath, perm); err != nil {
		return n, fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := fs.Rename(tmpPath, dst); err != nil {
		return n, fmt.Errorf("failed to move file into place: %w", err)
	}

	return n, nil
}

// WriteBytes is Write for in-memory content.
func WriteBytes(fs afero.Fs, dst string, data []byte, perm os.FileMode) error {
	_, err := Write(fs, dst, bytes.NewReader(data), perm)
	return err
}
