// Package pkgmeta reads the identity of installed package artifacts from
// the metadata record embedded in each artifact container.
package pkgmeta

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"
)

// maxMetadataSize bounds the metadata entry read from an artifact.
const maxMetadataSize = 1 << 20

// Info identifies an installed package artifact.
type Info struct {
	ID      string
	Version string
	Path    string
}

// Extractor extracts package metadata from an artifact container. ok is
// false when the artifact carries no usable metadata; that is not an error.
type Extractor interface {
	Extract(path string) (info Info, ok bool, err error)
}

// ZipExtractor reads a named JSON entry (e.g. fabric.mod.json) out of a
// zip-based artifact such as a jar.
type ZipExtractor struct {
	fs    afero.Fs
	entry string
}

// NewZipExtractor creates an extractor reading entry from zip artifacts.
func NewZipExtractor(fs afero.Fs, entry string) *ZipExtractor {
	return &ZipExtractor{fs: fs, entry: entry}
}

type metadata struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Extract implements Extractor.
func (z *ZipExtractor) Extract(path string) (Info, bool, error) {
	f, err := z.fs.Open(path)
	if err != nil {
		return Info{}, false, err
	}
	defer func() {
		_ = f.Close()
	}()

	stat, err := f.Stat()
	if err != nil {
		return Info{}, false, err
	}

	r, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return Info{}, false, fmt.Errorf("failed to open archive %s: %w", path, err)
	}

	for _, file := range r.File {
		if file.Name != z.entry {
			continue
		}
		md, err := readMetadata(file)
		if err != nil {
			return Info{}, false, fmt.Errorf("failed to read %s from %s: %w", z.entry, path, err)
		}
		if md.ID == "" || md.Version == "" {
			return Info{}, false, nil
		}
		return Info{ID: md.ID, Version: md.Version, Path: path}, true, nil
	}

	return Info{}, false, nil
}

func readMetadata(file *zip.File) (*metadata, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(rc, maxMetadataSize))
	if err != nil {
		return nil, err
	}

	var md metadata
	if err := json.Unmarshal(jsonc.ToJSON(data), &md); err != nil {
		return nil, err
	}
	return &md, nil
}
