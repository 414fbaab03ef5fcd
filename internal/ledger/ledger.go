// Package ledger persists the version last installed for each
// version-tracked file, keyed by its manifest-relative path.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/afero"

	"github.com/schaermu/packsyncd/internal/atomicfile"
)

// Ledger is an in-memory copy of the persisted version mapping. It is not
// safe for concurrent use; a sync run owns it exclusively.
type Ledger struct {
	fs       afero.Fs
	path     string
	versions map[string]string
	dirty    bool
}

// Load reads the ledger at path. A missing file yields an empty ledger.
func Load(fs afero.Fs, path string) (*Ledger, error) {
	l := &Ledger{
		fs:       fs,
		path:     path,
		versions: make(map[string]string),
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &l.versions); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	// A literal "null" document decodes to a nil map.
	if l.versions == nil {
		l.versions = make(map[string]string)
	}

	return l, nil
}

// Path returns the file the ledger persists to.
func (l *Ledger) Path() string {
	return l.path
}

// Get returns the recorded version for a relative path.
func (l *Ledger) Get(rel string) (string, bool) {
	v, ok := l.versions[rel]
	return v, ok
}

// Set records version for rel and reports whether the ledger changed.
func (l *Ledger) Set(rel, version string) bool {
	if cur, ok := l.versions[rel]; ok && cur == version {
		return false
	}
	l.versions[rel] = version
	l.dirty = true
	return true
}

// Dirty reports whether the ledger has unsaved changes.
func (l *Ledger) Dirty() bool {
	return l.dirty
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	return len(l.versions)
}

// Paths returns the recorded paths in sorted order.
func (l *Ledger) Paths() []string {
	paths := make([]string, 0, len(l.versions))
	for p := range l.versions {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Save atomically writes the ledger and clears the dirty flag. Output is
// deterministic: keys are sorted by encoding/json.
func (l *Ledger) Save() error {
	data, err := json.MarshalIndent(l.versions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	data = append(data, '\n')

	if err := atomicfile.WriteBytes(l.fs, l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.path, err)
	}

	l.dirty = false
	return nil
}
