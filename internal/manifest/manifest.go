// Package manifest describes the remote desired state of the local tree
// and loads it from its published location.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
)

// Mode selects how staleness of a file entry is detected.
type Mode string

const (
	// ModeHash compares the local content digest with the declared hash.
	ModeHash Mode = "hash"
	// ModeVersion compares the ledger's recorded version with the declared one.
	ModeVersion Mode = "version"
	// ModeAlways re-fetches on every run.
	ModeAlways Mode = "always"
)

// Known reports whether m is one of the recognized modes. Entries with an
// unknown mode are never fetched but still protect their path from deletion.
func (m Mode) Known() bool {
	switch m {
	case ModeHash, ModeVersion, ModeAlways:
		return true
	default:
		return false
	}
}

// FileEntry declares one file of the desired state.
type FileEntry struct {
	Path    string `json:"path"`
	URL     string `json:"url"`
	Mode    Mode   `json:"mode"`
	Hash    string `json:"hash,omitempty"`
	Version string `json:"version,omitempty"`
	ID      string `json:"id,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Manifest is the desired state for one sync run.
type Manifest struct {
	Files  []FileEntry `json:"files"`
	Delete []string    `json:"delete"`
}

// Parse decodes a manifest document. Comments and trailing commas are
// tolerated since manifests are frequently maintained by hand.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// PackageVersions maps package id to declared version for entries of the
// given package type, skipping entries without an id and the reserved
// selfID. Later entries override earlier ones.
func (m *Manifest) PackageVersions(packageType, selfID string) map[string]string {
	versions := make(map[string]string)
	for _, entry := range m.Files {
		if entry.ID == "" || entry.ID == selfID {
			continue
		}
		if entry.Type != packageType {
			continue
		}
		versions[entry.ID] = entry.Version
	}
	return versions
}
