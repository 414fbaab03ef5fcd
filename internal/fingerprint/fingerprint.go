// Package fingerprint computes content digests of local files for
// hash-based change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Algorithm names a digest function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", a)
	}
}

// ParseDeclared splits a declared manifest hash into its algorithm and hex
// value. Unprefixed values are SHA-256, as published by the manifest tooling.
func ParseDeclared(declared string) (Algorithm, string) {
	declared = strings.TrimSpace(declared)
	if algo, value, ok := strings.Cut(declared, ":"); ok {
		return Algorithm(strings.ToLower(algo)), value
	}
	return SHA256, declared
}

// File returns the lowercase hex digest of the file at path.
func File(fs afero.Fs, path string, algo Algorithm) (string, error) {
	h, err := algo.newHash()
	if err != nil {
		return "", err
	}

	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether the file at path has the declared digest,
// ignoring hex case. A missing file never matches.
func Matches(fs afero.Fs, path, declared string) (bool, error) {
	algo, want := ParseDeclared(declared)

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	got, err := File(fs, path, algo)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, want), nil
}
