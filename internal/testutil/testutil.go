// Package testutil holds fixtures shared by package tests: artifact
// builders, a counting file server and a quiet logger.
package testutil

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// MetadataEntry is the metadata file name used by the default configuration.
const MetadataEntry = "fabric.mod.json"

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Jar builds a zip archive containing the given entries.
func Jar(t testing.TB, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// ModJar builds a jar whose metadata entry declares id and version.
func ModJar(t testing.TB, id, version string) []byte {
	t.Helper()
	return Jar(t, map[string]string{
		MetadataEntry: fmt.Sprintf(`{"schemaVersion": 1, "id": %q, "version": %q}`, id, version),
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\n",
	})
}

// WriteFile writes data to path in fs, creating parent directories.
func WriteFile(t testing.TB, fs afero.Fs, path string, data []byte) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteModJar writes a jar declaring id and version to path in fs.
func WriteModJar(t testing.TB, fs afero.Fs, path, id, version string) {
	t.Helper()
	WriteFile(t, fs, path, ModJar(t, id, version))
}

// FileServer serves fixed content by URL path and counts requests.
type FileServer struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
}

// NewFileServer starts a FileServer that is closed when the test ends.
func NewFileServer(t testing.TB) *FileServer {
	t.Helper()

	s := &FileServer{
		files: make(map[string][]byte),
		hits:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *FileServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	data, ok := s.files[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

// Set publishes data at path.
func (s *FileServer) Set(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
}

// Hits returns how many requests path received.
func (s *FileServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// TotalHits returns the number of requests received for any path.
func (s *FileServer) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

// URLFor returns the absolute URL for path.
func (s *FileServer) URLFor(path string) string {
	return s.URL + path
}
