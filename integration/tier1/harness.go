//go:build integration

package tier1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the packsyncd binary once and runs it against a
// scratch installation directory.
type Harness struct {
	t       *testing.T
	binary  string
	BaseDir string
	config  string
}

// NewHarness builds the binary into a temp dir and prepares a base dir.
func NewHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		t.Fatalf("get project root: %v", err)
	}

	tmp := t.TempDir()
	binary := filepath.Join(tmp, "packsyncd")

	cmd := exec.CommandContext(ctx, "go", "build", "-o", binary, "./cmd/packsyncd")
	cmd.Dir = projectRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build packsyncd: %v\n%s", err, out)
	}

	h := &Harness{
		t:       t,
		binary:  binary,
		BaseDir: filepath.Join(tmp, "game"),
		config:  filepath.Join(tmp, "config.yaml"),
	}
	if err := os.MkdirAll(h.BaseDir, 0755); err != nil {
		t.Fatalf("create base dir: %v", err)
	}
	return h
}

// WriteConfig points the binary at manifestURL.
func (h *Harness) WriteConfig(manifestURL string) {
	h.t.Helper()

	content := fmt.Sprintf(`manifest:
  url: %q
paths:
  base_dir: %q
`, manifestURL, h.BaseDir)
	if err := os.WriteFile(h.config, []byte(content), 0600); err != nil {
		h.t.Fatalf("write config: %v", err)
	}
}

// Run executes packsyncd with args and returns stdout, stderr and the exit code.
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int) {
	h.t.Helper()

	full := append([]string{"--config", h.config, "--log-level", "debug"}, args...)
	cmd := exec.CommandContext(ctx, h.binary, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			h.t.Fatalf("run packsyncd %v: %v", args, err)
		}
		code = exitErr.ExitCode()
	}

	h.t.Logf("packsyncd %v exited %d\nstderr:\n%s", args, code, stderr.String())
	return stdout.String(), stderr.String(), code
}

// Path returns the absolute path of rel inside the base dir.
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.BaseDir, filepath.FromSlash(rel))
}

// FileExists reports whether rel exists inside the base dir.
func (h *Harness) FileExists(rel string) bool {
	_, err := os.Stat(h.Path(rel))
	return err == nil
}

// ReadFile reads rel inside the base dir.
func (h *Harness) ReadFile(rel string) string {
	h.t.Helper()
	data, err := os.ReadFile(h.Path(rel))
	if err != nil {
		h.t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
