//go:build integration

package tier1

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/packsyncd/internal/testutil"
)

func TestTier1Sync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(ctx, t)
	fs := afero.NewOsFs()
	srv := testutil.NewFileServer(t)
	h.WriteConfig(srv.URLFor("/manifest.json"))

	publish := func(version string) {
		srv.Set("/sodium.jar", testutil.ModJar(t, "sodium", version))
		srv.Set("/manifest.json", []byte(`{
			"files": [
				{"path": "mods/sodium.jar", "url": "`+srv.URLFor("/sodium.jar")+`", "mode": "version", "version": "`+version+`", "id": "sodium", "type": "mod"},
				{"path": "config/options.txt", "url": "`+srv.URLFor("/options.txt")+`", "mode": "always"}
			],
			"delete": ["mods/legacy.jar"]
		}`))
	}
	srv.Set("/options.txt", []byte("fov:90\n"))

	t.Run("A_InitialSync", func(t *testing.T) {
		publish("0.5.8")
		testutil.WriteFile(t, fs, h.Path("mods/legacy.jar"), []byte("legacy"))

		_, _, code := h.Run(ctx, "sync", "--exit-code")

		assert.Equal(t, 3, code, "restart required")
		assert.True(t, h.FileExists("mods/sodium.jar"))
		assert.False(t, h.FileExists("mods/legacy.jar"))
		assert.Equal(t, "fov:90\n", h.ReadFile("config/options.txt"))
		assert.JSONEq(t, `{"mods/sodium.jar": "0.5.8"}`, h.ReadFile("modpack_update_versions.json"))
	})

	t.Run("B_VersionUnchangedSkipsDownload", func(t *testing.T) {
		before := srv.Hits("/sodium.jar")

		_, _, code := h.Run(ctx, "sync")

		assert.Equal(t, 0, code)
		assert.Equal(t, before, srv.Hits("/sodium.jar"))
	})

	t.Run("C_VersionBump", func(t *testing.T) {
		publish("0.6.0")

		_, _, code := h.Run(ctx, "sync")

		require.Equal(t, 0, code)
		assert.JSONEq(t, `{"mods/sodium.jar": "0.6.0"}`, h.ReadFile("modpack_update_versions.json"))
		// the outdated jar is pruned; the next run fetches 0.6.0
		assert.False(t, h.FileExists("mods/sodium.jar"))
	})

	t.Run("D_SelfDedup", func(t *testing.T) {
		testutil.WriteModJar(t, fs, h.Path("mods/updater-1.0.0.jar"), "modpackupdater", "1.0.0")
		testutil.WriteModJar(t, fs, h.Path("mods/updater-1.2.0.jar"), "modpackupdater", "1.2.0")

		_, _, code := h.Run(ctx, "sync", "--exit-code")

		assert.Equal(t, 3, code)
		assert.False(t, h.FileExists("mods/updater-1.0.0.jar"))
		assert.True(t, h.FileExists("mods/updater-1.2.0.jar"))
		assert.True(t, h.FileExists("mods/sodium.jar"))
	})

	t.Run("E_Inspect", func(t *testing.T) {
		stdout, _, code := h.Run(ctx, "inspect")

		require.Equal(t, 0, code)
		assert.Contains(t, stdout, "sodium")
		assert.Contains(t, stdout, "modpackupdater (self)")
		assert.Contains(t, stdout, filepath.Join(h.BaseDir, "mods", "updater-1.2.0.jar"))
	})

	t.Run("F_Ledger", func(t *testing.T) {
		stdout, _, code := h.Run(ctx, "ledger")

		require.Equal(t, 0, code)
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[1], "mods/sodium.jar")
		assert.Contains(t, lines[1], "0.6.0")
	})

	t.Run("G_DryRunMode", func(t *testing.T) {
		publish("0.7.0")
		before := srv.Hits("/sodium.jar")

		_, stderr, code := h.Run(ctx, "sync", "--dry-run")

		assert.Equal(t, 0, code)
		assert.Contains(t, stderr, "[dry-run] would download")
		assert.Equal(t, before, srv.Hits("/sodium.jar"))
		assert.JSONEq(t, `{"mods/sodium.jar": "0.6.0"}`, h.ReadFile("modpack_update_versions.json"))
	})
}
