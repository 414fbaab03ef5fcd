package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Defaults matching the layout of a Fabric client installation.
const (
	DefaultLedgerFile    = "modpack_update_versions.json"
	DefaultPackagesDir   = "mods"
	DefaultSelfID        = "modpackupdater"
	DefaultPackageType   = "mod"
	DefaultExtension     = ".jar"
	DefaultMetadataEntry = "fabric.mod.json"
	DefaultUserAgent     = "packsyncd"
	DefaultListenAddr    = "127.0.0.1:8787"
	DefaultDebounce      = 2 * time.Second

	lockFileName = ".packsyncd.lock"
)

// Config represents the complete packsyncd configuration
type Config struct {
	Manifest ManifestConfig `yaml:"manifest"`
	Paths    PathsConfig    `yaml:"paths"`
	Packages PackagesConfig `yaml:"packages"`
	HTTP     HTTPConfig     `yaml:"http"`
	Serve    ServeConfig    `yaml:"serve"`
}

// ManifestConfig configures where the desired state is published
type ManifestConfig struct {
	URL string `yaml:"url"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	BaseDir     string `yaml:"base_dir"`
	LedgerFile  string `yaml:"ledger_file"`
	PackagesDir string `yaml:"packages_dir"`
}

// PackagesConfig describes installed package artifacts and the updater's own identity
type PackagesConfig struct {
	SelfID        string `yaml:"self_id"`
	Type          string `yaml:"type"`
	Extension     string `yaml:"extension"`
	MetadataEntry string `yaml:"metadata_entry"`
}

// HTTPConfig configures the transport used for manifest and file fetches
type HTTPConfig struct {
	// Timeout bounds a single request. Zero means no timeout.
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// ServeConfig configures the trigger server
type ServeConfig struct {
	Enabled    bool          `yaml:"enabled"`
	ListenAddr string        `yaml:"listen_addr"`
	SecretFile string        `yaml:"secret_file"`
	Debounce   time.Duration `yaml:"debounce"`
}

// DefaultPath returns the config location under the XDG config home
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "packsyncd", "config.yaml")
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path-like string fields
func (c *Config) expandEnv() {
	c.Manifest.URL = os.ExpandEnv(c.Manifest.URL)
	c.Paths.BaseDir = os.ExpandEnv(c.Paths.BaseDir)
	c.Paths.LedgerFile = os.ExpandEnv(c.Paths.LedgerFile)
	c.Paths.PackagesDir = os.ExpandEnv(c.Paths.PackagesDir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.SecretFile = os.ExpandEnv(c.Serve.SecretFile)
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Paths.LedgerFile == "" {
		c.Paths.LedgerFile = DefaultLedgerFile
	}
	if c.Paths.PackagesDir == "" {
		c.Paths.PackagesDir = DefaultPackagesDir
	}
	if c.Packages.SelfID == "" {
		c.Packages.SelfID = DefaultSelfID
	}
	if c.Packages.Type == "" {
		c.Packages.Type = DefaultPackageType
	}
	if c.Packages.Extension == "" {
		c.Packages.Extension = DefaultExtension
	}
	if !strings.HasPrefix(c.Packages.Extension, ".") {
		c.Packages.Extension = "." + c.Packages.Extension
	}
	if c.Packages.MetadataEntry == "" {
		c.Packages.MetadataEntry = DefaultMetadataEntry
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = DefaultUserAgent
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
	if c.Serve.Debounce == 0 {
		c.Serve.Debounce = DefaultDebounce
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Manifest.URL == "" {
		return fmt.Errorf("manifest.url is required")
	}

	if c.Paths.BaseDir == "" {
		return fmt.Errorf("paths.base_dir is required")
	}
	if !filepath.IsAbs(c.Paths.BaseDir) {
		return fmt.Errorf("paths.base_dir must be an absolute path: %s", c.Paths.BaseDir)
	}

	// Both must stay inside base_dir.
	if !filepath.IsLocal(filepath.FromSlash(c.Paths.LedgerFile)) {
		return fmt.Errorf("paths.ledger_file must be a relative path inside base_dir: %s", c.Paths.LedgerFile)
	}
	if !filepath.IsLocal(filepath.FromSlash(c.Paths.PackagesDir)) {
		return fmt.Errorf("paths.packages_dir must be a relative path inside base_dir: %s", c.Paths.PackagesDir)
	}

	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative: %s", c.HTTP.Timeout)
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.SecretFile == "" {
			return fmt.Errorf("serve.secret_file is required when serve is enabled")
		}
		if c.Serve.Debounce < 0 {
			return fmt.Errorf("serve.debounce must not be negative: %s", c.Serve.Debounce)
		}
	}

	return nil
}

// LedgerPath returns the path to the persisted version ledger
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.BaseDir, filepath.FromSlash(c.Paths.LedgerFile))
}

// PackagesPath returns the directory holding installed package artifacts
func (c *Config) PackagesPath() string {
	return filepath.Join(c.Paths.BaseDir, filepath.FromSlash(c.Paths.PackagesDir))
}

// LockPath returns the path of the lock file serializing sync runs
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.BaseDir, lockFileName)
}

// IsRemote reports whether the manifest is fetched over HTTP(S)
func (c *Config) IsRemote() bool {
	return strings.HasPrefix(c.Manifest.URL, "http://") || strings.HasPrefix(c.Manifest.URL, "https://")
}
