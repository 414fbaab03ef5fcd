package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/packsyncd/internal/activation"
	"github.com/schaermu/packsyncd/internal/config"
	"github.com/schaermu/packsyncd/internal/fetch"
	"github.com/schaermu/packsyncd/internal/ledger"
	"github.com/schaermu/packsyncd/internal/manifest"
	"github.com/schaermu/packsyncd/internal/pkgmeta"
	"github.com/schaermu/packsyncd/internal/runlock"
	"github.com/schaermu/packsyncd/internal/sync"
	"github.com/schaermu/packsyncd/internal/trigger"
)

// exitRestartRequired is returned by `sync --exit-code` when the host
// application must be restarted to pick up changes.
const exitRestartRequired = 3

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Sync flags
	dryRun      bool
	manifestURL string
	useExitCode bool
)

// exitCodeError carries a non-default process exit status.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string {
	return e.msg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "packsyncd",
	Short: "Keep a mod-pack installation in sync with a published manifest",
	Long: `packsyncd reconciles a local installation directory with a remote JSON
manifest. It downloads stale files, removes files listed for deletion and
prunes outdated copies of installed packages.

It can run once (from a launcher or timer) or as a long-running trigger
server that syncs whenever the manifest publisher calls it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time sync against the manifest",
	Long: `Sync loads the manifest, downloads every file whose hash or version is
stale, deletes paths on the manifest's delete list and removes superseded
package artifacts.

With --exit-code the command exits with status 3 when the host application
needs a restart to pick up the changes.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trigger server",
	Long: `Serve performs an initial sync and then listens for signed POST /sync
requests, running a debounced sync for each accepted trigger.

Listening sockets are taken from systemd socket activation when present,
otherwise serve.listen_addr is bound.`,
	RunE: runServe,
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print the recorded file versions",
	RunE:  runLedger,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List installed packages with their id and version",
	RunE:  runInspect,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "packsyncd %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/packsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().StringVar(&manifestURL, "manifest-url", "", "override manifest.url from the config file")
	syncCmd.Flags().BoolVar(&useExitCode, "exit-code", false, "exit with status 3 when a restart is required")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if manifestURL != "" {
		cfg.Manifest.URL = manifestURL
	}

	result, err := runLocked(ctx, cfg, logger, dryRun)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	for _, failure := range result.Failures {
		logger.Warn("sync failure", "error", failure)
	}

	if result.RestartRequired {
		logger.Info("restart required to apply changes")
		if useExitCode {
			return &exitCodeError{code: exitRestartRequired, msg: "restart required"}
		}
	}

	if result.Failed() {
		return fmt.Errorf("sync completed with %d failure(s)", len(result.Failures))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in configuration (set serve.enabled: true)")
	}

	server, err := trigger.NewServer(cfg, func(ctx context.Context) (*sync.Result, error) {
		return runLocked(ctx, cfg, logger, false)
	}, logger)
	if err != nil {
		return err
	}

	listeners, activated, err := activation.Listen(cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}
	if activated {
		logger.Info("using systemd socket activation", "listeners", len(listeners))
	}

	return server.Start(ctx, listeners)
}

func runLedger(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	l, err := ledger.Load(afero.NewOsFs(), cfg.LedgerPath())
	if err != nil {
		return err
	}

	return printLedger(cmd.OutOrStdout(), l)
}

func printLedger(out io.Writer, l *ledger.Ledger) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PATH\tVERSION")
	for _, path := range l.Paths() {
		v, _ := l.Get(path)
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", path, v)
	}
	return tw.Flush()
}

func runInspect(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fs := afero.NewOsFs()
	extractor := pkgmeta.NewZipExtractor(fs, cfg.Packages.MetadataEntry)
	scanner := pkgmeta.NewScanner(fs, cfg.Packages.Extension, extractor, logger)

	infos, err := scanner.Scan(cfg.PackagesPath())
	if err != nil {
		return err
	}

	return printPackages(cmd.OutOrStdout(), infos, cfg.Packages.SelfID)
}

func printPackages(out io.Writer, infos []pkgmeta.Info, selfID string) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tVERSION\tPATH")
	for _, info := range infos {
		id := info.ID
		if id == selfID {
			id += " (self)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", id, info.Version, info.Path)
	}
	return tw.Flush()
}

// runLocked runs one sync while holding the base directory's run lock.
func runLocked(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*sync.Result, error) {
	lock, err := runlock.Acquire(cfg.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Debug("acquired run lock", "path", lock.Path())
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release run lock", "error", err)
		}
	}()

	return newEngine(cfg, logger, dryRun).Run(ctx)
}

func newEngine(cfg *config.Config, logger *slog.Logger, dryRun bool) *sync.Engine {
	fs := afero.NewOsFs()
	client := &http.Client{Timeout: cfg.HTTP.Timeout}
	fetcher := fetch.New(fs, client, cfg.HTTP.UserAgent)
	loader := manifest.NewLoader(fs, fetcher)

	return sync.NewEngine(cfg, fs, loader, fetcher, logger, dryRun)
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	// Logs go to stderr so ledger/inspect output stays pipeable.
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"manifest", cfg.Manifest.URL,
		"remote_manifest", cfg.IsRemote(),
		"base_dir", cfg.Paths.BaseDir,
		"ledger", cfg.LedgerPath(),
		"packages_dir", cfg.PackagesPath())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
