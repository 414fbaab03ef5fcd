// Package trigger runs an HTTP endpoint that starts sync runs on demand,
// typically called by the manifest publisher after uploading a new pack.
package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/packsyncd/internal/config"
	packsync "github.com/schaermu/packsyncd/internal/sync"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Packsyncd-Signature"

const maxBodySize = 1 << 20

// SyncFunc performs one sync run.
type SyncFunc func(ctx context.Context) (*packsync.Result, error)

// Server implements the trigger HTTP server
type Server struct {
	cfg         *config.Config
	run         SyncFunc
	logger      *slog.Logger
	secret      []byte
	syncMu      sync.Mutex // guards syncRunning and syncPending
	syncRunning bool
	syncPending bool
	debounce    *debouncer
}

// debouncer coalesces bursts of triggers into one call
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a trigger server. The shared secret is read from
// cfg.Serve.SecretFile.
func NewServer(cfg *config.Config, run SyncFunc, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger secret: %w", err)
	}
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("trigger secret file %s is empty", cfg.Serve.SecretFile)
	}

	return &Server{
		cfg:      cfg,
		run:      run,
		logger:   logger,
		secret:   secret,
		debounce: &debouncer{delay: cfg.Serve.Debounce},
	}, nil
}

// Handler returns the server's routes.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, r *http.Request) {
		s.handleTrigger(ctx, w, r)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "ok")
	})
	return mux
}

// Start performs an initial sync, then serves on listeners until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context, listeners []net.Listener) error {
	if len(listeners) == 0 {
		return errors.New("no listeners")
	}

	s.logger.Info("performing initial sync before starting trigger server")
	s.performSync(ctx)

	server := &http.Server{
		Handler:           s.Handler(ctx),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l net.Listener) {
			s.logger.Info("trigger server listening", "addr", l.Addr().String())
			if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(l)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down trigger server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		_ = server.Close()
		return err
	}
}

func (s *Server) handleTrigger(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !s.verifySignature(body, r.Header.Get(SignatureHeader)) {
		s.logger.Warn("rejecting request with invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	s.logger.Info("sync trigger accepted", "remote", r.RemoteAddr)

	s.debounce.trigger(func() {
		s.performSync(ctx)
	})

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Sync triggered\n")
}

// verifySignature checks a "sha256=<hex>" HMAC of body
func (s *Server) verifySignature(body []byte, signature string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || hexSig == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(hexSig), []byte(expected))
}

// performSync runs the sync function with single-flight semantics. While a
// run is in progress at most one further run is queued; additional
// requests collapse into it.
func (s *Server) performSync(ctx context.Context) {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncPending = true
		s.syncMu.Unlock()
		s.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		if ctx.Err() != nil {
			s.syncMu.Lock()
			s.syncRunning = false
			s.syncPending = false
			s.syncMu.Unlock()
			return
		}

		result, err := s.run(ctx)
		switch {
		case err != nil:
			s.logger.Error("sync failed", "error", err)
		case result.Failed():
			s.logger.Warn("sync completed with failures",
				"failures", len(result.Failures),
				"changed", result.Changed,
				"restart_required", result.RestartRequired)
		default:
			s.logger.Info("sync completed successfully",
				"changed", result.Changed,
				"restart_required", result.RestartRequired)
		}

		s.syncMu.Lock()
		if !s.syncPending {
			s.syncRunning = false
			s.syncMu.Unlock()
			break
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running sync due to pending request")
	}
}

// trigger schedules callback after the debounce delay, replacing any
// callback already scheduled.
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
