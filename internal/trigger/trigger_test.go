package trigger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/packsyncd/internal/config"
	packsync "github.com/schaermu/packsyncd/internal/sync"
	"github.com/schaermu/packsyncd/internal/testutil"
)

const testSecret = "test-secret-key"

func setupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	tmpDir := t.TempDir()
	secretPath := filepath.Join(tmpDir, "trigger_secret")
	require.NoError(t, os.WriteFile(secretPath, []byte(testSecret+"\n"), 0600))

	cfg := &config.Config{
		Manifest: config.ManifestConfig{URL: "https://example.com/manifest.json"},
		Paths:    config.PathsConfig{BaseDir: tmpDir},
		Serve: config.ServeConfig{
			Enabled:    true,
			SecretFile: secretPath,
			Debounce:   20 * time.Millisecond,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// countingSync records how often it ran.
type countingSync struct {
	calls atomic.Int32
	err   error
}

func (c *countingSync) run(context.Context) (*packsync.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &packsync.Result{}, nil
}

func newTestServer(t *testing.T, run SyncFunc) *Server {
	t.Helper()
	s, err := NewServer(setupTestConfig(t), run, testutil.Logger())
	require.NoError(t, err)
	return s
}

func TestNewServer(t *testing.T) {
	s := newTestServer(t, (&countingSync{}).run)
	assert.Equal(t, testSecret, string(s.secret), "secret is trimmed")
	assert.Equal(t, 20*time.Millisecond, s.debounce.delay)
}

func TestNewServer_SecretErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg := setupTestConfig(t)
		cfg.Serve.SecretFile = filepath.Join(t.TempDir(), "nope")

		_, err := NewServer(cfg, (&countingSync{}).run, testutil.Logger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read trigger secret")
	})

	t.Run("empty file", func(t *testing.T) {
		cfg := setupTestConfig(t)
		require.NoError(t, os.WriteFile(cfg.Serve.SecretFile, []byte("  \n"), 0600))

		_, err := NewServer(cfg, (&countingSync{}).run, testutil.Logger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is empty")
	})
}

func TestVerifySignature(t *testing.T) {
	s := newTestServer(t, (&countingSync{}).run)
	body := []byte(`{"pack":"1.4.0"}`)

	tests := []struct {
		name      string
		body      []byte
		signature string
		want      bool
	}{
		{name: "valid", body: body, signature: computeSignature(body, testSecret), want: true},
		{name: "valid empty body", body: nil, signature: computeSignature(nil, testSecret), want: true},
		{name: "wrong secret", body: body, signature: computeSignature(body, "other"), want: false},
		{name: "tampered body", body: []byte(`{"pack":"9"}`), signature: computeSignature(body, testSecret), want: false},
		{name: "missing prefix", body: body, signature: computeSignature(body, testSecret)[len("sha256="):], want: false},
		{name: "empty", body: body, signature: "", want: false},
		{name: "prefix only", body: body, signature: "sha256=", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.verifySignature(tt.body, tt.signature))
		})
	}
}

func TestHandler_ValidTrigger(t *testing.T) {
	counter := &countingSync{}
	s := newTestServer(t, counter.run)
	h := s.Handler(context.Background())

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, computeSignature(body, testSecret))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Eventually(t, func() bool { return counter.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHandler_Rejections(t *testing.T) {
	counter := &countingSync{}
	s := newTestServer(t, counter.run)
	h := s.Handler(context.Background())

	t.Run("invalid signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewReader([]byte(`{}`)))
		req.Header.Set(SignatureHeader, "sha256=00")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("unknown path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, counter.calls.Load())
}

func TestHandler_Healthz(t *testing.T) {
	s := newTestServer(t, (&countingSync{}).run)
	rec := httptest.NewRecorder()

	s.Handler(context.Background()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestStart_InitialSyncAndShutdown(t *testing.T) {
	counter := &countingSync{}
	s := newTestServer(t, counter.run)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, []net.Listener{l}) }()

	url := "http://" + l.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), counter.calls.Load(), "initial sync runs before serving")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestStart_NoListeners(t *testing.T) {
	s := newTestServer(t, (&countingSync{}).run)
	assert.Error(t, s.Start(context.Background(), nil))
}

func TestDebouncer(t *testing.T) {
	var callCount atomic.Int32
	d := &debouncer{delay: 50 * time.Millisecond}

	for i := 0; i < 5; i++ {
		d.trigger(func() { callCount.Add(1) })
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), callCount.Load())
}

func TestPerformSync_LogsFailures(t *testing.T) {
	counter := &countingSync{err: errors.New("manifest unavailable")}
	s := newTestServer(t, counter.run)

	s.performSync(context.Background())

	assert.Equal(t, int32(1), counter.calls.Load())
	assert.False(t, s.syncRunning)
}

func TestPerformSync_CancelledContext(t *testing.T) {
	counter := &countingSync{}
	s := newTestServer(t, counter.run)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.performSync(ctx)

	assert.Zero(t, counter.calls.Load())
	assert.False(t, s.syncRunning)
}

// TestPerformSync_SingleFlight verifies that at most one run is in flight
// and concurrent requests collapse into a single queued re-run.
func TestPerformSync_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	var calls atomic.Int32

	s := newTestServer(t, func(context.Context) (*packsync.Result, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-proceed
		return &packsync.Result{}, nil
	})

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.performSync(ctx)
	}()

	<-started

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.performSync(ctx)
		}()
	}
	wg.Wait()

	s.syncMu.Lock()
	pending := s.syncPending
	s.syncMu.Unlock()
	assert.True(t, pending)

	close(proceed)
	<-done

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	assert.False(t, s.syncRunning)
	assert.False(t, s.syncPending)
	assert.Equal(t, int32(2), calls.Load(), "one run plus one coalesced re-run")
}
