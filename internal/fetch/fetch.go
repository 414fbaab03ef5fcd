// Package fetch retrieves remote content over HTTP and installs it into
// the local tree.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/afero"

	"github.com/schaermu/packsyncd/internal/atomicfile"
)

// Fetcher downloads URLs. A single Fetcher is used sequentially by a sync run.
type Fetcher struct {
	fs        afero.Fs
	client    *http.Client
	userAgent string
}

// New creates a Fetcher that installs files into fs. A nil client uses
// http.DefaultClient.
func New(fs afero.Fs, client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		fs:        fs,
		client:    client,
		userAgent: userAgent,
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// Open issues a GET for url and returns the response body on a 2xx status.
// The caller must close the body.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		_ = resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	return resp.Body, nil
}

// Install downloads url and atomically replaces dst with the content,
// creating parent directories as needed. It returns the number of bytes
// installed. On failure dst is left untouched.
func (f *Fetcher) Install(ctx context.Context, url, dst string) (int64, error) {
	body, err := f.Open(ctx, url)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = body.Close()
	}()

	n, err := atomicfile.Write(f.fs, dst, body, 0644)
	if err != nil {
		return n, fmt.Errorf("failed to install %s: %w", dst, err)
	}
	return n, nil
}
