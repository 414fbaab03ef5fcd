package manifest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/afero"
)

// maxManifestSize bounds the manifest document read into memory.
const maxManifestSize = 16 << 20

// Opener retrieves a remote document.
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Loader fetches manifests over HTTP(S), or from the local filesystem for
// file:// URLs and bare paths.
type Loader struct {
	fs     afero.Fs
	opener Opener
}

// NewLoader creates a manifest loader.
func NewLoader(fs afero.Fs, opener Opener) *Loader {
	return &Loader{fs: fs, opener: opener}
}

// Load retrieves and parses the manifest at source.
func (l *Loader) Load(ctx context.Context, source string) (*Manifest, error) {
	rc, err := l.open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest %s: %w", source, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", source, err)
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("manifest %s exceeds %d bytes", source, maxManifestSize)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("manifest %s is empty", source)
	}

	return Parse(data)
}

func (l *Loader) open(ctx context.Context, source string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return l.opener.Open(ctx, source)
	case strings.HasPrefix(source, "file://"):
		u, err := url.Parse(source)
		if err != nil {
			return nil, err
		}
		return l.fs.Open(u.Path)
	default:
		return l.fs.Open(source)
	}
}
