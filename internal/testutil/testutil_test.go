package testutil

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModJar(t *testing.T) {
	data := ModJar(t, "amod", "1.0.0")

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{MetadataEntry, "META-INF/MANIFEST.MF"}, names)
}

func TestFileServer(t *testing.T) {
	s := NewFileServer(t)
	s.Set("/a.jar", []byte("abc"))

	resp, err := http.Get(s.URLFor("/a.jar"))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))

	resp, err = http.Get(s.URLFor("/missing"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, 1, s.Hits("/a.jar"))
	assert.Equal(t, 2, s.TotalHits())
}
