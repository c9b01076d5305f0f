package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticFileServer_ProductImage(t *testing.T) {
	dir := t.TempDir()
	image := []byte("\x89PNG\r\n\x1a\nclay-pot")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clay-pot.png"), image, 0o644))

	handler := StaticFileServer(dir)

	t.Run("existing image is served as is", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clay-pot.png", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=2592000", w.Header().Get("Cache-Control"))
		assert.Equal(t, image, w.Body.Bytes())
	})

	t.Run("directory falls back to the placeholder", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(dir, "thumbs"), 0o755))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/thumbs", nil))

		assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "<svg")
	})

	t.Run("paths cannot leave the image directory", func(t *testing.T) {
		outside := filepath.Join(filepath.Dir(dir), "secret.png")
		require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
		t.Cleanup(func() { os.Remove(outside) })

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/../secret.png", nil))

		assert.NotContains(t, w.Body.String(), "secret")
		assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
	})
}
