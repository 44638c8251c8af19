// Package assets serves the bundled browser front-ends (the terminal page
// and the dashboard) from a fixed asset root, with an in-memory gzip cache
// for the compressible types.
package assets

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// mimeTypes maps the file extensions the bundles are allowed to contain.
// Anything else is served as application/octet-stream.
var mimeTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".js":   "application/javascript",
	".css":  "text/css; charset=utf-8",
	".svg":  "image/svg+xml",
	".json": "application/json",
	".png":  "image/png",
	".ico":  "image/x-icon",
}

// compressible lists the extensions worth gzipping. Images are already
// compressed.
var compressible = map[string]bool{
	".html": true,
	".js":   true,
	".css":  true,
	".json": true,
	".svg":  true,
}

// Handler serves files beneath a single asset root directory.
// Request path "/" maps to "/index.html"; unknown paths return 404.
//
// Gzipped payloads are cached in memory keyed by the file's absolute path.
// The bundles are build artifacts that never change while the server runs,
// so the cache has no invalidation.
type Handler struct {
	root string

	mu        sync.Mutex
	gzipCache map[string][]byte
}

// NewHandler creates an asset handler rooted at dir.
func NewHandler(dir string) *Handler {
	return &Handler{
		root:      dir,
		gzipCache: make(map[string][]byte),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Serve(w, r, r.URL.Path)
}

// Serve writes the asset at the given request path (which may differ from
// r.URL.Path when the caller has stripped a prefix).
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, reqPath string) {
	if reqPath == "/" || reqPath == "" {
		reqPath = "/index.html"
	}

	// Normalize and confine the path to the asset root. path.Clean on a
	// rooted path removes any ".." escapes.
	clean := path.Clean("/" + strings.TrimPrefix(reqPath, "/"))
	abs := filepath.Join(h.root, filepath.FromSlash(clean))

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	ext := strings.ToLower(filepath.Ext(abs))
	contentType := mimeTypes[ext]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	if compressible[ext] && acceptsGzip(r) {
		payload, err := h.gzipped(abs)
		if err == nil {
			w.Header().Set("Content-Encoding", "gzip")
			w.Write(payload)
			return
		}
		// Fall through to the uncompressed file on error.
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

// gzipped returns the compressed payload for the file, computing and caching
// it on first request.
func (h *Handler) gzipped(abs string) ([]byte, error) {
	h.mu.Lock()
	if cached, ok := h.gzipCache[abs]; ok {
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	payload := buf.Bytes()

	h.mu.Lock()
	h.gzipCache[abs] = payload
	h.mu.Unlock()
	return payload, nil
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}
