// Package web serves the built panel bundle next to the API.
package web

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
)

const indexFile = "index.html"

type spaHandler struct {
	root   fs.FS
	files  http.Handler
	logger *zap.Logger
}

// NewStaticHandler serves files from dir. Unknown paths get index.html so
// client-side routes survive a reload.
func NewStaticHandler(dir string, logger *zap.Logger) (http.Handler, error) {
	return newSPAHandler(os.DirFS(dir), logger)
}

func newSPAHandler(root fs.FS, logger *zap.Logger) (http.Handler, error) {
	if _, err := fs.Stat(root, indexFile); err != nil {
		return nil, fmt.Errorf("panel bundle has no %s: %w", indexFile, err)
	}
	return &spaHandler{
		root:   root,
		files:  http.FileServer(http.FS(root)),
		logger: logger,
	}, nil
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = indexFile
	}

	info, err := fs.Stat(h.root, name)
	switch {
	case err == nil && !info.IsDir():
		h.files.ServeHTTP(w, r)
	case err == nil || errors.Is(err, fs.ErrNotExist):
		h.serveIndex(w, r)
	default:
		h.logger.Warn("Failed to stat panel asset", zap.String("path", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *spaHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.root, indexFile)
	if err != nil {
		h.logger.Error("Failed to read panel index", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}
