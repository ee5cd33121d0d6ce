// Package devserver serves the source tree during development with the
// live reload client injected into every HTML page.
package devserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/browser"

	"github.com/spachava753/assetpipe/internal/livereload"
	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/obs"
)

// Server is the development HTTP server.
type Server struct {
	baseDir string
	port    int
	open    bool
	hub     *livereload.Hub
	router  chi.Router

	// openURL is replaced in tests.
	openURL func(url string) error
}

// New creates a server for dir. Reload events are streamed from hub.
func New(dir string, cfg models.ServerConfig, hub *livereload.Hub) *Server {
	obs.Init()
	s := &Server{
		baseDir: dir,
		port:    cfg.Port,
		open:    cfg.Open,
		hub:     hub,
		openURL: browser.OpenURL,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(obs.Instrument)
	r.Use(requestLogger)

	r.Get(livereload.EventsPath, hub.ServeHTTP)
	r.Method(http.MethodGet, livereload.ClientPath, livereload.ClientHandler(livereload.ClientConfig{Notify: cfg.Notify}))
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	static := s.staticHandler()
	r.Get("/*", static)
	r.Head("/*", static)

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe binds the configured port, opens a browser if requested
// and serves until ctx is cancelled. ready, if non-nil, receives the bound
// address once the listener is up.
func (s *Server) ListenAndServe(ctx context.Context, ready chan<- string) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("binding dev server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := ln.Addr().(*net.TCPAddr)
	url := fmt.Sprintf("http://localhost:%d/", addr.Port)
	slog.Info("dev server listening", "url", url, "dir", s.baseDir)
	if ready != nil {
		ready <- url
	}

	if s.open {
		if err := s.openURL(url); err != nil {
			slog.Warn("could not open browser", "url", url, "error", err)
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Open event streams do not end on their own.
			_ = srv.Close()
		}
		return nil
	}
}

func (s *Server) staticHandler() http.HandlerFunc {
	fsys := os.DirFS(s.baseDir)
	files := http.FileServer(http.FS(fsys))

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "."
		}

		info, err := fs.Stat(fsys, name)
		if err == nil && info.IsDir() {
			name = path.Join(name, "index.html")
			info, err = fs.Stat(fsys, name)
		}
		if err != nil || !isHTML(name) {
			files.ServeHTTP(w, r)
			return
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			http.Error(w, "reading page", http.StatusInternalServerError)
			return
		}
		page := InjectScript(data)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, name, info.ModTime(), bytes.NewReader(page))
	}
}

func isHTML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// InjectScript inserts the reload client before the closing body tag, or
// appends it when the page has none.
func InjectScript(page []byte) []byte {
	tag := []byte(livereload.ScriptTag)
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte(nil), page...), tag...)
	}
	out := make([]byte, 0, len(page)+len(tag))
	out = append(out, page[:idx]...)
	out = append(out, tag...)
	return append(out, page[idx:]...)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}
