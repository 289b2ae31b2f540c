// Package server provides the HTTP API and site preview for chatdigest.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/hyperjump/chatdigest/internal/config"
	"github.com/hyperjump/chatdigest/internal/search"
	"github.com/hyperjump/chatdigest/internal/storage"
)

// Server is the HTTP server for the knowledge base.
type Server struct {
	index    *search.Index
	stores   []*storage.ChatStore
	siteDir  string
	usage    []string
	config   *config.ServerConfig
	logger   *zap.Logger
	markdown goldmark.Markdown
	server   *http.Server
}

// NewServer creates a server with the given dependencies. index may be nil, in
// which case search requests are answered with 501. usagePaths are measured
// for the disk usage reported by the status endpoint.
func NewServer(
	index *search.Index,
	stores []*storage.ChatStore,
	siteDir string,
	usagePaths []string,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		index:    index,
		stores:   stores,
		siteDir:  siteDir,
		usage:    usagePaths,
		config:   cfg,
		logger:   logger,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/chats/{slug}/stale", s.handleStale)
	r.Get("/api/v1/chats/{slug}/{stage}/{period}", s.handleRecord)
	r.Get("/site/*", s.handlePreview)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/site/", http.StatusFound)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	handler := middleware.Logger(s.Router())
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) store(slug string) *storage.ChatStore {
	for _, st := range s.stores {
		if st.Chat == slug {
			return st
		}
	}
	return nil
}
