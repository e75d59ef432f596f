// Package server provides the HTTP API for Mistri.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/mistri/internal/config"
	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/store"
	"github.com/hyperjump/mistri/internal/watcher"
)

const serviceName = "mistri"

// Searcher runs retrieval. *retrieval.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, q models.SearchQuery) ([]models.Match, error)
}

// Stores exposes the live store. *store.Live satisfies it.
type Stores interface {
	Current() (*store.Store, error)
	Reload() (*store.Store, error)
	Root() string
}

// Server is the HTTP server for the Mistri API.
type Server struct {
	searcher Searcher
	stores   Stores
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	watcher  *watcher.Watcher
}

// NewServer creates a server with the given dependencies.
func NewServer(searcher Searcher, stores Stores, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		searcher: searcher,
		stores:   stores,
		config:   cfg,
		logger:   logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(cors(s.config.Server.CORSOrigin))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/diagnose", s.handleDiagnose)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/route", s.handleRoute)
		r.Get("/status", s.handleStatus)
		r.Post("/reload", s.handleReload)
	})

	return otelhttp.NewHandler(r, serviceName)
}

// Start starts the store watcher (when enabled) and the HTTP server, blocking until
// the server stops.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Server.WatchStoreOrDefault() {
		s.watcher = watcher.New(s.stores.Root(), s.reload, watcher.WithLogger(s.logger))
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start store watcher: %w", err)
		}
	}
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server and the watcher.
func (s *Server) Stop(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) reload() {
	st, err := s.stores.Reload()
	if err != nil {
		s.logger.Warn("store reload failed", zap.Error(err))
		return
	}
	s.logger.Info("store reloaded", zap.String("build_id", st.Manifest.BuildID), zap.Int("records", st.Size()))
}
