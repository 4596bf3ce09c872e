package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tkilaker/newsroom/internal/config"
	"github.com/tkilaker/newsroom/internal/database"
	"github.com/tkilaker/newsroom/internal/logger"
	"github.com/tkilaker/newsroom/internal/pipeline"
)

// Runner is the ingestion pipeline as seen by the HTTP layer
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (*pipeline.RunResult, error)
	Reprocess(ctx context.Context, externalID string) (pipeline.Outcome, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) (*pipeline.RecoveryResult, error)
	Progress() *pipeline.ProgressTracker
}

// Store is the read and moderation side of the database used by handlers
type Store interface {
	Ping(ctx context.Context) error
	ListJobRuns(ctx context.Context, limit int) ([]*database.JobRun, error)
	ListFeedEntries(ctx context.Context, since time.Time, limit int) ([]*database.FeedEntry, error)
	SoftDeleteArticle(ctx context.Context, externalID string) error
	SetArticlePublished(ctx context.Context, externalID string, published bool) error
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	store  Store
	runner Runner
	config *config.Config
	log    *logger.Logger
}

// New creates a new server instance
func New(store Store, runner Runner, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		runner: runner,
		config: cfg,
		log:    log.With("component", "server"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	// Ingestion runs are long; they are not bounded by the request timeout.
	s.router.With(s.requireBearer(s.config.CronSecret)).Post("/api/ingest", s.handleIngest)
	s.router.With(s.requireBearer(s.config.AdminToken)).Post("/api/admin/ingest", s.handleAdminIngest)
	s.router.With(s.requireBearer(s.config.AdminToken)).Get("/api/ingest/events", s.handleProgressEvents)
	s.router.With(s.requireBearer(s.config.AdminToken)).Post("/api/admin/articles/{id}/reprocess", s.handleReprocess)
	s.router.With(s.requireBearer(s.config.AdminToken)).Post("/api/admin/recover-stale", s.handleRecoverStale)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/feed.xml", s.handleRSS)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer(s.config.AdminToken))
			r.Get("/api/ingest/status", s.handleStatus)
			r.Get("/api/admin/runs", s.handleListRuns)
			r.Delete("/api/admin/articles/{id}", s.handleDeleteArticle)
			r.Put("/api/admin/articles/{id}/published", s.handleSetPublished)
		})
	})
}

// Router returns the Chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
