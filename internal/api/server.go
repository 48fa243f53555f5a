// Package api exposes the DR control plane over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FairForge/failsafe/internal/backup"
	"github.com/FairForge/failsafe/internal/config"
	"github.com/FairForge/failsafe/internal/drtest"
	"github.com/FairForge/failsafe/internal/failover"
	"github.com/FairForge/failsafe/internal/health"
	"github.com/FairForge/failsafe/internal/replication"
)

// Catalog persists completed backup jobs and DR test results for audit.
// A nil Catalog disables persistence; handlers still serve from memory.
type Catalog interface {
	SaveJob(ctx context.Context, job *backup.Job) error
	SaveResult(ctx context.Context, res drtest.Result) error
	ListJobs(ctx context.Context, limit int) ([]*backup.Job, error)
	ListResults(ctx context.Context, limit int) ([]drtest.Result, error)
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	monitor  *health.Monitor
	failover *failover.Manager
	engine   *backup.Engine
	repl     *replication.Manager
	harness  *drtest.Harness
	catalog  Catalog

	startTime time.Time
}

func NewServer(cfg *config.Config, logger *zap.Logger,
	monitor *health.Monitor, fo *failover.Manager,
	engine *backup.Engine, repl *replication.Manager,
	harness *drtest.Harness, cat Catalog) *Server {

	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		monitor:   monitor,
		failover:  fo,
		engine:    engine,
		repl:      repl,
		harness:   harness,
		catalog:   cat,
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(chimw.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/dr/status", s.handleDRStatus)
		r.Get("/dr/report", s.handleDRReport)
		r.Post("/dr/tests/run", s.handleRunAllTests)
		r.Post("/dr/tests/{category}/run", s.handleRunTest)

		r.Get("/endpoints", s.handleListEndpoints)

		r.Get("/regions", s.handleListRegions)
		r.Post("/regions/{name}/promote", s.handlePromote)

		r.Get("/backups", s.handleListBackups)
		r.Post("/backups", s.handleCreateBackup)
		r.Post("/backups/{id}/restore", s.handleRestoreBackup)

		r.Get("/history/backups", s.handleBackupHistory)
		r.Get("/history/tests", s.handleTestHistory)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// ServeHTTP makes the server usable directly in httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	s.logger.Info("starting server", zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
