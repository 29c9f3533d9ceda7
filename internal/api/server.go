// Package api exposes the pipeline through a stateless HTTP surface. All
// business logic lives in the services; handlers only validate, bound
// pagination, and reshape rows.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vw-ai/lifetrace/internal/cleaner"
	"github.com/vw-ai/lifetrace/internal/index"
	"github.com/vw-ai/lifetrace/internal/ingest/calendar"
	"github.com/vw-ai/lifetrace/internal/ingest/notion"
	"github.com/vw-ai/lifetrace/internal/insights"
	"github.com/vw-ai/lifetrace/internal/processor"
	"github.com/vw-ai/lifetrace/internal/retrieve"
	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/taxonomy"
)

// Config carries the request-layer settings.
type Config struct {
	Prefix         string // e.g. "/api/v1"
	ListenAddr     string
	Token          string
	DevBypass      bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Deps are the services the handlers delegate to. Optional collaborators may
// be nil; their endpoints then report unavailability.
type Deps struct {
	Store     storage.Storage
	Insights  *insights.Service
	Processor *processor.Processor
	Cleaner   *cleaner.Cleaner
	Retriever *retrieve.Retriever
	Indexer   *index.Indexer
	Calendar  *calendar.Ingestor
	Notes     *notion.Ingestor
	Taxonomy  *taxonomy.Builder
	Resources *taxonomy.Store
}

// Server is the echo application plus its dependencies.
type Server struct {
	echo *echo.Echo
	deps Deps
	cfg  Config
	log  *slog.Logger
}

// NewServer builds the echo application with the standard middleware stack
// and registers every route under the version prefix.
func NewServer(deps Deps, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/api/v1"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(log)

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: cfg.AllowedMethods,
			AllowHeaders: cfg.AllowedHeaders,
		}))
	}

	s := &Server{echo: e, deps: deps, cfg: cfg, log: log}
	s.routes()
	return s
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) routes() {
	limiter := NewRateLimiter()
	auth := BearerAuth(s.cfg.Token, s.cfg.DevBypass)

	v1 := s.echo.Group(s.cfg.Prefix, auth)
	std := limiter.Middleware(ClassDefault)
	proc := limiter.Middleware(ClassProcessing)
	imp := limiter.Middleware(ClassImport)

	// Read models
	v1.GET("/activities/raw", s.getRawActivities, std)
	v1.GET("/activities/processed", s.getProcessedActivities, std)
	v1.GET("/tags", s.getTags, std)
	v1.GET("/tags/:id", s.getTag, std)
	v1.GET("/insights/overview", s.getInsightsOverview, std)
	v1.GET("/insights/time-distribution", s.getTimeDistribution, std)
	v1.GET("/system/health", s.getSystemHealth, std)
	v1.GET("/system/stats", s.getSystemStats, std)
	v1.GET("/context", s.getContext, std)
	v1.GET("/context/by-date", s.getContextByDate, std)

	// Commands
	v1.POST("/tags", s.createTag, std)
	v1.PUT("/tags/:id", s.updateTag, std)
	v1.DELETE("/tags/:id", s.deleteTag, std)
	v1.POST("/tags/cleanup", s.cleanupTags, proc)

	v1.POST("/process/daily", s.triggerProcessing, proc)
	v1.GET("/process/status/:job_id", s.getProcessStatus, std)
	v1.GET("/process/progress/:job_id", s.getProcessProgress, std)
	v1.GET("/process/history", s.getProcessHistory, std)

	v1.POST("/import/calendar", s.importCalendar, imp)
	v1.POST("/import/notion", s.importNotes, imp)
	v1.GET("/import/status", s.getImportStatus, std)

	v1.GET("/management/taxonomy", s.getTaxonomyInfo, std)
	v1.POST("/management/update-taxonomy", s.updateTaxonomy, proc)

	// Unauthenticated liveness probe.
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
}

// Start serves until the listener fails.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s.echo.StartServer(srv)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// errorHandler maps error kinds to the uniform envelope: validation 422,
// not-found 404, conflict 409, rate limit 429; echo HTTP errors raised by
// handlers keep their own status and message; everything else collapses to
// a generic 500.
func errorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "internal server error"

		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &httpErr):
			status = httpErr.Code
			if m, ok := httpErr.Message.(string); ok {
				message = m
			}
		case errors.Is(err, storage.ErrNotFound):
			status = http.StatusNotFound
			message = "resource not found"
		case errors.Is(err, storage.ErrConflict):
			status = http.StatusConflict
			message = "conflicting state"
		}

		if status >= 500 {
			log.Error("request failed", "path", c.Request().URL.Path, "error", err)
		}

		_ = c.JSON(status, ErrorResponse{
			Error:      http.StatusText(status),
			Message:    message,
			StatusCode: status,
		})
	}
}
