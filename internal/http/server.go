// Package http serves the repochat REST API.
//
// A client loads a repository with POST /api/v1/repositories and then asks
// questions about it with POST /api/v1/chat. Loads are expensive, so they
// pass through a token-bucket limiter before any fetching starts.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/repochat/internal/chat"
	"github.com/fyrsmithlabs/repochat/internal/config"
	"github.com/fyrsmithlabs/repochat/internal/fetch"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/registry"
	"github.com/fyrsmithlabs/repochat/internal/services"
	"github.com/fyrsmithlabs/repochat/internal/session"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	IngestRate      float64 // repository loads per second
	IngestBurst     int
}

// ConfigFromSettings converts the server config section.
func ConfigFromSettings(s config.ServerConfig) Config {
	return Config{
		Host:            s.Host,
		Port:            s.Port,
		ShutdownTimeout: s.ShutdownTimeout.Duration(),
		IngestRate:      s.IngestRate,
		IngestBurst:     s.IngestBurst,
	}
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.IngestRate <= 0 {
		c.IngestRate = 0.2
	}
	if c.IngestBurst < 1 {
		c.IngestBurst = 2
	}
}

// Option customizes a Server.
type Option func(*Server)

// WithPrometheusRegistry registers metrics with reg and serves it on
// /metrics instead of a private registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.promRegistry = reg }
}

// Server provides the HTTP endpoints.
type Server struct {
	echo         *echo.Echo
	services     services.Registry
	logger       *logging.Logger
	config       Config
	limiter      *rate.Limiter
	metrics      *Metrics
	promRegistry *prometheus.Registry
}

// NewServer creates a server over svc.
func NewServer(svc services.Registry, logger *logging.Logger, cfg Config, opts ...Option) (*Server, error) {
	if svc == nil || svc.Session() == nil {
		return nil, errors.New("services with a session are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.applyDefaults()

	s := &Server{
		services: svc,
		logger:   logger.Named("http"),
		config:   cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.IngestRate), cfg.IngestBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.promRegistry == nil {
		s.promRegistry = prometheus.NewRegistry()
		s.promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = NewMetrics(s.promRegistry)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(s.metrics.Middleware())

	s.echo = e
	s.registerRoutes()
	return s, nil
}

// Echo returns the underlying Echo instance for registering additional
// routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/repositories", s.handleLoad)
	v1.GET("/repositories", s.handleRuns)
	v1.GET("/repositories/:id", s.handleRun)
	v1.POST("/chat", s.handleChat)
	v1.POST("/search", s.handleSearch)
	v1.GET("/history", s.handleHistory)
}

// requestLogger logs each request and puts the request ID and logger into
// the request context.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(req.Context(), id)
		ctx = logging.WithLogger(ctx, s.logger)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)))
		return nil
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Repository string `json:"repository,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if repo := s.services.Session().Current(); repo != nil {
		resp.Repository = repo.URL
	}
	return c.JSON(http.StatusOK, resp)
}

// LoadRequest is the request body for POST /api/v1/repositories.
type LoadRequest struct {
	URL string `json:"url"`
}

// LoadResponse is the response body for POST /api/v1/repositories.
type LoadResponse struct {
	URL        string `json:"url"`
	Collection string `json:"collection"`
	Files      int    `json:"files"`
	Chunks     int    `json:"chunks"`
	Skipped    int    `json:"skipped"`
	Redacted   int    `json:"redacted"`
	Workspace  string `json:"workspace"`
	Revision   string `json:"revision,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

func (s *Server) handleLoad(c echo.Context) error {
	var req LoadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url field is required")
	}
	if !s.limiter.Allow() {
		s.metrics.load("rate_limited")
		c.Response().Header().Set("Retry-After", strconv.Itoa(s.retryAfter()))
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many repository loads, try again later")
	}

	ctx := c.Request().Context()
	res, err := s.services.Session().Load(ctx, req.URL)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrEmptyURL):
		return echo.NewHTTPError(http.StatusBadRequest, "url field is required")
	case errors.Is(err, fetch.ErrFetchFailed):
		s.metrics.load("fetch_failed")
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, session.ErrNoFiles):
		s.metrics.load("no_files")
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		s.metrics.load("error")
		s.logger.Error(ctx, "repository load failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "repository could not be loaded")
	}

	s.metrics.load("loaded")
	return c.JSON(http.StatusOK, LoadResponse{
		URL:        res.URL,
		Collection: res.Collection,
		Files:      res.Files,
		Chunks:     res.Chunks,
		Skipped:    res.Skipped,
		Redacted:   res.Redacted,
		Workspace:  res.Workspace.Root,
		Revision:   res.Revision,
		RunID:      res.RunID,
	})
}

// retryAfter is the whole number of seconds until the limiter has a token.
func (s *Server) retryAfter() int {
	r := s.limiter.Reserve()
	defer r.Cancel()
	return max(1, int(r.Delay().Round(time.Second)/time.Second))
}

// RunsResponse is the response body for GET /api/v1/repositories. With a
// url query parameter Runs holds at most the latest run of that url.
type RunsResponse struct {
	Current *session.Repository `json:"current,omitempty"`
	Runs    []registry.Run      `json:"runs"`
}

func (s *Server) handleRuns(c echo.Context) error {
	limit := defaultRunLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxRunLimit)
	}

	resp := RunsResponse{Current: s.services.Session().Current(), Runs: []registry.Run{}}
	runs := s.services.Runs()
	if runs == nil {
		return c.JSON(http.StatusOK, resp)
	}

	ctx := c.Request().Context()
	if url := strings.TrimSpace(c.QueryParam("url")); url != "" {
		run, err := runs.Latest(ctx, url)
		switch {
		case errors.Is(err, registry.ErrNotFound):
		case err != nil:
			s.logger.Error(ctx, "looking up latest run failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "runs could not be listed")
		default:
			resp.Runs = append(resp.Runs, run)
		}
		return c.JSON(http.StatusOK, resp)
	}

	list, err := runs.List(ctx, limit)
	if err != nil {
		s.logger.Error(ctx, "listing runs failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "runs could not be listed")
	}
	if list != nil {
		resp.Runs = list
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRun(c echo.Context) error {
	runs := s.services.Runs()
	if runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history is disabled")
	}
	ctx := c.Request().Context()
	run, err := runs.Get(ctx, c.Param("id"))
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		s.logger.Error(ctx, "looking up run failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "run could not be read")
	}
	return c.JSON(http.StatusOK, run)
}

// ChatRequest is the request body for POST /api/v1/chat.
type ChatRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	answer, err := s.services.Session().Ask(c.Request().Context(), req.Question)
	if err != nil {
		return s.chatError(c, err)
	}
	return c.JSON(http.StatusOK, answer)
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Sources []chat.Source `json:"sources"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.K < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "k must not be negative")
	}
	sources, err := s.services.Session().Search(c.Request().Context(), req.Query, req.K)
	if err != nil {
		return s.chatError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Sources: sources})
}

func (s *Server) chatError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	case errors.Is(err, session.ErrNoRepository):
		return echo.NewHTTPError(http.StatusConflict, "no repository loaded, load one first")
	case errors.Is(err, chat.ErrGenerationFailed):
		s.logger.Warn(c.Request().Context(), "answer generation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "the language model did not answer")
	default:
		s.logger.Error(c.Request().Context(), "chat request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "question could not be answered")
	}
}

// HistoryResponse is the response body for GET /api/v1/history.
type HistoryResponse struct {
	Turns []chat.Turn `json:"turns"`
}

func (s *Server) handleHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, HistoryResponse{Turns: s.services.Session().History()})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until ctx is cancelled, then shuts down gracefully within
// the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()
	s.logger.Info(ctx, "http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
