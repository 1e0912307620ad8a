// Package server wires the HTTP router, middleware and endpoints together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jscharber/convosense/internal/realtime"
	"github.com/jscharber/convosense/internal/server/handlers"
	"github.com/jscharber/convosense/internal/server/response"
	"github.com/jscharber/convosense/internal/store"
	"github.com/jscharber/convosense/pkg/analysis"
	"github.com/jscharber/convosense/pkg/events"
	"github.com/jscharber/convosense/pkg/health"
	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
	"github.com/jscharber/convosense/pkg/tracing"
)

// Dependencies are the collaborators the router serves.
type Dependencies struct {
	Repository store.Repository
	Analyzer   *analysis.Analyzer
	Publisher  events.Publisher
	Hub        *realtime.Hub
	Health     *health.HealthChecker
	Registry   *metrics.MetricsRegistry
	Metrics    *metrics.ServiceMetrics
	Tracing    *tracing.TracingService
	Logger     *logger.Logger
	Version    string
}

// Server represents the HTTP server
type Server struct {
	config     *Config
	deps       Dependencies
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	logger     *logger.Logger
}

// New creates a new HTTP server
func New(config *Config, deps Dependencies) (*Server, error) {
	if err := config.Server.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if deps.Repository == nil || deps.Analyzer == nil {
		return nil, errors.New("repository and analyzer are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetDefault()
	}
	if deps.Registry == nil {
		deps.Registry = metrics.GetRegistry()
	}
	if deps.Health == nil {
		deps.Health = health.NewHealthChecker(0)
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: mux.NewRouter(),
		logger: deps.Logger.WithField("component", "http_server"),
	}
	s.setupRoutes()
	s.handler = s.middleware().Apply(s.router)

	s.httpServer = &http.Server{
		Addr:         config.Server.GetAddress(),
		Handler:      s.handler,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// middleware configures the middleware stack in order of execution
func (s *Server) middleware() *MiddlewareStack {
	cfg := &s.config.Server
	stack := NewMiddlewareStack()
	stack.Use(RecoveryMiddleware(s.logger))
	stack.Use(SecurityHeadersMiddleware(cfg.TLSEnabled))
	stack.Use(RequestIDMiddleware(cfg.RequestIDHeader))
	if s.deps.Tracing != nil {
		stack.Use(s.deps.Tracing.TracingMiddleware)
	}
	stack.Use(LoggingMiddleware(cfg, s.deps.Logger))
	if cfg.MetricsEnabled {
		stack.Use(metrics.NewHTTPMetrics(s.deps.Registry).Middleware())
	}
	stack.Use(CORSMiddleware(cfg))
	stack.Use(RateLimitMiddleware(cfg))
	stack.Use(MaxRequestSizeMiddleware(cfg.MaxRequestSize))
	return stack
}

func (s *Server) setupRoutes() {
	cfg := &s.config.Server

	health.NewHandler(s.deps.Health, "convosense", s.deps.Version).RegisterRoutes(s.router, cfg.HealthCheckPath)

	if cfg.MetricsEnabled {
		s.router.HandleFunc(cfg.MetricsPath, metrics.HTTPMetricsHandler(s.deps.Registry)).Methods(http.MethodGet)
	}

	if s.deps.Hub != nil {
		s.router.Handle(s.config.Realtime.Path, s.deps.Hub).Methods(http.MethodGet)
	}

	api := s.router
	if cfg.APIPrefix != "" && cfg.APIPrefix != "/" {
		s.router.HandleFunc(cfg.APIPrefix, s.apiRootHandler).Methods(http.MethodGet)
		api = s.router.PathPrefix(cfg.APIPrefix).Subrouter()
	}

	paging := handlers.Paging{DefaultSize: cfg.DefaultPageSize, MaxSize: cfg.MaxPageSize}
	handlers.NewConversationHandler(s.deps.Repository, s.deps.Analyzer, s.deps.Publisher,
		s.deps.Logger, s.deps.Metrics, paging).RegisterRoutes(api)
	handlers.NewAnalysisHandler(s.deps.Analyzer).RegisterRoutes(api)
	api.HandleFunc("/", s.apiRootHandler).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowedHandler)
}

// apiRootHandler lists the available endpoints
func (s *Server) apiRootHandler(w http.ResponseWriter, r *http.Request) {
	cfg := &s.config.Server
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "convosense",
		"version": s.deps.Version,
		"endpoints": map[string]string{
			"conversations": cfg.APIPrefix + "/conversations",
			"statistics":    cfg.APIPrefix + "/statistics",
			"analyze":       cfg.APIPrefix + "/analyze",
			"health":        cfg.HealthCheckPath,
			"metrics":       cfg.MetricsPath,
			"realtime":      s.config.Realtime.Path,
		},
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	response.WriteError(w, logger.RequestIDFromContext(r.Context()), http.StatusNotFound,
		response.ErrorCodeNotFound, fmt.Sprintf("No route for %s %s", r.Method, r.URL.Path), nil)
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	response.WriteError(w, logger.RequestIDFromContext(r.Context()), http.StatusMethodNotAllowed,
		response.ErrorCodeMethodNotAllowed, fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path), nil)
}

// Start serves until ctx is cancelled or the listener fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(map[string]interface{}{
			"address": ln.Addr().String(),
			"tls":     s.config.Server.TLSEnabled,
		}).Info("Starting HTTP server")

		var err error
		if s.config.Server.TLSEnabled {
			err = s.httpServer.ServeTLS(ln, s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithField("error", err.Error()).Error("HTTP server shutdown failed")
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}
