// Package api provides the HTTP API of certsweep: sweep control, live
// results over a websocket, health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	apihandlers "github.com/anstrom/certsweep/internal/api/handlers"
	"github.com/anstrom/certsweep/internal/api/middleware"
	"github.com/anstrom/certsweep/internal/auth"
	"github.com/anstrom/certsweep/internal/config"
	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/services"
)

const (
	serverShutdownTimeout = 30 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	service    *services.ScanService
	hub        *apihandlers.WebSocketHandler
	logger     *logging.Logger
	metrics    *metrics.Registry
	prom       *metrics.PrometheusMetrics
	startTime  time.Time
}

// New creates the API server and attaches its websocket hub as the live
// event sink of service. prom, registry and database may be nil; a nil
// registry gets a fresh one.
func New(
	cfg *config.Config,
	service *services.ScanService,
	prom *metrics.PrometheusMetrics,
	registry *metrics.Registry,
	database apihandlers.DatabasePinger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if service == nil {
		return nil, fmt.Errorf("scan service is required")
	}

	logger := logging.Default().WithComponent("api")

	var keyring *auth.Keyring
	if cfg.API.AuthEnabled {
		keyring = auth.NewKeyring(cfg.API.APIKeyHashes)
		if keyring.Len() == 0 {
			return nil, fmt.Errorf("api.auth_enabled requires at least one entry in api.api_key_hashes")
		}
	}

	if registry == nil {
		registry = metrics.NewRegistry()
	}

	s := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		service:   service,
		logger:    logger,
		metrics:   registry,
		prom:      prom,
		startTime: time.Now(),
	}

	var gauge apihandlers.ClientGauge
	if prom != nil {
		gauge = prom
	}
	s.hub = apihandlers.NewWebSocketHandler(logger, s.metrics, gauge, cfg.API.AllowedOrigins)
	service.SetPublisher(s.hub)

	s.setupMiddleware(keyring)
	s.setupRoutes(database)

	s.httpServer = &http.Server{
		Addr:           cfg.APIAddress(),
		Handler:        s.corsHandler(),
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    cfg.API.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return s, nil
}

func (s *Server) setupRoutes(database apihandlers.DatabasePinger) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	health := apihandlers.NewHealthHandler(database, s.service, s.logger, s.metrics)
	api.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", health.Version).Methods(http.MethodGet)
	api.HandleFunc("/metrics", health.Metrics).Methods(http.MethodGet)

	scans := apihandlers.NewScanHandler(s.service, s.logger, s.metrics)
	api.HandleFunc("/targets", scans.PreviewTargets).Methods(http.MethodGet)
	api.HandleFunc("/scans", scans.StartScan).Methods(http.MethodPost)
	api.HandleFunc("/scans/current", scans.GetCurrent).Methods(http.MethodGet)
	api.HandleFunc("/scans/current", scans.CancelCurrent).Methods(http.MethodDelete)
	api.HandleFunc("/scans/current/results", scans.GetResults).Methods(http.MethodGet)

	api.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)

	if s.prom != nil {
		s.router.Handle("/metrics", s.prom.Handler()).Methods(http.MethodGet)
	}
}

func (s *Server) setupMiddleware(keyring *auth.Keyring) {
	var recorder middleware.HTTPRecorder
	if s.prom != nil {
		recorder = s.prom
	}

	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(s.metrics, recorder))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.ContentType())
	if keyring != nil {
		s.router.Use(middleware.Authentication(keyring, s.logger))
	}
}

// corsHandler wraps the whole router so preflight requests are answered
// before route matching.
func (s *Server) corsHandler() http.Handler {
	origins := s.config.API.AllowedOrigins
	if len(origins) == 0 {
		return s.router
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
	)(s.router)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"auth_enabled", s.config.API.AuthEnabled)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	}
}

// Stop drains in-flight requests and disconnects websocket clients. A
// running sweep is left to the scan service.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	s.hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped", "uptime", time.Since(s.startTime).Round(time.Second).String())
	return nil
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router as served, wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// Hub returns the websocket hub.
func (s *Server) Hub() *apihandlers.WebSocketHandler {
	return s.hub
}

// Metrics returns the in-memory registry behind /api/v1/metrics.
func (s *Server) Metrics() *metrics.Registry {
	return s.metrics
}
