package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ato-project/ato/pkg/config"
	"github.com/ato-project/ato/pkg/service"
	"github.com/ato-project/ato/pkg/telemetry"
)

// Prefix is the path prefix of every API route.
const Prefix = "/api/v1"

// Server serves the test orchestration API over HTTP.
type Server struct {
	svc    *service.Service
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	cfg    config.ServerConfig

	handler http.Handler
}

// Options configure a Server.
type Options struct {
	Config config.ServerConfig

	// Telemetry provides tracing, request metrics and the /metrics endpoint.
	// It may be nil.
	Telemetry *telemetry.Telemetry

	// Logger is used when Telemetry is nil.
	Logger zerolog.Logger
}

// NewServer creates a Server for svc.
func NewServer(svc *service.Service, opts Options) *Server {
	logger := opts.Logger
	if opts.Telemetry != nil {
		logger = opts.Telemetry.Logger.Zerolog()
	}

	s := &Server{
		svc:    svc,
		tel:    opts.Telemetry,
		logger: logger.With().Str("component", "api").Logger(),
		cfg:    opts.Config,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.tel != nil && s.tel.Metrics.Registry() != nil {
		mux.Handle("GET "+s.tel.Metrics.Path(), s.tel.Metrics.Handler())
	}

	mux.HandleFunc("GET "+Prefix+"/test-plans", s.handleListPlans)
	mux.HandleFunc("POST "+Prefix+"/test-plans", s.handleDiscover)
	mux.HandleFunc("GET "+Prefix+"/test-plans/{planId}", s.handleGetPlan)
	mux.HandleFunc("DELETE "+Prefix+"/test-plans/{planId}", s.handleDeletePlan)
	mux.HandleFunc("POST "+Prefix+"/test-plans/{planId}/execute", s.handleExecute)
	mux.HandleFunc("POST "+Prefix+"/test-plans/{planId}/selection", s.handleSelection)

	mux.HandleFunc("GET "+Prefix+"/mappings", s.handleListMappings)
	mux.HandleFunc("POST "+Prefix+"/mappings", s.handleCreateMapping)
	mux.HandleFunc("POST "+Prefix+"/mappings/import", s.handleImportMappings)
	mux.HandleFunc("GET "+Prefix+"/mappings/component/{mainComponentId}", s.handleMappingsForComponent)
	mux.HandleFunc("GET "+Prefix+"/mappings/{mappingId}", s.handleGetMapping)
	mux.HandleFunc("PUT "+Prefix+"/mappings/{mappingId}", s.handleUpdateMapping)
	mux.HandleFunc("DELETE "+Prefix+"/mappings/{mappingId}", s.handleDeleteMapping)

	mux.HandleFunc("GET "+Prefix+"/test-execution-results", s.handleResults)
	mux.HandleFunc("GET "+Prefix+"/events", s.handleEvents)

	mux.HandleFunc("GET "+Prefix+"/credentials", s.handleListCredentials)
	mux.HandleFunc("POST "+Prefix+"/credentials", s.handleAddCredentials)
	mux.HandleFunc("DELETE "+Prefix+"/credentials/{profileName}", s.handleDeleteCredentials)

	return s.instrument(s.recoverPanics(mux))
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(s.cfg.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(s.cfg.WriteTimeoutMs) * time.Millisecond,
		BaseContext: func(net.Listener) context.Context {
			if s.tel != nil {
				return s.tel.WithContext(context.Background())
			}
			return context.Background()
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", ln.Addr().String()).Msg("API server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := time.Duration(s.cfg.ShutdownTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Dur("timeout", timeout).Msg("Shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Health(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, "store unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, "OK", map[string]string{"status": "ok"})
}
