package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ato-project/ato/pkg/credentials"
	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/stores"
	"github.com/ato-project/ato/pkg/telemetry"
)

// Store is the persistence the service needs.
type Store interface {
	engine.PlanStore
	engine.MappingStore
	engine.ResultStore

	ListEvents(ctx context.Context, filter stores.EventFilter) ([]*stores.EventRecord, error)
	HealthCheck(ctx context.Context) error
}

// Credentials manages credential profiles.
type Credentials interface {
	engine.CredentialResolver

	Add(ctx context.Context, name string, creds engine.Credentials) error
	List(ctx context.Context) ([]credentials.Profile, error)
	Get(ctx context.Context, name string) (*credentials.Profile, error)
	Delete(ctx context.Context, name string) error
}

// Options configure a Service.
type Options struct {
	Store       Store
	Credentials Credentials
	Clients     engine.ClientFactory

	Execution            engine.ExecutionConfig
	DiscoveryConcurrency int

	// DefaultProfile is used when a request names no credential profile.
	DefaultProfile string

	// SharedGate bounds platform jobs across every batch the service runs
	// instead of per batch.
	SharedGate bool

	Logger    zerolog.Logger
	Telemetry *telemetry.Telemetry
	Policy    engine.PolicyEvaluator
}

// Service is the application surface shared by the CLI and the HTTP API.
type Service struct {
	store        Store
	creds        Credentials
	discoverer   *engine.Discoverer
	orchestrator *engine.Orchestrator
	validate     *validator.Validate
	logger       zerolog.Logger
	tel          *telemetry.Telemetry

	defaultProfile string

	gateMu     sync.RWMutex
	gate       *engine.Gate
	sharedGate bool

	// background executions started by StartExecution. bgMu orders
	// bg.Add against Close.
	bgMu     sync.Mutex
	closed   bool
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	closers []func() error
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("credentials are required")
	}
	if opts.Clients == nil {
		return nil, errors.New("client factory is required")
	}

	engineOpts := []engine.Option{engine.WithLogger(opts.Logger)}
	if opts.Telemetry != nil {
		engineOpts = append(engineOpts,
			engine.WithMetrics(opts.Telemetry.Metrics),
			engine.WithEvents(opts.Telemetry.Events),
		)
	}
	if opts.Policy != nil {
		engineOpts = append(engineOpts, engine.WithPolicy(opts.Policy))
	}

	orchestrator := engine.NewOrchestrator(
		opts.Store, opts.Store, opts.Store, opts.Credentials, opts.Clients, opts.Execution, engineOpts...)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Service{
		store:          opts.Store,
		creds:          opts.Credentials,
		discoverer:     engine.NewDiscoverer(opts.Store, opts.Credentials, opts.Clients, opts.DiscoveryConcurrency, engineOpts...),
		orchestrator:   orchestrator,
		validate:       validator.New(),
		logger:         opts.Logger.With().Str("component", "service").Logger(),
		tel:            opts.Telemetry,
		defaultProfile: opts.DefaultProfile,
		sharedGate:     opts.SharedGate,
		bgCtx:          bgCtx,
		bgCancel:       bgCancel,
	}
	if opts.SharedGate {
		s.gate = engine.NewGate(orchestrator.Config().ConcurrencyLimit)
	}
	return s, nil
}

// ExecutionConfig returns the execution settings in effect.
func (s *Service) ExecutionConfig() engine.ExecutionConfig {
	return s.orchestrator.Config()
}

// UpdateExecutionConfig applies new execution settings to batches started
// from now on. A shared gate is resized in place, so running batches are
// held to the new limit as their jobs finish.
func (s *Service) UpdateExecutionConfig(cfg engine.ExecutionConfig) {
	s.orchestrator.UpdateConfig(cfg)
	if !s.sharedGate {
		return
	}
	limit := s.orchestrator.Config().ConcurrencyLimit
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if s.gate == nil {
		s.gate = engine.NewGate(limit)
		return
	}
	if s.gate.Limit() != limit {
		s.gate.SetLimit(limit)
	}
}

// Gate returns the shared admission gate, or nil when every batch gets its own.
func (s *Service) Gate() *engine.Gate {
	s.gateMu.RLock()
	defer s.gateMu.RUnlock()
	return s.gate
}

// Health checks the store.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store unhealthy: %w", err)
	}
	return nil
}

// Close cancels the admission of background executions, waits for them to
// drain and releases what the service owns.
func (s *Service) Close(ctx context.Context) error {
	s.bgMu.Lock()
	s.closed = true
	s.bgCancel()
	s.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("background executions still running: %w", ctx.Err()))
	}

	s.bgMu.Lock()
	closers := s.closers
	s.closers = nil
	s.bgMu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) onClose(fn func() error) {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	s.closers = append(s.closers, fn)
}

// profile applies the default credential profile.
func (s *Service) profile(name string) string {
	if name != "" {
		return name
	}
	return s.defaultProfile
}

func (s *Service) startOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *telemetry.InstrumentedContext {
	if s.tel != nil && telemetry.FromTelemetryContext(ctx) == nil {
		ctx = s.tel.WithContext(ctx)
	}
	return telemetry.StartOperation(ctx, operation, attrs...)
}

func (s *Service) validationError(what string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return engine.NewValidationError(fmt.Sprintf("invalid %s: %s failed on %q", what, fe.Field(), fe.Tag()))
	}
	return engine.NewValidationError(fmt.Sprintf("invalid %s: %v", what, err))
}
