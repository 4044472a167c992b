package service

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/ato-project/ato/pkg/config"
	"github.com/ato-project/ato/pkg/credentials"
	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/platform"
	"github.com/ato-project/ato/pkg/platform/boomi"
	"github.com/ato-project/ato/pkg/policy"
	"github.com/ato-project/ato/pkg/stores"
	"github.com/ato-project/ato/pkg/telemetry"
)

// BootstrapOptions tune Open.
type BootstrapOptions struct {
	// Telemetry is optional. Without it the service logs through Logger and
	// records no metrics or events.
	Telemetry *telemetry.Telemetry

	// Logger is used when Telemetry is nil.
	Logger zerolog.Logger

	// SharedGate imposes the configured concurrency limit across batches.
	SharedGate bool

	// WatchPolicies reloads policy files on change when policies are enabled
	// and the config asks for it.
	WatchPolicies bool

	// PersistEvents appends engine events to the store.
	PersistEvents bool

	// Clients replaces the platform provider registry.
	Clients engine.ClientFactory
}

// Open wires a Service from configuration: it opens and migrates the store,
// unlocks credential profiles, registers platform providers and loads
// execution policies. The returned Service owns all of them; Close releases
// them.
func Open(ctx context.Context, cfg *config.Config, opts BootstrapOptions) (*Service, error) {
	logger := opts.Logger
	if opts.Telemetry != nil {
		logger = opts.Telemetry.Logger.Zerolog()
	}

	store, err := stores.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	closers := []func() error{store.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	creds, err := credentials.NewStore(store, cfg.Credentials.Passphrase, logger.With().Str("component", "credentials").Logger())
	if err != nil {
		cleanup()
		return nil, err
	}

	registryOpts := platform.Options{
		HTTP:   cfg.HTTPConfig(),
		Logger: logger.With().Str("component", "platform").Logger(),
	}
	if opts.Telemetry != nil && opts.Telemetry.Metrics != nil {
		registryOpts.Observer = opts.Telemetry.Metrics
	}
	registry := platform.NewRegistry(registryOpts)
	boomi.Register(registry)

	var evaluator engine.PolicyEvaluator
	if cfg.Policy.Enabled {
		pe, err := openPolicies(ctx, cfg.Policy, cfg.Telemetry.Environment, opts.WatchPolicies, logger)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, pe.Close)
		evaluator = pe
	}

	var clients engine.ClientFactory = registry
	if opts.Clients != nil {
		clients = opts.Clients
	}

	svc, err := New(Options{
		Store:                store,
		Credentials:          creds,
		Clients:              clients,
		Execution:            cfg.ExecutionConfig(),
		DiscoveryConcurrency: cfg.Discovery.Concurrency,
		DefaultProfile:       cfg.Credentials.DefaultProfile,
		SharedGate:           opts.SharedGate,
		Logger:               logger,
		Telemetry:            opts.Telemetry,
		Policy:               evaluator,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	if opts.PersistEvents && opts.Telemetry != nil {
		unsubscribe := opts.Telemetry.Events.Subscribe(
			telemetry.StoreSink(store, logger.With().Str("component", "event-sink").Logger()), nil)
		closers = append(closers, func() error {
			unsubscribe()
			return nil
		})
	}

	for _, c := range closers {
		svc.onClose(c)
	}

	logger.Info().
		Str("database", cfg.Database.Path).
		Strs("providers", registry.Providers()).
		Bool("policies", cfg.Policy.Enabled).
		Bool("shared_gate", opts.SharedGate).
		Msg("Service ready")
	return svc, nil
}

func openPolicies(ctx context.Context, cfg config.PolicyConfig, env string, watch bool, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(
		logger.With().Str("component", "policy").Logger(),
		policy.WithBuiltins(cfg.Builtins),
		policy.WithEnvironment(env),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	if cfg.Directory == "" {
		return pe, nil
	}
	if _, err := os.Stat(cfg.Directory); err != nil {
		_ = pe.Close()
		return nil, fmt.Errorf("policy directory %s: %w", cfg.Directory, err)
	}

	paths := []string{cfg.Directory}
	if err := pe.LoadPolicies(ctx, paths); err != nil {
		_ = pe.Close()
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	if watch && cfg.Watch {
		if err := pe.Watch(ctx, paths); err != nil {
			_ = pe.Close()
			return nil, fmt.Errorf("failed to watch policies: %w", err)
		}
	}
	return pe, nil
}
