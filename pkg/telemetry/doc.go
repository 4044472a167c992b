// Package telemetry provides observability for ato: structured logging
// (zerolog), tracing (OpenTelemetry), Prometheus metrics and an engine event
// publisher.
//
// # Usage
//
// Initialize telemetry at startup, usually from config.Config.TelemetryConfig:
//
//	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Logs go to stderr by default so that command output on stdout stays
// machine readable. Packages that take a zerolog.Logger get one from
// Logger.Zerolog:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	orch := engine.NewOrchestrator(..., engine.WithLogger(logger.Zerolog()))
//
// # Tracing
//
// NewTracer installs the global trace provider. The engine starts its own
// spans (discovery, execution, job) from that provider.
// Exporters: otlp (gRPC) and stdout. With tracing disabled spans are no-ops.
//
// # Metrics
//
// Metrics implements engine.Metrics and platform.CallObserver on a private
// registry. The API server mounts Metrics.Handler on Metrics.Path:
//
//	ato_discoveries_total{status}
//	ato_discovery_duration_seconds{status}
//	ato_discovery_components
//	ato_jobs_total{status,kind}
//	ato_job_duration_seconds{status}
//	ato_submit_attempts_total{outcome}
//	ato_polls_total{state}
//	ato_jobs_in_flight
//	ato_platform_calls_total{provider,operation,outcome}
//	ato_platform_call_duration_seconds{provider,operation}
//
// # Events
//
// EventPublisher implements engine.EventPublisher. Events are delivered to
// subscribers in publish order from a single goroutine; Shutdown delivers
// whatever is still queued. StoreSink persists events to the store's event
// log:
//
//	tel.Events.Subscribe(telemetry.StoreSink(db, logger.Zerolog()), nil)
//
//	stop := tel.Events.Subscribe(func(e engine.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByPlanID(planID))
//	defer stop()
package telemetry
