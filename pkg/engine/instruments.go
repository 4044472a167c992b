package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ato-project/ato/pkg/engine"

// instruments carries the optional collaborators shared by Discoverer and Orchestrator.
type instruments struct {
	logger  zerolog.Logger
	metrics Metrics
	events  EventPublisher
	policy  PolicyEvaluator
	tracer  trace.Tracer
}

// Option configures a Discoverer or an Orchestrator.
type Option func(*instruments)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(i *instruments) { i.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(i *instruments) {
		if m != nil {
			i.metrics = m
		}
	}
}

// WithEvents sets the event publisher.
func WithEvents(p EventPublisher) Option {
	return func(i *instruments) { i.events = p }
}

// WithPolicy sets the execution policy evaluator. Ignored by Discoverer.
func WithPolicy(p PolicyEvaluator) Option {
	return func(i *instruments) { i.policy = p }
}

func newInstruments(opts []Option) instruments {
	i := instruments{
		logger:  zerolog.Nop(),
		metrics: nopMetrics{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&i)
	}
	return i
}

// publishEvent publishes an engine event without blocking the caller.
func (i *instruments) publishEvent(
	ctx context.Context,
	planID, componentID string,
	eventType EventType,
	message, level string,
	data map[string]interface{},
) {
	if i.events == nil {
		return
	}

	event := &Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		PlanID:      planID,
		ComponentID: componentID,
		Message:     message,
		Level:       level,
		Data:        data,
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := i.events.Publish(ctx, event); err != nil {
			i.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Event dropped")
		}
	}()
}

type nopMetrics struct{}

func (nopMetrics) RecordDiscovery(string, int, time.Duration) {}
func (nopMetrics) RecordJob(string, string, time.Duration)    {}
func (nopMetrics) RecordSubmitAttempt(string)                 {}
func (nopMetrics) RecordPoll(string)                          {}
func (nopMetrics) JobStarted()                                {}
func (nopMetrics) JobFinished()                               {}
