package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the expanded telemetry configuration. The user-facing subset
// lives in the config package and is converted with config.TelemetryConfig.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig

	// ResourceAttributes are added to the trace resource.
	ResourceAttributes map[string]string
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path. Reports go to stdout, so
	// logs default to stderr.
	Output string `validate:"required"`

	EnableCaller bool

	// TimeFormat is unix, unixms or rfc3339.
	TimeFormat string `validate:"omitempty,oneof=unix unixms rfc3339"`
}

// TracingConfig configures span export. Discovery, batches and jobs each
// open a span; platform calls are children of their job.
type TracingConfig struct {
	Enabled bool

	Exporter string `validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string

	SamplingRate       float64 `validate:"gte=0,lte=1"`
	MaxExportBatchSize int     `validate:"gte=0"`
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

// MetricsConfig configures the private prometheus registry. The API server
// serves it under Path.
type MetricsConfig struct {
	Enabled   bool
	Path      string `validate:"omitempty,startswith=/"`
	Namespace string

	// DefaultHistogramBuckets are the duration buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int `validate:"gte=0"`

	// EnableAsync queues events for a background goroutine. When false,
	// Publish delivers on the caller's goroutine.
	EnableAsync bool

	// MinLevel drops events below it before any subscriber, the event
	// store included, sees them. Empty keeps every event.
	MinLevel string `validate:"omitempty,oneof=info warning error"`
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "ato",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "ato",
			// Jobs poll for minutes.
			DefaultHistogramBuckets: []float64{
				0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
			},
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  1000,
			EnableAsync: true,
		},
		ResourceAttributes: make(map[string]string),
	}
}

var validate = validator.New()

// Validate checks field constraints and the combinations between sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid telemetry config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid telemetry config: %w", err)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("trace endpoint is required for the otlp exporter")
	}
	if c.Events.Enabled && c.Events.BufferSize == 0 {
		return fmt.Errorf("event buffer size must be positive when events are enabled")
	}
	return nil
}
