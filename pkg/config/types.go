package config

// Config is the complete runtime configuration of ato.
//
// Durations are expressed in milliseconds so that the same document decodes
// identically from YAML and from CUE.
type Config struct {
	// Database configures the SQLite store.
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Execution tunes submission retries, polling and the concurrency ceiling.
	Execution ExecutionConfig `json:"execution" yaml:"execution"`

	// Discovery tunes dependency discovery.
	Discovery DiscoveryConfig `json:"discovery" yaml:"discovery"`

	// Platform configures the platform HTTP transport.
	Platform PlatformConfig `json:"platform" yaml:"platform"`

	// Credentials configures the sealed credential profiles.
	Credentials CredentialsConfig `json:"credentials" yaml:"credentials"`

	// Policy configures execution policies.
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	// Server configures the HTTP API.
	Server ServerConfig `json:"server" yaml:"server"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path          string `json:"path" yaml:"path" validate:"required"`
	MaxOpenConns  int    `json:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
	BusyTimeoutMs int    `json:"busy_timeout_ms" yaml:"busy_timeout_ms" validate:"gte=0"`
}

// ExecutionConfig mirrors engine.ExecutionConfig in config units.
type ExecutionConfig struct {
	PollIntervalMs   int `json:"poll_interval_ms" yaml:"poll_interval_ms" validate:"gte=0"`
	MaxPolls         int `json:"max_polls" yaml:"max_polls" validate:"gte=1"`
	MaxRetries       int `json:"max_retries" yaml:"max_retries" validate:"gte=1"`
	InitialDelayMs   int `json:"initial_delay_ms" yaml:"initial_delay_ms" validate:"gte=0"`
	MaxDelayMs       int `json:"max_delay_ms" yaml:"max_delay_ms" validate:"gte=0"`
	ConcurrencyLimit int `json:"concurrency_limit" yaml:"concurrency_limit" validate:"gte=1"`
}

// DiscoveryConfig tunes dependency discovery.
type DiscoveryConfig struct {
	// Concurrency bounds the component lookups issued per BFS level.
	Concurrency int `json:"concurrency" yaml:"concurrency" validate:"gte=1"`
}

// PlatformConfig configures the platform HTTP transport.
type PlatformConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	TimeoutMs      int    `json:"timeout_ms" yaml:"timeout_ms" validate:"gte=0"`
	RetryMax       int    `json:"retry_max" yaml:"retry_max" validate:"gte=0"`
	RetryWaitMinMs int    `json:"retry_wait_min_ms" yaml:"retry_wait_min_ms" validate:"gte=0"`
	RetryWaitMaxMs int    `json:"retry_wait_max_ms" yaml:"retry_wait_max_ms" validate:"gte=0"`
}

// CredentialsConfig configures credential profiles.
type CredentialsConfig struct {
	// Passphrase unlocks sealed profiles. Prefer ATO_CREDENTIALS_PASSPHRASE.
	Passphrase string `json:"passphrase" yaml:"passphrase"`

	// DefaultProfile is used when a command names no profile.
	DefaultProfile string `json:"default_profile" yaml:"default_profile"`
}

// PolicyConfig configures execution policies.
type PolicyConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Directory string `json:"directory" yaml:"directory"`
	Watch     bool   `json:"watch" yaml:"watch"`
	Builtins  bool   `json:"builtins" yaml:"builtins"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddress     string `json:"listen_address" yaml:"listen_address" validate:"required"`
	ReadTimeoutMs     int    `json:"read_timeout_ms" yaml:"read_timeout_ms" validate:"gte=0"`
	WriteTimeoutMs    int    `json:"write_timeout_ms" yaml:"write_timeout_ms" validate:"gte=0"`
	ShutdownTimeoutMs int    `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms" validate:"gte=0"`
}

// TelemetryConfig is the flattened subset of telemetry.Config exposed to users.
type TelemetryConfig struct {
	ServiceName      string  `json:"service_name" yaml:"service_name" validate:"required"`
	Environment      string  `json:"environment" yaml:"environment"`
	LogLevel         string  `json:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat        string  `json:"log_format" yaml:"log_format" validate:"oneof=console json"`
	TracingEnabled   bool    `json:"tracing_enabled" yaml:"tracing_enabled"`
	TracingExporter  string  `json:"tracing_exporter" yaml:"tracing_exporter" validate:"oneof=otlp stdout none"`
	TracingEndpoint  string  `json:"tracing_endpoint" yaml:"tracing_endpoint"`
	SamplingRate     float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MetricsEnabled   bool    `json:"metrics_enabled" yaml:"metrics_enabled"`
	EventsBufferSize int     `json:"events_buffer_size" yaml:"events_buffer_size" validate:"gte=0"`
	EventsMinLevel   string  `json:"events_min_level" yaml:"events_min_level" validate:"omitempty,oneof=info warning error"`
}

// ValidationError is a configuration problem with its source location, when known.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the configuration path (e.g. "execution.max_polls").
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}
