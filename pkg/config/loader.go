package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/platform"
	"github.com/ato-project/ato/pkg/stores"
	"github.com/ato-project/ato/pkg/telemetry"
)

// Environment variables read by Load. The PLATFORM_* names are kept from the
// original deployment scripts.
const (
	EnvConfigFile       = "ATO_CONFIG"
	EnvDatabasePath     = "ATO_DATABASE_PATH"
	EnvPassphrase       = "ATO_CREDENTIALS_PASSPHRASE"
	EnvDefaultProfile   = "ATO_PROFILE"
	EnvServerAddress    = "ATO_SERVER_ADDRESS"
	EnvPolicyDir        = "ATO_POLICY_DIR"
	EnvLogLevel         = "LOG_LEVEL"
	EnvPollInterval     = "PLATFORM_POLL_INTERVAL"
	EnvMaxPolls         = "PLATFORM_MAX_POLLS"
	EnvMaxRetries       = "PLATFORM_MAX_RETRIES"
	EnvInitialDelay     = "PLATFORM_INITIAL_DELAY"
	EnvConcurrencyLimit = "PLATFORM_CONCURRENCY_LIMIT"
	EnvPlatformBaseURL  = "PLATFORM_BASE_URL"
)

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	exec := engine.DefaultExecutionConfig()
	http := platform.DefaultHTTPConfig()

	return &Config{
		Database: DatabaseConfig{
			Path:          "ato.db",
			MaxOpenConns:  8,
			BusyTimeoutMs: 5000,
		},
		Execution: ExecutionConfig{
			PollIntervalMs:   int(exec.PollInterval / time.Millisecond),
			MaxPolls:         exec.MaxPolls,
			MaxRetries:       exec.MaxRetries,
			InitialDelayMs:   int(exec.InitialDelay / time.Millisecond),
			MaxDelayMs:       int(exec.MaxDelay / time.Millisecond),
			ConcurrencyLimit: exec.ConcurrencyLimit,
		},
		Discovery: DiscoveryConfig{
			Concurrency: 8,
		},
		Platform: PlatformConfig{
			TimeoutMs:      int(http.Timeout / time.Millisecond),
			RetryMax:       http.RetryMax,
			RetryWaitMinMs: int(http.RetryWaitMin / time.Millisecond),
			RetryWaitMaxMs: int(http.RetryWaitMax / time.Millisecond),
		},
		Policy: PolicyConfig{
			Enabled:  true,
			Builtins: true,
		},
		Server: ServerConfig{
			ListenAddress:     ":8080",
			ReadTimeoutMs:     15000,
			WriteTimeoutMs:    30000,
			ShutdownTimeoutMs: 30000,
		},
		Telemetry: TelemetryConfig{
			ServiceName:      "ato",
			Environment:      "development",
			LogLevel:         "info",
			LogFormat:        "console",
			TracingExporter:  "none",
			SamplingRate:     1.0,
			MetricsEnabled:   true,
			EventsBufferSize: 1000,
		},
	}
}

// Loader reads configuration files. The zero value is not usable; use NewLoader.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
	getenv   func(string) string
}

// NewLoader creates a loader that reads the process environment.
func NewLoader() *Loader {
	return &Loader{
		schemas:  NewSchemaRegistry(),
		validate: validator.New(),
		getenv:   os.Getenv,
	}
}

// Load is a convenience for NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// ResolvePath returns path, or the ATO_CONFIG file when path is empty.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(EnvConfigFile)
}

// Load builds a configuration from defaults, the optional file at path and the
// environment, in that order, and validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := l.overlay(cfg, path, data); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay decodes data on top of cfg according to the file extension.
func (l *Loader) overlay(cfg *Config, path string, data []byte) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return decodeYAML(cfg, path, data)
	case ".cue":
		return l.decodeCUE(cfg, path, data)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config file type %q", ext)
	}
}

func decodeYAML(cfg *Config, path string, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// decodeCUE unifies the document with #Config and copies the concrete fields
// onto cfg. Fields the document leaves out keep their current values.
func (l *Loader) decodeCUE(cfg *Config, path string, data []byte) error {
	val := l.schemas.Context().CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return &SchemaError{Errors: convertCUEErrors(err)}
	}

	unified, err := l.schemas.Unify("config", val)
	if err != nil {
		return err
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// applyEnv applies environment overrides.
func (l *Loader) applyEnv(cfg *Config) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{EnvDatabasePath, &cfg.Database.Path},
		{EnvPassphrase, &cfg.Credentials.Passphrase},
		{EnvDefaultProfile, &cfg.Credentials.DefaultProfile},
		{EnvServerAddress, &cfg.Server.ListenAddress},
		{EnvPolicyDir, &cfg.Policy.Directory},
		{EnvLogLevel, &cfg.Telemetry.LogLevel},
		{EnvPlatformBaseURL, &cfg.Platform.BaseURL},
	}
	for _, s := range strs {
		if v := l.getenv(s.name); v != "" {
			*s.dst = v
		}
	}
	cfg.Telemetry.LogLevel = strings.ToLower(cfg.Telemetry.LogLevel)

	ints := []struct {
		name string
		dst  *int
	}{
		{EnvPollInterval, &cfg.Execution.PollIntervalMs},
		{EnvMaxPolls, &cfg.Execution.MaxPolls},
		{EnvMaxRetries, &cfg.Execution.MaxRetries},
		{EnvInitialDelay, &cfg.Execution.InitialDelayMs},
		{EnvConcurrencyLimit, &cfg.Execution.ConcurrencyLimit},
	}
	for _, i := range ints {
		v := strings.TrimSpace(l.getenv(i.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: must be an integer", i.name, v)
		}
		*i.dst = n
	}
	return nil
}

// Validate checks field constraints.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			out := make([]ValidationError, 0, len(verrs))
			for _, fe := range verrs {
				out = append(out, ValidationError{
					Path:    fieldPath(fe.Namespace()),
					Message: fmt.Sprintf("failed on %q constraint", fe.Tag()),
				})
			}
			return &SchemaError{Errors: out}
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// fieldPath turns "Config.Execution.MaxPolls" into "Execution.MaxPolls".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ExecutionConfig converts the execution section for the orchestrator.
func (c *Config) ExecutionConfig() engine.ExecutionConfig {
	return engine.ExecutionConfig{
		PollInterval:     millis(c.Execution.PollIntervalMs),
		MaxPolls:         c.Execution.MaxPolls,
		MaxRetries:       c.Execution.MaxRetries,
		InitialDelay:     millis(c.Execution.InitialDelayMs),
		MaxDelay:         millis(c.Execution.MaxDelayMs),
		ConcurrencyLimit: c.Execution.ConcurrencyLimit,
	}
}

// StoreConfig converts the database section.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:         c.Database.Path,
		MaxOpenConns: c.Database.MaxOpenConns,
		BusyTimeout:  millis(c.Database.BusyTimeoutMs),
	}
}

// HTTPConfig converts the platform section.
func (c *Config) HTTPConfig() platform.HTTPConfig {
	return platform.HTTPConfig{
		BaseURL:      c.Platform.BaseURL,
		Timeout:      millis(c.Platform.TimeoutMs),
		RetryMax:     c.Platform.RetryMax,
		RetryWaitMin: millis(c.Platform.RetryWaitMinMs),
		RetryWaitMax: millis(c.Platform.RetryWaitMaxMs),
	}
}

// TelemetryConfig expands the telemetry section. version is the build version.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = c.Telemetry.ServiceName
	if version != "" {
		tc.ServiceVersion = version
	}
	tc.Environment = c.Telemetry.Environment
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Tracing.Enabled = c.Telemetry.TracingEnabled && c.Telemetry.TracingExporter != "none"
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	tc.Tracing.SamplingRate = c.Telemetry.SamplingRate
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tc.Events.Enabled = c.Telemetry.EventsBufferSize > 0
	tc.Events.BufferSize = c.Telemetry.EventsBufferSize
	tc.Events.MinLevel = c.Telemetry.EventsMinLevel
	return tc
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
