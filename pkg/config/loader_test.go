package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = func(k string) string { return env[k] }
	return l
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2000, cfg.Execution.PollIntervalMs)
	assert.Equal(t, 180, cfg.Execution.MaxPolls)
	assert.Equal(t, 5, cfg.Execution.MaxRetries)
	assert.Equal(t, 1000, cfg.Execution.InitialDelayMs)
	assert.Equal(t, 5, cfg.Execution.ConcurrencyLimit)
	assert.Equal(t, "ato", cfg.Telemetry.ServiceName)
	assert.NoError(t, NewLoader().Validate(cfg))
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := newTestLoader(nil).Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "ato.yaml", `
database:
  path: /var/lib/ato/ato.db
execution:
  max_polls: 30
  concurrency_limit: 2
telemetry:
  log_format: json
`)
	cfg, err := newTestLoader(nil).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ato/ato.db", cfg.Database.Path)
	assert.Equal(t, 30, cfg.Execution.MaxPolls)
	assert.Equal(t, 2, cfg.Execution.ConcurrencyLimit)
	assert.Equal(t, 2000, cfg.Execution.PollIntervalMs, "untouched fields keep defaults")
	assert.Equal(t, "json", cfg.Telemetry.LogFormat)
}

func TestLoadYAMLUnknownField(t *testing.T) {
	path := writeFile(t, "ato.yml", "execution:\n  poll_every: 3\n")
	_, err := newTestLoader(nil).Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyYAML(t *testing.T) {
	path := writeFile(t, "ato.yaml", "")
	cfg, err := newTestLoader(nil).Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadCUE(t *testing.T) {
	path := writeFile(t, "ato.cue", `
execution: {
	poll_interval_ms: 250
	max_retries:      3
}
platform: base_url: "http://localhost:9000/api"
policy: builtins: false
`)
	cfg, err := newTestLoader(nil).Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Execution.PollIntervalMs)
	assert.Equal(t, 3, cfg.Execution.MaxRetries)
	assert.Equal(t, 180, cfg.Execution.MaxPolls)
	assert.Equal(t, "http://localhost:9000/api", cfg.Platform.BaseURL)
	assert.False(t, cfg.Policy.Builtins)
	assert.True(t, cfg.Policy.Enabled)
}

func TestLoadCUERejectsSchemaViolation(t *testing.T) {
	path := writeFile(t, "ato.cue", `execution: concurrency_limit: 0`)
	_, err := newTestLoader(nil).Load(path)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.NotEmpty(t, schemaErr.Errors)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "ato.toml", "")
	_, err := newTestLoader(nil).Load(path)
	assert.ErrorContains(t, err, "unsupported config file type")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := newTestLoader(nil).Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "ato.yaml", "execution:\n  max_polls: 30\n")
	env := map[string]string{
		EnvPollInterval:     "500",
		EnvMaxPolls:         "12",
		EnvMaxRetries:       "2",
		EnvInitialDelay:     "10",
		EnvConcurrencyLimit: "3",
		EnvDatabasePath:     "/tmp/x.db",
		EnvPassphrase:       "hunter2",
		EnvLogLevel:         "DEBUG",
	}

	cfg, err := newTestLoader(env).Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Execution.PollIntervalMs)
	assert.Equal(t, 12, cfg.Execution.MaxPolls, "environment wins over the file")
	assert.Equal(t, 2, cfg.Execution.MaxRetries)
	assert.Equal(t, 10, cfg.Execution.InitialDelayMs)
	assert.Equal(t, 3, cfg.Execution.ConcurrencyLimit)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, "hunter2", cfg.Credentials.Passphrase)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
}

func TestEnvOverrideRejectsNonInteger(t *testing.T) {
	_, err := newTestLoader(map[string]string{EnvMaxPolls: "many"}).Load("")
	assert.ErrorContains(t, err, EnvMaxPolls)
}

func TestValidateReportsFieldPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.MaxPolls = 0
	cfg.Telemetry.LogLevel = "loud"

	err := NewLoader().Validate(cfg)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Len(t, schemaErr.Errors, 2)
	assert.Equal(t, "Execution.MaxPolls", schemaErr.Errors[0].Path)
	assert.Equal(t, "Telemetry.LogLevel", schemaErr.Errors[1].Path)
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.PollIntervalMs = 1500
	cfg.Database.BusyTimeoutMs = 250
	cfg.Platform.BaseURL = "https://example.test/api"

	exec := cfg.ExecutionConfig()
	assert.Equal(t, 1500*time.Millisecond, exec.PollInterval)
	assert.Equal(t, time.Second, exec.InitialDelay)
	assert.Equal(t, time.Minute, exec.MaxDelay)
	assert.Equal(t, 5, exec.ConcurrencyLimit)

	store := cfg.StoreConfig()
	assert.Equal(t, "ato.db", store.Path)
	assert.Equal(t, 250*time.Millisecond, store.BusyTimeout)

	http := cfg.HTTPConfig()
	assert.Equal(t, "https://example.test/api", http.BaseURL)
	assert.Equal(t, 30*time.Second, http.Timeout)

	tc := cfg.TelemetryConfig("1.2.3")
	assert.Equal(t, "ato", tc.ServiceName)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.False(t, tc.Tracing.Enabled)
	assert.True(t, tc.Events.Enabled)
	assert.Empty(t, tc.Events.MinLevel)
	assert.NoError(t, tc.Validate())

	cfg.Telemetry.EventsMinLevel = "warning"
	assert.Equal(t, "warning", cfg.TelemetryConfig("").Events.MinLevel)
}
