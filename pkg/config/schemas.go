package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry holds compiled CUE definitions that configuration documents
// are unified with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in "config" schema.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("config", "#Config", builtinConfigSchema); err != nil {
		panic(fmt.Sprintf("built-in config schema: %v", err))
	}
	return sr
}

// Context returns the CUE context schemas were compiled in. Documents must be
// compiled in the same context before they are unified.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles src and registers the definition at path under name.
func (sr *SchemaRegistry) RegisterSchema(name, path, src string) error {
	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(path))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, path)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns the registered schema names in order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unify checks val against the named schema and returns the unified value.
// Problems are reported as a *SchemaError.
func (sr *SchemaRegistry) Unify(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, &SchemaError{Errors: convertCUEErrors(err)}
	}
	return unified, nil
}

// SchemaError lists the problems found while checking a document.
type SchemaError struct {
	Errors []ValidationError
}

func (e *SchemaError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration is invalid"
	}
	first := e.Errors[0]
	msg := first.Message
	if first.Path != "" && !strings.Contains(msg, first.Path) {
		msg = first.Path + ": " + msg
	}
	if first.File != "" {
		msg = fmt.Sprintf("%s:%d:%d: %s", first.File, first.Line, first.Column, msg)
	}
	if len(e.Errors) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(e.Errors)-1)
	}
	return msg
}

// convertCUEErrors flattens a CUE error list into ValidationErrors.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	return out
}

// builtinConfigSchema mirrors Config. Every field is optional; omitted fields
// keep their defaults.
const builtinConfigSchema = `
#Config: {
	database?: {
		path?:            string & !=""
		max_open_conns?:  int & >=0
		busy_timeout_ms?: int & >=0
	}

	execution?: {
		poll_interval_ms?:  int & >=0
		max_polls?:         int & >=1
		max_retries?:       int & >=1
		initial_delay_ms?:  int & >=0
		max_delay_ms?:      int & >=0
		concurrency_limit?: int & >=1
	}

	discovery?: {
		concurrency?: int & >=1
	}

	platform?: {
		base_url?:          string & =~"^https?://"
		timeout_ms?:        int & >=0
		retry_max?:         int & >=0
		retry_wait_min_ms?: int & >=0
		retry_wait_max_ms?: int & >=0
	}

	credentials?: {
		passphrase?:      string
		default_profile?: string
	}

	policy?: {
		enabled?:   bool
		directory?: string
		watch?:     bool
		builtins?:  bool
	}

	server?: {
		listen_address?:      string & !=""
		read_timeout_ms?:     int & >=0
		write_timeout_ms?:    int & >=0
		shutdown_timeout_ms?: int & >=0
	}

	telemetry?: {
		service_name?:       string & !=""
		environment?:        string
		log_level?:          "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?:         "console" | "json"
		tracing_enabled?:    bool
		tracing_exporter?:   "otlp" | "stdout" | "none"
		tracing_endpoint?:   string
		sampling_rate?:      number & >=0 & <=1
		metrics_enabled?:    bool
		events_buffer_size?: int & >=0
		events_min_level?:   "info" | "warning" | "error"
	}
}
`
