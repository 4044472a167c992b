package platform

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ato-project/ato/pkg/engine"
)

// DefaultProvider is used when a credential profile names no provider.
const DefaultProvider = "boomi"

// CallObserver receives one observation per platform HTTP call.
type CallObserver interface {
	ObservePlatformCall(provider, operation, outcome string, duration time.Duration)
}

// HTTPConfig tunes the HTTP transport of platform clients.
type HTTPConfig struct {
	// BaseURL overrides the provider's public API endpoint.
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	RetryMax     int           `yaml:"retry_max" json:"retry_max" validate:"gte=0"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min" json:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" json:"retry_wait_max"`
}

// DefaultHTTPConfig returns the transport defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 10 * time.Second,
	}
}

// Options are handed to every constructor.
type Options struct {
	HTTP     HTTPConfig
	Logger   zerolog.Logger
	Observer CallObserver
}

// Constructor builds a client for one credential bundle.
type Constructor func(creds *engine.Credentials, opts Options) (engine.PlatformClient, error)

// Registry maps provider names to client constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	opts         Options
}

// NewRegistry creates an empty registry. Zero-valued transport settings fall back
// to DefaultHTTPConfig.
func NewRegistry(opts Options) *Registry {
	defaults := DefaultHTTPConfig()
	if opts.HTTP.Timeout == 0 {
		opts.HTTP.Timeout = defaults.Timeout
	}
	if opts.HTTP.RetryWaitMin == 0 {
		opts.HTTP.RetryWaitMin = defaults.RetryWaitMin
	}
	if opts.HTTP.RetryWaitMax == 0 {
		opts.HTTP.RetryWaitMax = defaults.RetryWaitMax
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Registry{
		constructors: make(map[string]Constructor),
		opts:         opts,
	}
}

// Register adds or replaces the constructor for provider.
func (r *Registry) Register(provider string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[normalize(provider)] = c
}

// Providers lists registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewClient implements engine.ClientFactory.
func (r *Registry) NewClient(creds *engine.Credentials) (engine.PlatformClient, error) {
	if creds == nil {
		return nil, engine.NewValidationError("credentials are required")
	}
	provider := normalize(creds.Provider)

	r.mu.RLock()
	c, ok := r.constructors[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, engine.NewValidationError(fmt.Sprintf("unsupported platform provider %q", provider)).
			WithDetail("registered", r.Providers())
	}

	opts := r.opts
	opts.Logger = r.opts.Logger.With().Str("provider", provider).Str("account_id", creds.AccountID).Logger()
	return c(creds, opts)
}

func normalize(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return DefaultProvider
	}
	return p
}

type nopObserver struct{}

func (nopObserver) ObservePlatformCall(string, string, string, time.Duration) {}
