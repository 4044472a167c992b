package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/ato-project/ato/pkg/engine"
)

// Engine evaluates execution policies. It implements engine.PolicyEvaluator.
//
// Every enabled policy contributes the contents of its deny set. Violations
// with error or critical severity deny the job; the rest are reported as
// warnings.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	store       storage.Store
	logger      zerolog.Logger
	loader      *Loader
	environment string
	builtins    bool
}

var _ engine.PolicyEvaluator = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithBuiltins controls whether the built-in execution policies are loaded.
// They are loaded by default.
func WithBuiltins(enabled bool) Option {
	return func(e *Engine) { e.builtins = enabled }
}

// WithEnvironment sets input.context.environment.
func WithEnvironment(env string) Option {
	return func(e *Engine) { e.environment = env }
}

// NewEngine creates a new policy engine.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtins: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loader = NewLoader(e.logger)

	if e.builtins {
		if err := e.loadBuiltinPolicies(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to load built-in policies: %w", err)
		}
	}
	return e, nil
}

// EvaluateJob implements engine.PolicyEvaluator.
func (e *Engine) EvaluateJob(ctx context.Context, in *engine.JobPolicyInput) (*engine.PolicyDecision, error) {
	result, err := e.Evaluate(ctx, in)
	if err != nil {
		return nil, err
	}

	decision := &engine.PolicyDecision{Allowed: result.Allowed}
	for _, v := range result.Violations {
		decision.Reasons = append(decision.Reasons, v.Message)
	}
	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("component_id", w.Resource).
			Msg(w.Message)
	}
	return decision, nil
}

// Evaluate runs every enabled policy against one job. An evaluation error in
// any policy is returned; callers treat it as a denial.
func (e *Engine) Evaluate(ctx context.Context, in *engine.JobPolicyInput) (*Result, error) {
	if in == nil {
		return nil, engine.NewValidationError("policy input is required")
	}
	start := time.Now()

	input := &Input{
		Plan:                in.Plan,
		Component:           in.Component,
		Mapping:             in.Mapping,
		ExecutionInstanceID: in.ExecutionInstanceID,
		Context: &Context{
			Timestamp:   start.UTC(),
			Operation:   "execute",
			Environment: e.environment,
		},
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedPolicies: []string{}}
	var errs []error
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			errs = append(errs, fmt.Errorf("policy %s: %w", name, err))
			continue
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)

	if len(errs) > 0 {
		return nil, engine.NewPermanentError("execution policy evaluation failed", errors.Join(errs...)).
			WithCode(engine.ErrCodePolicyDenied)
	}

	e.logger.Debug().
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Job policy evaluation completed")
	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// createViolation builds a Violation from one deny entry. Entries may be plain
// strings or objects with message, severity and resource keys.
func createViolation(policy *Policy, entry interface{}, input *Input) Violation {
	v := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	if input.Component != nil {
		v.Resource = input.Component.ComponentID
	}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if res, ok := d["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	if v.Message == "" {
		v.Message = "denied by " + policy.Name
	}
	return v
}

// compile parses a policy and prepares its deny query.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", policy.Name)
	}

	query := module.Package.Path.String() + ".deny"
	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(query),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query %s: %w", query, err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	return &compiledPolicy{policy: policy, query: prepared, compiled: time.Now()}, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		cp, err := e.compile(ctx, &builtins[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return nil
}

// AddPolicy compiles and registers one policy, replacing any policy of the same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	cp, err := e.compile(ctx, &policy)
	if err != nil {
		return engine.NewValidationError(fmt.Sprintf("invalid policy %s: %v", policy.Name, err)).WithResource(policy.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[policy.Name] = cp
	return nil
}

// LoadPolicies loads .rego and .json policies from paths, replacing every
// previously loaded non-builtin policy. Nothing changes if any policy fails to
// compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.replaceLoaded(ctx, policies)
}

func (e *Engine) replaceLoaded(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := e.compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled[policies[i].Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded")
	return nil
}

// Watch reloads the policies under paths whenever a policy file changes.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.replaceLoaded(ctx, policies)
	})
}

// Close stops watching.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, engine.NewNotFoundError("policy", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return engine.NewNotFoundError("policy", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
