package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ExecutionConfig tunes submission retries, polling and the concurrency ceiling.
type ExecutionConfig struct {
	// PollInterval is the wait between two polls of the same job.
	PollInterval time.Duration

	// MaxPolls is the number of polls after which a job times out.
	MaxPolls int

	// MaxRetries is the total number of submission attempts.
	MaxRetries int

	// InitialDelay is the first backoff delay between submission attempts.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// ConcurrencyLimit is the size of the per-call admission gate.
	ConcurrencyLimit int
}

// DefaultExecutionConfig returns the stock execution settings.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		PollInterval:     2 * time.Second,
		MaxPolls:         180,
		MaxRetries:       5,
		InitialDelay:     time.Second,
		MaxDelay:         time.Minute,
		ConcurrencyLimit: 5,
	}
}

func (c ExecutionConfig) normalized() ExecutionConfig {
	def := DefaultExecutionConfig()
	if c.PollInterval < 0 {
		c.PollInterval = 0
	}
	if c.MaxPolls < 1 {
		c.MaxPolls = 1
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.ConcurrencyLimit < 1 {
		c.ConcurrencyLimit = 1
	}
	return c
}

// job is one unit of work in a batch: a selected component and the mapping it runs.
// A nil mapping is recorded as a resolution failure.
type job struct {
	component *PlanComponent
	mapping   *Mapping
}

// Orchestrator drives test execution batches for discovered plans.
type Orchestrator struct {
	instruments

	plans    PlanStore
	mappings MappingStore
	results  ResultStore
	creds    CredentialResolver
	clients  ClientFactory

	cfgMu sync.RWMutex
	cfg   ExecutionConfig

	// batchMu serializes plan status changes and guards active.
	batchMu sync.Mutex
	active  map[string]int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	plans PlanStore,
	mappings MappingStore,
	results ResultStore,
	creds CredentialResolver,
	clients ClientFactory,
	cfg ExecutionConfig,
	opts ...Option,
) *Orchestrator {
	return &Orchestrator{
		instruments: newInstruments(opts),
		plans:       plans,
		mappings:    mappings,
		results:     results,
		creds:       creds,
		clients:     clients,
		cfg:         cfg.normalized(),
		active:      make(map[string]int),
	}
}

// Config returns the current execution settings.
func (o *Orchestrator) Config() ExecutionConfig {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// UpdateConfig replaces the execution settings. Batches already running keep theirs.
func (o *Orchestrator) UpdateConfig(cfg ExecutionConfig) {
	o.cfgMu.Lock()
	o.cfg = cfg.normalized()
	o.cfgMu.Unlock()
	o.logger.Info().
		Dur("poll_interval", cfg.PollInterval).
		Int("max_polls", cfg.MaxPolls).
		Int("max_retries", cfg.MaxRetries).
		Int("concurrency_limit", cfg.ConcurrencyLimit).
		Msg("Execution settings updated")
}

// Execute runs one batch and blocks until every admitted job has recorded a result.
//
// Errors returned before the plan enters EXECUTING (validation, unknown plan or
// selection, wrong plan status) leave the plan untouched. Errors returned afterwards
// are fatal to the batch and leave the plan FAILED. Individual job failures are not
// errors; they are recorded as FAILURE results.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*ExecutionSummary, error) {
	if req.PlanID == "" {
		return nil, NewValidationError("plan id is required")
	}
	if req.Profile == "" {
		return nil, NewValidationError("credential profile is required")
	}

	cfg := o.Config()
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "execution")
	defer span.End()
	span.SetAttributes(attribute.String("plan_id", req.PlanID))

	plan, err := o.loadPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Status.IsExecutable() {
		return nil, NewInvalidStateError(plan.ID, plan.Status, PlanStatusExecuting)
	}

	jobs, err := o.resolve(ctx, plan, req.Selection)
	if err != nil {
		return nil, err
	}

	// A profile that cannot be resolved fails the batch in connect; a profile
	// without a default instance is a caller error.
	var creds *Credentials
	if resolved, rerr := o.creds.Resolve(ctx, req.Profile); rerr == nil {
		if req.ExecutionInstanceID == "" && resolved.ExecutionInstanceID == "" {
			return nil, NewValidationError("execution instance id is required: profile has no default instance").
				WithResource(req.Profile)
		}
		creds = resolved
	}

	if err := o.beginBatch(ctx, plan.ID); err != nil {
		return nil, err
	}

	logger := o.logger.With().Str("plan_id", plan.ID).Logger()
	logger.Info().Int("jobs", len(jobs)).Msg("Execution started")
	o.publishEvent(ctx, plan.ID, "", EventTypeExecutionStarted,
		fmt.Sprintf("Executing %d tests", len(jobs)), "info", map[string]interface{}{"jobs": len(jobs)})

	summary := &ExecutionSummary{PlanID: plan.ID, Total: len(jobs)}

	client, execInstance, err := o.connect(ctx, req, creds)
	if err == nil {
		gate := req.Gate
		if gate == nil {
			gate = NewGate(cfg.ConcurrencyLimit)
		}
		err = o.runBatch(ctx, plan, jobs, client, execInstance, gate, cfg, summary)
	}
	summary.Duration = time.Since(start)

	o.endBatch(ctx, plan.ID, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Execution failed")
		o.publishEvent(ctx, plan.ID, "", EventTypeExecutionFailed, err.Error(), "error", nil)
		return summary, err
	}

	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Execution completed")
	o.publishEvent(ctx, plan.ID, "", EventTypeExecutionCompleted, "Execution completed", "info",
		map[string]interface{}{"succeeded": summary.Succeeded, "failed": summary.Failed})
	return summary, nil
}

func (o *Orchestrator) loadPlan(ctx context.Context, planID string) (*TestPlan, error) {
	plan, err := o.plans.GetPlan(ctx, planID)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, NewFatalError("failed to load plan", err).WithResource(planID)
	}
	return plan, nil
}

// resolve turns a selection into jobs. Entries may name a plan component id, a
// component id or a mapped test component id. A component selected by itself runs
// its oldest mapping; a test component id selects exactly that mapping.
func (o *Orchestrator) resolve(ctx context.Context, plan *TestPlan, selection []string) ([]job, error) {
	components, err := o.plans.ListPlanComponents(ctx, plan.ID)
	if err != nil {
		return nil, NewFatalError("failed to load plan components", err).WithResource(plan.ID)
	}

	byID := make(map[string]*PlanComponent, len(components))
	byComponentID := make(map[string]*PlanComponent, len(components))
	componentIDs := make([]string, 0, len(components))
	for _, c := range components {
		byID[c.ID] = c
		byComponentID[c.ComponentID] = c
		componentIDs = append(componentIDs, c.ComponentID)
	}

	mappings, err := o.mappings.ListMappingsForComponents(ctx, componentIDs)
	if err != nil {
		return nil, NewFatalError("failed to load mappings", err).WithResource(plan.ID)
	}
	byMain := make(map[string][]*Mapping)
	byTest := make(map[string][]*Mapping)
	for _, m := range mappings {
		byMain[m.MainComponentID] = append(byMain[m.MainComponentID], m)
		byTest[m.TestComponentID] = append(byTest[m.TestComponentID], m)
	}

	var jobs []job
	seen := make(map[string]bool)
	add := func(c *PlanComponent, m *Mapping) {
		key := c.ID + "/"
		if m != nil {
			key += m.ID
		}
		if seen[key] {
			return
		}
		seen[key] = true
		jobs = append(jobs, job{component: c, mapping: m})
	}
	first := func(ms []*Mapping) *Mapping {
		if len(ms) == 0 {
			return nil
		}
		return ms[0]
	}

	if len(selection) == 0 {
		for _, c := range components {
			if m := first(byMain[c.ComponentID]); m != nil {
				add(c, m)
			}
		}
		return jobs, nil
	}

	for _, sel := range selection {
		if c, ok := byID[sel]; ok {
			add(c, first(byMain[c.ComponentID]))
			continue
		}
		if c, ok := byComponentID[sel]; ok {
			add(c, first(byMain[c.ComponentID]))
			continue
		}
		if ms, ok := byTest[sel]; ok {
			for _, m := range ms {
				add(byComponentID[m.MainComponentID], m)
			}
			continue
		}
		return nil, NewNotFoundError("selected component", sel).
			WithOperation("execute").
			WithDetail("plan_id", plan.ID)
	}
	return jobs, nil
}

// beginBatch moves the plan to EXECUTING and registers the batch.
func (o *Orchestrator) beginBatch(ctx context.Context, planID string) error {
	o.batchMu.Lock()
	defer o.batchMu.Unlock()

	plan, err := o.loadPlan(ctx, planID)
	if err != nil {
		return err
	}
	if err := plan.Transition(PlanStatusExecuting, ""); err != nil {
		return err
	}
	if err := o.plans.UpdatePlan(ctx, plan); err != nil {
		return NewFatalError("failed to update plan", err).WithResource(planID)
	}
	o.active[planID]++
	return nil
}

// endBatch unregisters the batch and settles the plan status: FAILED on a fatal
// error, COMPLETED when no other batch is still running.
func (o *Orchestrator) endBatch(ctx context.Context, planID string, fatal error) {
	ctx = context.WithoutCancel(ctx)

	o.batchMu.Lock()
	defer o.batchMu.Unlock()

	o.active[planID]--
	remaining := o.active[planID]
	if remaining <= 0 {
		delete(o.active, planID)
	}

	plan, err := o.plans.GetPlan(ctx, planID)
	if err != nil {
		o.logger.Error().Err(err).Str("plan_id", planID).Msg("Failed to reload plan")
		return
	}

	var next PlanStatus
	switch {
	case fatal != nil:
		next = PlanStatusFailed
	case remaining <= 0:
		next = PlanStatusCompleted
	default:
		return
	}
	if !plan.Status.CanTransitionTo(next) {
		o.logger.Warn().Str("plan_id", planID).Str("status", string(plan.Status)).
			Str("next", string(next)).Msg("Plan status not updated")
		return
	}

	reason := ""
	if fatal != nil {
		reason = fatal.Error()
	}
	_ = plan.Transition(next, reason)
	if err := o.plans.UpdatePlan(ctx, plan); err != nil {
		o.logger.Error().Err(err).Str("plan_id", planID).Msg("Failed to update plan status")
	}
}

// connect builds the platform client for a batch, resolving credentials
// unless creds were resolved already.
func (o *Orchestrator) connect(ctx context.Context, req ExecuteRequest, creds *Credentials) (PlatformClient, string, error) {
	if creds == nil {
		resolved, err := o.creds.Resolve(ctx, req.Profile)
		if err != nil {
			return nil, "", NewFatalError("failed to resolve credentials", err).WithResource(req.Profile)
		}
		creds = resolved
	}

	execInstance := req.ExecutionInstanceID
	if execInstance == "" {
		execInstance = creds.ExecutionInstanceID
	}
	if execInstance == "" {
		return nil, "", NewValidationError("execution instance id is required: profile has no default instance").
			WithResource(req.Profile)
	}

	client, err := o.clients.NewClient(creds)
	if err != nil {
		return nil, "", NewFatalError("failed to create platform client", err).WithResource(req.Profile)
	}
	return client, execInstance, nil
}

// runBatch dispatches jobs in selection order. Platform jobs wait for a gate slot
// before they start; once the caller's context is done no further job is started.
// Started jobs run detached from the caller's context and always record a result.
func (o *Orchestrator) runBatch(
	ctx context.Context,
	plan *TestPlan,
	jobs []job,
	client PlatformClient,
	execInstance string,
	gate *Gate,
	cfg ExecutionConfig,
	summary *ExecutionSummary,
) error {
	jobCtx := context.WithoutCancel(ctx)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		storeErrs []error
	)

	record := func(result *TestExecutionResult) {
		err := o.record(jobCtx, result)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			storeErrs = append(storeErrs, err)
			return
		}
		if result.Status == ResultStatusSuccess {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	for i, j := range jobs {
		if ctx.Err() != nil {
			summary.Skipped = len(jobs) - i
			break
		}

		if j.mapping == nil {
			o.logger.Warn().Str("component_id", j.component.ComponentID).Msg("No mapping for selected component")
			result := newResult(plan, j)
			result.Status = ResultStatusFailure
			result.FailureKind = FailureKindNoMapping
			result.Message = fmt.Sprintf("no mapping found for component %s", j.component.ComponentID)
			record(result)
			continue
		}

		if reason, denied := o.checkPolicy(ctx, plan, j, execInstance); denied {
			result := newResult(plan, j)
			result.Status = ResultStatusFailure
			result.FailureKind = FailureKindPolicyDenied
			result.Message = reason
			record(result)
			continue
		}

		if err := gate.Acquire(ctx); err != nil {
			summary.Skipped = len(jobs) - i
			break
		}

		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer gate.Release()
			record(o.runJob(jobCtx, plan, j, client, execInstance, cfg))
		}(j)
	}

	wg.Wait()

	if len(storeErrs) > 0 {
		return NewFatalError("failed to record results", errors.Join(storeErrs...)).WithResource(plan.ID)
	}
	if summary.Skipped > 0 {
		return NewFatalError(fmt.Sprintf("execution aborted: %d jobs not started", summary.Skipped), ctx.Err()).
			WithResource(plan.ID)
	}
	return nil
}

// checkPolicy evaluates execution policies. Evaluation errors deny the job.
func (o *Orchestrator) checkPolicy(ctx context.Context, plan *TestPlan, j job, execInstance string) (string, bool) {
	if o.policy == nil {
		return "", false
	}
	decision, err := o.policy.EvaluateJob(ctx, &JobPolicyInput{
		Plan:                plan,
		Component:           j.component,
		Mapping:             j.mapping,
		ExecutionInstanceID: execInstance,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("component_id", j.component.ComponentID).Msg("Policy evaluation failed")
		return fmt.Sprintf("policy evaluation failed: %v", err), true
	}
	if decision.Allowed {
		return "", false
	}
	reason := "denied by policy"
	if len(decision.Reasons) > 0 {
		reason = fmt.Sprintf("denied by policy: %s", decision.Reasons[0])
		for _, r := range decision.Reasons[1:] {
			reason += "; " + r
		}
	}
	return reason, true
}

// runJob submits, polls and builds the result for one mapped component.
func (o *Orchestrator) runJob(
	ctx context.Context,
	plan *TestPlan,
	j job,
	client PlatformClient,
	execInstance string,
	cfg ExecutionConfig,
) *TestExecutionResult {
	start := time.Now()
	o.metrics.JobStarted()
	defer o.metrics.JobFinished()

	ctx, span := o.tracer.Start(ctx, "job")
	defer span.End()
	span.SetAttributes(
		attribute.String("component_id", j.component.ComponentID),
		attribute.String("test_component_id", j.mapping.TestComponentID),
	)

	logger := o.logger.With().
		Str("plan_id", plan.ID).
		Str("component_id", j.component.ComponentID).
		Str("test_component_id", j.mapping.TestComponentID).
		Logger()

	result := newResult(plan, j)

	handle, attempts, err := o.submit(ctx, client, j, execInstance, cfg)
	result.SubmitAttempts = attempts
	if err != nil {
		result.Status = ResultStatusFailure
		result.FailureKind = FailureKindSubmitFailed
		result.Message = fmt.Sprintf("submission failed after %d attempts: %v", attempts, err)
		logger.Error().Err(err).Int("attempts", attempts).Msg("Test submission failed")
		span.SetStatus(codes.Error, result.Message)
		o.metrics.RecordJob(string(result.Status), string(result.FailureKind), time.Since(start))
		return result
	}
	logger.Debug().Str("job_id", handle.ID).Int("attempts", attempts).Msg("Test submitted")
	o.publishEvent(ctx, plan.ID, j.component.ComponentID, EventTypeJobSubmitted,
		fmt.Sprintf("Submitted %s", j.mapping.TestComponentID), "info", nil)

	status, polls := o.poll(ctx, client, handle, cfg, logger)
	result.Polls = polls
	result.LogURL = handle.LogURL

	switch {
	case status == nil:
		result.Status = ResultStatusFailure
		result.FailureKind = FailureKindTimeout
		result.Message = fmt.Sprintf("execution timed out after %d polls", polls)
	case status.State == JobStateSucceeded:
		result.Status = ResultStatusSuccess
		result.Message = status.Message
		result.TestCases = status.TestCases
	default:
		result.Status = ResultStatusFailure
		result.FailureKind = FailureKindPlatform
		result.Message = status.Message
		result.TestCases = status.TestCases
	}
	if status != nil && status.LogURL != "" {
		result.LogURL = status.LogURL
	}

	if result.Status == ResultStatusFailure {
		span.SetStatus(codes.Error, result.Message)
	}
	logger.Info().Str("status", string(result.Status)).Int("polls", polls).Msg("Test finished")
	o.metrics.RecordJob(string(result.Status), string(result.FailureKind), time.Since(start))
	return result
}

// submit launches the test process, retrying with exponential backoff. Errors
// classified permanent are not retried.
func (o *Orchestrator) submit(
	ctx context.Context,
	client PlatformClient,
	j job,
	execInstance string,
	cfg ExecutionConfig,
) (*JobHandle, int, error) {
	attempts := 0
	operation := func() (*JobHandle, error) {
		attempts++
		handle, err := client.SubmitTest(ctx, j.mapping.TestComponentID, SubmitOptions{ExecutionInstanceID: execInstance})
		if err == nil && handle == nil {
			err = NewTransientError("platform returned no job handle", nil)
		}
		if err != nil {
			o.metrics.RecordSubmitAttempt("error")
			if IsPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		o.metrics.RecordSubmitAttempt("ok")
		return handle, nil
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.MaxDelay,
	}

	handle, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(cfg.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.logger.Warn().Err(err).
				Str("test_component_id", j.mapping.TestComponentID).
				Int("attempt", attempts).
				Dur("next", next).
				Msg("Retrying test submission")
			o.publishEvent(ctx, j.component.PlanID, j.component.ComponentID, EventTypeJobRetrying,
				fmt.Sprintf("Retrying after failure (attempt %d/%d)", attempts, cfg.MaxRetries), "warning", nil)
		}),
	)
	return handle, attempts, err
}

// poll checks the job until it is terminal, MaxPolls is reached or ctx is done.
// A failed poll counts against MaxPolls. It returns nil status on timeout.
func (o *Orchestrator) poll(
	ctx context.Context,
	client PlatformClient,
	handle *JobHandle,
	cfg ExecutionConfig,
	logger zerolog.Logger,
) (*JobStatus, int) {
	for n := 1; n <= cfg.MaxPolls; n++ {
		if n > 1 && cfg.PollInterval > 0 {
			timer := time.NewTimer(cfg.PollInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, n - 1
			}
		}

		status, err := client.PollTest(ctx, handle)
		if err != nil {
			o.metrics.RecordPoll("error")
			logger.Warn().Err(err).Int("poll", n).Msg("Poll failed")
			continue
		}
		if status == nil {
			o.metrics.RecordPoll("empty")
			continue
		}
		o.metrics.RecordPoll(string(status.State))
		if status.State.IsTerminal() {
			return status, n
		}
	}
	return nil, cfg.MaxPolls
}

// record appends a result.
func (o *Orchestrator) record(ctx context.Context, result *TestExecutionResult) error {
	result.ExecutedAt = time.Now().UTC()
	if err := o.results.SaveResult(ctx, result); err != nil {
		o.logger.Error().Err(err).Str("plan_id", result.PlanID).
			Str("component_id", result.ComponentID).Msg("Failed to save result")
		return err
	}

	eventType, level := EventTypeJobCompleted, "info"
	if result.Status == ResultStatusFailure {
		eventType, level = EventTypeJobFailed, "error"
	}
	if result.FailureKind == FailureKindNoMapping || result.FailureKind == FailureKindPolicyDenied {
		o.metrics.RecordJob(string(result.Status), string(result.FailureKind), 0)
	}
	o.publishEvent(ctx, result.PlanID, result.ComponentID, eventType, result.Message, level,
		map[string]interface{}{"status": string(result.Status), "failure_kind": string(result.FailureKind)})
	return nil
}

func newResult(plan *TestPlan, j job) *TestExecutionResult {
	r := &TestExecutionResult{
		ID:              uuid.New().String(),
		PlanID:          plan.ID,
		PlanComponentID: j.component.ID,
		ComponentID:     j.component.ComponentID,
		ComponentName:   j.component.ComponentName,
		ExecutedAt:      time.Now().UTC(),
	}
	if j.mapping != nil {
		r.TestComponentID = j.mapping.TestComponentID
		r.TestComponentName = j.mapping.TestComponentName
	}
	return r
}
