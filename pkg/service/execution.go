package service

import (
	"context"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/selection"
	"github.com/ato-project/ato/pkg/telemetry"
)

// ExecuteRequest starts an execution batch. Match, Script and AllMappings
// build a selection from the plan; the result is merged with Selection.
type ExecuteRequest struct {
	PlanID    string   `json:"plan_id"`
	Selection []string `json:"selection,omitempty"`

	// Match holds "[field=]glob" patterns; a component matching any of them
	// is selected.
	Match []string `json:"match,omitempty"`

	// Script is a Starlark program defining select(component).
	Script     string `json:"script,omitempty"`
	ScriptName string `json:"script_name,omitempty"`

	// IncludeUnmapped lets matchers select components without a mapping,
	// which then fail with no_mapping.
	IncludeUnmapped bool `json:"include_unmapped,omitempty"`

	// AllMappings runs every mapping of the matched components instead of
	// only the oldest.
	AllMappings bool `json:"all_mappings,omitempty"`

	Profile             string `json:"profile,omitempty"`
	ExecutionInstanceID string `json:"execution_instance_id,omitempty"`
}

func (r ExecuteRequest) usesMatchers() bool {
	return len(r.Match) > 0 || r.Script != "" || r.AllMappings
}

// ExecuteTests runs one batch on a plan and blocks until it drains.
func (s *Service) ExecuteTests(ctx context.Context, req ExecuteRequest) (summary *engine.ExecutionSummary, err error) {
	op := s.startOperation(ctx, "service.execute", telemetry.AttrPlanID.String(req.PlanID))
	defer func() { op.End(err) }()

	_, ereq, err := s.prepare(op.Ctx, req)
	if err != nil {
		return nil, err
	}
	return s.orchestrator.Execute(op.Ctx, ereq)
}

// StartExecution checks the request, then runs the batch in the background
// and returns the plan as it was when the batch was accepted. Background
// batches stop admitting jobs when the service closes.
func (s *Service) StartExecution(ctx context.Context, req ExecuteRequest) (*engine.TestPlan, error) {
	plan, ereq, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.admitBackground(); err != nil {
		return nil, err
	}
	go func() {
		defer s.bg.Done()

		bctx := s.bgCtx
		if s.tel != nil {
			bctx = s.tel.WithContext(bctx)
		}
		op := s.startOperation(bctx, "service.execute_async", telemetry.AttrPlanID.String(ereq.PlanID))
		summary, err := s.orchestrator.Execute(op.Ctx, ereq)
		op.End(err)
		if err != nil {
			s.logger.Error().Err(err).Str("plan_id", ereq.PlanID).Msg("Background execution failed")
			return
		}
		s.logger.Info().
			Str("plan_id", summary.PlanID).
			Int("total", summary.Total).
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Int("skipped", summary.Skipped).
			Dur("duration", summary.Duration).
			Msg("Background execution finished")
	}()

	return plan, nil
}

// admitBackground counts a background execution unless the service is
// closing. The caller must call s.bg.Done when it finishes.
func (s *Service) admitBackground() error {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed {
		return engine.NewFatalError("service is shutting down", context.Canceled)
	}
	s.bg.Add(1)
	return nil
}

// prepare validates req and resolves matchers into an engine request. It
// fails early on a plan that cannot execute so that StartExecution can
// report it synchronously.
func (s *Service) prepare(ctx context.Context, req ExecuteRequest) (*engine.TestPlan, engine.ExecuteRequest, error) {
	ereq := engine.ExecuteRequest{
		PlanID:              req.PlanID,
		Selection:           req.Selection,
		Profile:             s.profile(req.Profile),
		ExecutionInstanceID: req.ExecutionInstanceID,
		Gate:                s.Gate(),
	}
	if err := s.validate.Struct(ereq); err != nil {
		return nil, ereq, s.validationError("execution request", err)
	}

	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, ereq, err
	}
	if !plan.Status.IsExecutable() {
		return nil, ereq, engine.NewInvalidStateError(plan.ID, plan.Status, engine.PlanStatusExecuting)
	}
	if ereq.ExecutionInstanceID == "" {
		// An unknown profile is left to the engine, which fails the batch.
		if p, err := s.creds.Get(ctx, ereq.Profile); err == nil && p.ExecutionInstanceID == "" {
			return nil, ereq, engine.NewValidationError("execution instance id is required: profile has no default instance").
				WithResource(ereq.Profile)
		}
	}

	if !req.usesMatchers() {
		return plan, ereq, nil
	}
	matched, err := s.SelectComponents(ctx, plan.ID, req)
	if err != nil {
		return nil, ereq, err
	}
	ereq.Selection = mergeSelection(req.Selection, matched)
	if len(ereq.Selection) == 0 {
		return nil, ereq, engine.NewValidationError("no components match the selection criteria").WithResource(plan.ID)
	}
	return plan, ereq, nil
}

// SelectComponents evaluates the matchers of req against a plan and returns
// the selection they produce: plan component ids, or test component ids when
// AllMappings is set.
func (s *Service) SelectComponents(ctx context.Context, planID string, req ExecuteRequest) ([]string, error) {
	var matchers []selection.Matcher
	if len(req.Match) > 0 {
		sel, err := selection.NewSelector(req.Match)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, sel)
	}
	if req.Script != "" {
		name := req.ScriptName
		if name == "" {
			name = "select.star"
		}
		script, err := selection.NewScript(name, req.Script, selection.DefaultScriptTimeout)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, script)
	}

	components, err := s.store.ListPlanComponents(ctx, planID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(components))
	for _, c := range components {
		ids = append(ids, c.ComponentID)
	}
	mappings, err := s.store.ListMappingsForComponents(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := selection.Candidates(components, mappings)
	selected, err := selection.Apply(ctx, candidates, req.IncludeUnmapped, matchers...)
	if err != nil {
		return nil, err
	}
	if !req.AllMappings {
		return selected, nil
	}

	keep := make(map[string]bool, len(selected))
	for _, id := range selected {
		keep[id] = true
	}
	var picked []selection.Candidate
	var unmapped []string
	for _, c := range candidates {
		if !keep[c.Component.ID] {
			continue
		}
		if c.Mapped() {
			picked = append(picked, c)
		} else {
			unmapped = append(unmapped, c.Component.ID)
		}
	}
	return append(selection.TestIDs(picked), unmapped...), nil
}

func mergeSelection(explicit, matched []string) []string {
	seen := make(map[string]bool, len(explicit)+len(matched))
	out := make([]string, 0, len(explicit)+len(matched))
	for _, list := range [][]string{explicit, matched} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
