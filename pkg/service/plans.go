package service

import (
	"context"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/telemetry"
)

// InitiateDiscovery walks the dependency graph of req.RootComponentID and
// records it as a new plan. The default credential profile applies when
// req.Profile is empty. A failed walk returns the FAILED plan with the error.
func (s *Service) InitiateDiscovery(ctx context.Context, req engine.DiscoverRequest) (plan *engine.TestPlan, err error) {
	req.Profile = s.profile(req.Profile)

	op := s.startOperation(ctx, "service.discover",
		telemetry.AttrComponentID.String(req.RootComponentID),
		telemetry.AttrProfile.String(req.Profile),
	)
	defer func() { op.End(err) }()

	if err := s.validate.Struct(req); err != nil {
		return nil, s.validationError("discovery request", err)
	}

	return s.discoverer.Discover(op.Ctx, req)
}

// ListPlans returns every plan, newest first.
func (s *Service) ListPlans(ctx context.Context) ([]*engine.TestPlan, error) {
	return s.store.ListPlans(ctx)
}

// GetPlan returns one plan.
func (s *Service) GetPlan(ctx context.Context, planID string) (*engine.TestPlan, error) {
	if planID == "" {
		return nil, engine.NewValidationError("plan id is required")
	}
	return s.store.GetPlan(ctx, planID)
}

// GetPlanDetails returns a plan with its components, the tests mapped to
// each component and their results, newest result first.
func (s *Service) GetPlanDetails(ctx context.Context, planID string) (details *engine.PlanDetails, err error) {
	op := s.startOperation(ctx, "service.plan_details", telemetry.AttrPlanID.String(planID))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	components, err := s.store.ListPlanComponents(ctx, plan.ID)
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
	byMain := make(map[string][]*engine.Mapping, len(mappings))
	for _, m := range mappings {
		byMain[m.MainComponentID] = append(byMain[m.MainComponentID], m)
	}

	results, err := s.store.ListResults(ctx, engine.ResultFilter{PlanID: plan.ID})
	if err != nil {
		return nil, err
	}
	// results arrive oldest first.
	byComponent := make(map[string][]*engine.TestExecutionResult)
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		byComponent[r.PlanComponentID] = append(byComponent[r.PlanComponentID], r)
	}

	details = &engine.PlanDetails{Plan: plan, Components: make([]engine.ComponentDetails, 0, len(components))}
	for _, c := range components {
		tests := byMain[c.ComponentID]
		if tests == nil {
			tests = []*engine.Mapping{}
		}
		rs := byComponent[c.ID]
		if rs == nil {
			rs = []*engine.TestExecutionResult{}
		}
		details.Components = append(details.Components, engine.ComponentDetails{
			PlanComponent: c,
			Tests:         tests,
			Results:       rs,
		})
	}
	return details, nil
}

// DeletePlan removes a plan with its components and results. A plan with a
// batch in flight cannot be deleted.
func (s *Service) DeletePlan(ctx context.Context, planID string) error {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status == engine.PlanStatusExecuting {
		return engine.NewConflictError("plan is executing", nil).
			WithResource(planID).
			WithOperation("delete_plan")
	}
	if err := s.store.DeletePlan(ctx, planID); err != nil {
		return err
	}
	s.logger.Info().Str("plan_id", planID).Msg("Plan deleted")
	return nil
}
