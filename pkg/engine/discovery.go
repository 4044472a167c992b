package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDiscoveryConcurrency bounds concurrent metadata queries within one BFS level.
	DefaultDiscoveryConcurrency = 4

	// SourceSystemBoomi is recorded on components discovered through the Boomi provider.
	SourceSystemBoomi = "boomi"

	notFoundComponentName = "Component Not Found"
	notFoundComponentType = "N/A"
)

// Discoverer walks a platform dependency graph and records it as a test plan.
type Discoverer struct {
	instruments

	plans       PlanStore
	creds       CredentialResolver
	clients     ClientFactory
	concurrency int
}

// NewDiscoverer creates a Discoverer. concurrency <= 0 uses DefaultDiscoveryConcurrency.
func NewDiscoverer(
	plans PlanStore,
	creds CredentialResolver,
	clients ClientFactory,
	concurrency int,
	opts ...Option,
) *Discoverer {
	if concurrency <= 0 {
		concurrency = DefaultDiscoveryConcurrency
	}
	return &Discoverer{
		instruments: newInstruments(opts),
		plans:       plans,
		creds:       creds,
		clients:     clients,
		concurrency: concurrency,
	}
}

// Discover creates a plan rooted at req.RootComponentID and persists every component
// reachable from it. On success the plan is AWAITING_SELECTION. When the walk fails the
// plan is marked FAILED and returned together with the error; when the plan could not be
// created at all the returned plan is nil.
func (d *Discoverer) Discover(ctx context.Context, req DiscoverRequest) (*TestPlan, error) {
	if req.RootComponentID == "" {
		return nil, NewValidationError("root component id is required")
	}
	if req.Profile == "" {
		return nil, NewValidationError("credential profile is required")
	}

	ctx, span := d.tracer.Start(ctx, "discovery")
	defer span.End()
	span.SetAttributes(attribute.String("root_component_id", req.RootComponentID))

	creds, err := d.creds.Resolve(ctx, req.Profile)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	client, err := d.clients.NewClient(creds)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, NewFatalError("failed to create platform client", err).WithResource(req.Profile)
	}

	now := time.Now().UTC()
	plan := &TestPlan{
		ID:              uuid.New().String(),
		Name:            req.Name,
		RootComponentID: req.RootComponentID,
		Status:          PlanStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := d.plans.CreatePlan(ctx, plan); err != nil {
		return nil, NewFatalError("failed to create plan", err)
	}
	span.SetAttributes(attribute.String("plan_id", plan.ID))

	logger := d.logger.With().Str("plan_id", plan.ID).Str("root_component_id", req.RootComponentID).Logger()
	logger.Info().Msg("Discovery started")
	d.publishEvent(ctx, plan.ID, req.RootComponentID, EventTypeDiscoveryStarted, "Discovery started", "info", nil)

	start := time.Now()
	components, err := d.walk(ctx, plan.ID, client, req)
	if err == nil {
		if err = d.plans.SavePlanComponents(ctx, plan.ID, components); err != nil {
			err = NewFatalError("failed to save plan components", err).WithResource(plan.ID)
		}
	}
	if err == nil {
		if err = plan.Transition(PlanStatusAwaitingSelection, ""); err == nil {
			err = d.plans.UpdatePlan(ctx, plan)
		}
	}
	if err != nil {
		d.fail(ctx, plan, err)
		d.metrics.RecordDiscovery("failed", 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Discovery failed")
		return plan, err
	}

	d.metrics.RecordDiscovery("completed", len(components), time.Since(start))
	d.publishEvent(ctx, plan.ID, req.RootComponentID, EventTypeDiscoveryCompleted,
		fmt.Sprintf("Discovered %d components", len(components)), "info",
		map[string]interface{}{"components": len(components)})
	logger.Info().Int("components", len(components)).Dur("duration", time.Since(start)).Msg("Discovery completed")
	return plan, nil
}

// walk performs a breadth-first traversal. Each level is queried concurrently and
// the first error cancels the rest of the level.
func (d *Discoverer) walk(
	ctx context.Context,
	planID string,
	client PlatformClient,
	req DiscoverRequest,
) ([]*PlanComponent, error) {
	visited := map[string]bool{req.RootComponentID: true}
	frontier := []string{req.RootComponentID}
	var components []*PlanComponent

	for depth := 0; len(frontier) > 0; depth++ {
		infos := make([]*ComponentInfo, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.concurrency)
		for i, id := range frontier {
			g.Go(func() error {
				info, err := d.lookup(gctx, client, id, depth == 0)
				if err != nil {
					return err
				}
				infos[i] = info
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []string
		for i, info := range infos {
			components = append(components, &PlanComponent{
				ID:            uuid.New().String(),
				PlanID:        planID,
				ComponentID:   frontier[i],
				ComponentName: info.Name,
				ComponentType: info.Type,
				Version:       info.Version,
				SourceSystem:  SourceSystemBoomi,
				CreatedAt:     time.Now().UTC(),
			})
			if !req.DiscoverDependencies {
				continue
			}
			for _, dep := range info.DependencyIDs {
				if dep == "" || visited[dep] {
					continue
				}
				visited[dep] = true
				next = append(next, dep)
			}
		}

		d.logger.Debug().Int("depth", depth).Int("components", len(frontier)).Int("next", len(next)).Msg("Discovery level resolved")
		frontier = next
	}

	return components, nil
}

// lookup fetches one component. A missing root is an error; a missing descendant
// becomes a placeholder since the reference itself exists.
func (d *Discoverer) lookup(ctx context.Context, client PlatformClient, id string, isRoot bool) (*ComponentInfo, error) {
	info, err := client.GetComponentInfoAndDependencies(ctx, id)
	if err == nil && info == nil {
		err = NewNotFoundError("component", id)
	}
	if err == nil {
		return info, nil
	}

	if IsNotFound(err) {
		if isRoot {
			return nil, NewNotFoundError("root component", id).WithOperation("discover")
		}
		d.logger.Warn().Str("component_id", id).Msg("Dependency not found on platform, recording placeholder")
		return &ComponentInfo{ID: id, Name: notFoundComponentName, Type: notFoundComponentType}, nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return nil, fmt.Errorf("failed to query component %s: %w", id, err)
	}
	return nil, NewTransientError(fmt.Sprintf("failed to query component %s", id), err).
		WithResource(id).
		WithOperation("discover")
}

// fail records a FAILED plan. It runs detached from ctx so that a cancelled
// discovery still leaves the plan in a terminal state.
func (d *Discoverer) fail(ctx context.Context, plan *TestPlan, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := plan.Transition(PlanStatusFailed, cause.Error()); err != nil {
		d.logger.Error().Err(err).Str("plan_id", plan.ID).Msg("Failed to transition plan")
		return
	}
	if err := d.plans.UpdatePlan(ctx, plan); err != nil {
		d.logger.Error().Err(err).Str("plan_id", plan.ID).Msg("Failed to record plan failure")
	}
	d.publishEvent(ctx, plan.ID, plan.RootComponentID, EventTypeDiscoveryFailed, cause.Error(), "error", nil)
}
