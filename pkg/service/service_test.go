package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ato-project/ato/pkg/engine"
)

func TestDiscoverExecuteAndDetails(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.mapping(t, "c-root", "t-root")
	env.mapping(t, "c-orders", "t-orders")
	env.platform.failing["t-root"] = "2 assertions failed"

	plan := env.discover(t)
	assert.Equal(t, engine.PlanStatusAwaitingSelection, plan.Status)
	assert.Equal(t, "nightly", plan.Name)

	summary, err := env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	submitted := env.platform.submissions()
	sort.Strings(submitted)
	assert.Equal(t, []string{"t-orders", "t-root"}, submitted)

	details, err := env.svc.GetPlanDetails(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PlanStatusCompleted, details.Plan.Status)
	require.Len(t, details.Components, 3, "the shared library is recorded once")

	byComponent := make(map[string]engine.ComponentDetails)
	for _, c := range details.Components {
		byComponent[c.ComponentID] = c
	}
	orders := byComponent["c-orders"]
	require.Len(t, orders.Tests, 1)
	assert.Equal(t, "t-orders", orders.Tests[0].TestComponentID)
	require.NotNil(t, orders.Latest())
	assert.Equal(t, engine.ResultStatusSuccess, orders.Latest().Status)

	root := byComponent["c-root"]
	require.NotNil(t, root.Latest())
	assert.Equal(t, engine.ResultStatusFailure, root.Latest().Status)
	assert.Equal(t, "2 assertions failed", root.Latest().Message)

	lib := byComponent["c-lib"]
	assert.Empty(t, lib.Tests)
	assert.Nil(t, lib.Latest())

	failed, err := env.svc.GetResults(ctx, engine.ResultFilter{PlanID: plan.ID, Status: "failure"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "c-root", failed[0].ComponentID)
}

func TestPlanDetailsNewestResultFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.mapping(t, "c-orders", "t-orders")
	plan := env.discover(t)

	env.platform.failing["t-orders"] = "first run broke"
	_, err := env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	delete(env.platform.failing, "t-orders")
	_, err = env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID})
	require.NoError(t, err)

	details, err := env.svc.GetPlanDetails(ctx, plan.ID)
	require.NoError(t, err)
	for _, c := range details.Components {
		if c.ComponentID != "c-orders" {
			continue
		}
		require.Len(t, c.Results, 2, "re-runs append")
		assert.Equal(t, engine.ResultStatusSuccess, c.Results[0].Status)
		assert.Equal(t, engine.ResultStatusFailure, c.Results[1].Status)
	}
}

func TestExecuteWithMatchers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.mapping(t, "c-root", "t-root")
	env.mapping(t, "c-orders", "t-orders")
	env.mapping(t, "c-orders", "t-orders-smoke")
	plan := env.discover(t)

	t.Run("glob on name", func(t *testing.T) {
		ids, err := env.svc.SelectComponents(ctx, plan.ID, ExecuteRequest{Match: []string{"Orders*"}})
		require.NoError(t, err)
		require.Len(t, ids, 1)

		summary, err := env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID, Match: []string{"Orders*"}})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total)
	})

	t.Run("all mappings", func(t *testing.T) {
		ids, err := env.svc.SelectComponents(ctx, plan.ID, ExecuteRequest{Match: []string{"Orders*"}, AllMappings: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"t-orders", "t-orders-smoke"}, ids)
	})

	t.Run("script", func(t *testing.T) {
		script := "def select(c):\n    return c.name.startswith(\"Root\")\n"
		summary, err := env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID, Script: script})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total)
	})

	t.Run("unmapped components need opt in", func(t *testing.T) {
		_, err := env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID, Match: []string{"type=script"}})
		require.Error(t, err)
		assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))
		assert.Contains(t, err.Error(), "no components match")

		summary, err := env.svc.ExecuteTests(ctx, ExecuteRequest{
			PlanID: plan.ID, Match: []string{"type=script"}, IncludeUnmapped: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)

		results, err := env.svc.GetResults(ctx, engine.ResultFilter{PlanID: plan.ID, ComponentID: "c-lib"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, engine.FailureKindNoMapping, results[0].FailureKind)
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID, Match: []string{"owner=x"}})
		assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))
	})
}

func TestExecuteRequestChecks(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.ExecuteTests(ctx, ExecuteRequest{})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))

	_, err = env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: "missing"})
	assert.True(t, engine.IsNotFound(err))

	plan, err := env.svc.InitiateDiscovery(ctx, engine.DiscoverRequest{RootComponentID: "c-missing"})
	require.Error(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, engine.PlanStatusFailed, plan.Status)

	_, err = env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID})
	assert.True(t, engine.HasCode(err, engine.ErrCodeInvalidState))

	_, err = env.svc.StartExecution(ctx, ExecuteRequest{PlanID: plan.ID})
	assert.True(t, engine.HasCode(err, engine.ErrCodeInvalidState), "background runs are checked up front")
}

func TestExecuteRequiresExecutionInstance(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.svc.AddCredentials(ctx, "bare", engine.Credentials{
		AccountID: "acct-1", Username: "svc@example.com", Password: "secret",
	}))
	env.mapping(t, "c-orders", "t-orders")
	plan := env.discover(t)

	_, err := env.svc.StartExecution(ctx, ExecuteRequest{PlanID: plan.ID, Profile: "bare"})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))
	_, err = env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID, Profile: "bare"})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))

	p, err := env.svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PlanStatusAwaitingSelection, p.Status)
	assert.Empty(t, env.platform.submissions())

	summary, err := env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID, Profile: "bare", ExecutionInstanceID: "atom-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestDiscoveryWithoutProfile(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.DefaultProfile = "" })

	_, err := env.svc.InitiateDiscovery(context.Background(), engine.DiscoverRequest{RootComponentID: "c-root"})
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))
	assert.Contains(t, err.Error(), "Profile")
}

func TestStartExecutionRunsInBackground(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.SharedGate = true })
	ctx := context.Background()

	env.mapping(t, "c-root", "t-root")
	env.mapping(t, "c-orders", "t-orders")
	plan := env.discover(t)

	accepted, err := env.svc.StartExecution(ctx, ExecuteRequest{PlanID: plan.ID})
	require.NoError(t, err)
	assert.Equal(t, plan.ID, accepted.ID)

	require.Eventually(t, func() bool {
		p, err := env.svc.GetPlan(ctx, plan.ID)
		return err == nil && p.Status == engine.PlanStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	results, err := env.svc.GetResults(ctx, engine.ResultFilter{PlanID: plan.ID})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDeletePlan(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.mapping(t, "c-orders", "t-orders")
	plan := env.discover(t)
	_, err := env.svc.ExecuteTests(ctx, ExecuteRequest{PlanID: plan.ID})
	require.NoError(t, err)

	executing := *plan
	executing.Status = engine.PlanStatusExecuting
	executing.UpdatedAt = time.Now().UTC()
	require.NoError(t, env.store.UpdatePlan(ctx, &executing))
	err = env.svc.DeletePlan(ctx, plan.ID)
	assert.True(t, engine.IsConflict(err))

	executing.Status = engine.PlanStatusCompleted
	require.NoError(t, env.store.UpdatePlan(ctx, &executing))
	require.NoError(t, env.svc.DeletePlan(ctx, plan.ID))

	_, err = env.svc.GetPlan(ctx, plan.ID)
	assert.True(t, engine.IsNotFound(err))
	results, err := env.svc.GetResults(ctx, engine.ResultFilter{PlanID: plan.ID})
	require.NoError(t, err)
	assert.Empty(t, results, "results go with the plan")

	plans, err := env.svc.ListPlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestMappings(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	m := env.mapping(t, "c-orders", "t-orders")
	assert.NotEmpty(t, m.ID)

	_, err := env.svc.CreateMapping(ctx, &engine.Mapping{MainComponentID: "c-orders", TestComponentID: "t-orders"})
	assert.True(t, engine.IsConflict(err))

	_, err = env.svc.CreateMapping(ctx, &engine.Mapping{MainComponentID: "c-orders", TestComponentID: "c-orders"})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))

	_, err = env.svc.CreateMapping(ctx, &engine.Mapping{MainComponentID: " ", TestComponentID: "t-x"})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))

	name := "Orders Sync"
	deployed := false
	updated, err := env.svc.UpdateMapping(ctx, m.ID, MappingUpdate{MainComponentName: &name, IsDeployed: &deployed})
	require.NoError(t, err)
	assert.Equal(t, "Orders Sync", updated.MainComponentName)
	assert.False(t, updated.IsDeployed)
	assert.Equal(t, "t-orders suite", updated.TestComponentName, "unset fields are kept")

	got, err := env.svc.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Orders Sync", got.MainComponentName)

	env.mapping(t, "c-root", "t-root")
	list, err := env.svc.ListMappings(ctx, engine.MappingFilter{MainComponentID: "c-root"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "t-root", list[0].TestComponentID)

	require.NoError(t, env.svc.DeleteMapping(ctx, m.ID))
	_, err = env.svc.GetMapping(ctx, m.ID)
	assert.True(t, engine.IsNotFound(err))
	assert.True(t, engine.IsNotFound(env.svc.DeleteMapping(ctx, m.ID)))
}

func TestImportMappings(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.mapping(t, "c-root", "t-root")

	csv := strings.Join([]string{
		"mainComponentId,mainComponentName,testComponentId,isDeployed",
		"c-orders,Orders Sync,t-orders,yes",
		"c-root,Root Flow,t-root,yes",
		"c-lib,Shared Lib,c-lib,no",
		",Nameless,t-x,",
	}, "\n")

	rep, err := env.svc.ImportMappings(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, rep.Created, 1)
	assert.Equal(t, "c-orders", rep.Created[0].MainComponentID)
	assert.True(t, rep.Created[0].IsDeployed)
	require.Len(t, rep.Duplicates, 1)
	assert.Equal(t, "c-root", rep.Duplicates[0].MainComponentID)

	require.Len(t, rep.Skipped, 2)
	lines := []int{rep.Skipped[0].Line, rep.Skipped[1].Line}
	sort.Ints(lines)
	assert.Equal(t, []int{4, 5}, lines)

	all, err := env.svc.ListMappings(ctx, engine.MappingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = env.svc.ImportMappings(ctx, strings.NewReader("id,name\n1,x\n"))
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))
}

func TestCredentialProfiles(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.svc.AddCredentials(ctx, "prod", engine.Credentials{
		AccountID: "acct-2", Username: "ops", Password: "pw",
	}))
	assert.True(t, engine.HasCode(env.svc.AddCredentials(ctx, " ", engine.Credentials{}), engine.ErrCodeValidation))

	profiles, err := env.svc.ListCredentials(ctx)
	require.NoError(t, err)
	var names []string
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"dev", "prod"}, names)

	p, err := env.svc.GetCredentials(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, "acct-2", p.AccountID)

	require.NoError(t, env.svc.DeleteCredentials(ctx, "prod"))
	_, err = env.svc.GetCredentials(ctx, "prod")
	assert.True(t, engine.IsNotFound(err))
}

func TestGetResultsValidatesFilter(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.GetResults(context.Background(), engine.ResultFilter{Status: "MAYBE"})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))

	_, err = env.svc.GetResults(context.Background(), engine.ResultFilter{Limit: -1})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))
}

func TestUpdateExecutionConfig(t *testing.T) {
	perBatch := newTestEnv(t, nil)
	assert.Nil(t, perBatch.svc.Gate())

	shared := newTestEnv(t, func(o *Options) { o.SharedGate = true })
	require.NotNil(t, shared.svc.Gate())
	assert.Equal(t, 2, shared.svc.Gate().Limit())

	gate := shared.svc.Gate()
	cfg := fastExecution()
	cfg.ConcurrencyLimit = 7
	shared.svc.UpdateExecutionConfig(cfg)
	assert.Equal(t, 7, shared.svc.ExecutionConfig().ConcurrencyLimit)
	assert.Same(t, gate, shared.svc.Gate(), "the shared gate is resized, not replaced")
	assert.Equal(t, 7, gate.Limit())
}

func TestHealthAndClose(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.svc.Health(ctx))
	require.NoError(t, env.svc.Close(ctx))

	env.mapping(t, "c-orders", "t-orders")
	plan := env.discover(t)
	_, err := env.svc.StartExecution(ctx, ExecuteRequest{PlanID: plan.ID})
	require.Error(t, err, "no background work after close")
	assert.Contains(t, err.Error(), "shutting down")
}

func TestStartExecutionConcurrentWithClose(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.SharedGate = true })
	ctx := context.Background()

	env.mapping(t, "c-orders", "t-orders")
	plan := env.discover(t)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = env.svc.StartExecution(ctx, ExecuteRequest{PlanID: plan.ID})
		}()
	}
	close(start)
	require.NoError(t, env.svc.Close(ctx))
	wg.Wait()

	assert.Zero(t, env.svc.Gate().InFlight())
}
