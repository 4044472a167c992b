package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ato-project/ato/pkg/engine"
)

// setupTestStore creates a migrated SQLite store in a temp directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "ato.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func createPlan(t *testing.T, store *SQLiteStore, root string) *engine.TestPlan {
	t.Helper()
	plan := &engine.TestPlan{RootComponentID: root, Status: engine.PlanStatusPending}
	require.NoError(t, store.CreatePlan(context.Background(), plan))
	return plan
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations must be idempotent")
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.Error(t, err)
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"test_plans", "plan_components", "mappings", "test_execution_results", "credential_profiles", "events"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestPlanCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	plan := &engine.TestPlan{Name: "nightly", RootComponentID: "root-1", Status: engine.PlanStatusPending}
	require.NoError(t, store.CreatePlan(ctx, plan))
	require.NotEmpty(t, plan.ID)

	got, err := store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, "root-1", got.RootComponentID)
	assert.Equal(t, engine.PlanStatusPending, got.Status)
	assert.WithinDuration(t, plan.CreatedAt, got.CreatedAt, time.Millisecond)

	require.NoError(t, got.Transition(engine.PlanStatusFailed, "root component not found"))
	require.NoError(t, store.UpdatePlan(ctx, got))

	got, err = store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PlanStatusFailed, got.Status)
	assert.Equal(t, "root component not found", got.FailureReason)

	_, err = store.GetPlan(ctx, "nope")
	assert.True(t, engine.IsNotFound(err))

	err = store.UpdatePlan(ctx, &engine.TestPlan{ID: "nope", Status: engine.PlanStatusFailed})
	assert.True(t, engine.IsNotFound(err))
}

func TestListPlansNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, root := range []string{"a", "b", "c"} {
		plan := &engine.TestPlan{
			RootComponentID: root,
			Status:          engine.PlanStatusPending,
			CreatedAt:       base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.CreatePlan(ctx, plan))
	}

	plans, err := store.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "c", plans[0].RootComponentID)
	assert.Equal(t, "a", plans[2].RootComponentID)
}

func TestPlanComponentsBulkSave(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	plan := createPlan(t, store, "R")

	comps := []*engine.PlanComponent{
		{ComponentID: "R", ComponentName: "Root", ComponentType: "process", Version: 3, SourceSystem: "boomi"},
		{ComponentID: "A", ComponentName: "A", ComponentType: "connector", Version: 1, SourceSystem: "boomi"},
	}
	require.NoError(t, store.SavePlanComponents(ctx, plan.ID, comps))

	got, err := store.ListPlanComponents(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "R", got[0].ComponentID)
	assert.Equal(t, 3, got[0].Version)
	assert.Equal(t, plan.ID, got[1].PlanID)
	assert.NotEmpty(t, got[1].ID)
}

func TestPlanComponentsDuplicateRollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	plan := createPlan(t, store, "R")

	err := store.SavePlanComponents(ctx, plan.ID, []*engine.PlanComponent{
		{ComponentID: "R"},
		{ComponentID: "A"},
		{ComponentID: "A"},
	})
	require.Error(t, err)
	assert.True(t, engine.IsConflict(err))

	got, err := store.ListPlanComponents(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, got, "a failed bulk write must leave nothing behind")
}

func TestDeletePlanCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	plan := createPlan(t, store, "R")

	require.NoError(t, store.SavePlanComponents(ctx, plan.ID, []*engine.PlanComponent{{ComponentID: "R"}}))
	require.NoError(t, store.SaveResult(ctx, &engine.TestExecutionResult{
		PlanID: plan.ID, PlanComponentID: "pc", ComponentID: "R", Status: engine.ResultStatusSuccess,
	}))

	require.NoError(t, store.DeletePlan(ctx, plan.ID))

	comps, err := store.ListPlanComponents(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, comps)

	results, err := store.ListResults(ctx, engine.ResultFilter{PlanID: plan.ID})
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.True(t, engine.IsNotFound(store.DeletePlan(ctx, plan.ID)))
}

func TestMappingCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m := &engine.Mapping{MainComponentID: "C", TestComponentID: "TC", TestComponentName: "Test C"}
	require.NoError(t, store.CreateMapping(ctx, m))
	require.NotEmpty(t, m.ID)

	err := store.CreateMapping(ctx, &engine.Mapping{MainComponentID: "C", TestComponentID: "TC"})
	require.Error(t, err)
	assert.True(t, engine.IsConflict(err))

	got, err := store.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test C", got.TestComponentName)
	assert.False(t, got.IsDeployed)

	got.IsDeployed = true
	got.MainComponentName = "Main C"
	require.NoError(t, store.UpdateMapping(ctx, got))

	got, err = store.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeployed)
	assert.Equal(t, "Main C", got.MainComponentName)

	require.NoError(t, store.DeleteMapping(ctx, m.ID))
	_, err = store.GetMapping(ctx, m.ID)
	assert.True(t, engine.IsNotFound(err))
	assert.True(t, engine.IsNotFound(store.DeleteMapping(ctx, m.ID)))
}

func TestListMappingsFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, pair := range [][2]string{{"A", "TA"}, {"A", "TA2"}, {"B", "TB"}} {
		require.NoError(t, store.CreateMapping(ctx, &engine.Mapping{MainComponentID: pair[0], TestComponentID: pair[1]}))
	}

	all, err := store.ListMappings(ctx, engine.MappingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	forA, err := store.ListMappings(ctx, engine.MappingFilter{MainComponentID: "A"})
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	byTest, err := store.ListMappings(ctx, engine.MappingFilter{TestComponentID: "TB"})
	require.NoError(t, err)
	require.Len(t, byTest, 1)
	assert.Equal(t, "B", byTest[0].MainComponentID)
}

func TestListMappingsForComponentsOldestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, store.CreateMapping(ctx, &engine.Mapping{
		MainComponentID: "A", TestComponentID: "newer", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, store.CreateMapping(ctx, &engine.Mapping{
		MainComponentID: "A", TestComponentID: "older", CreatedAt: base,
	}))
	require.NoError(t, store.CreateMapping(ctx, &engine.Mapping{
		MainComponentID: "Z", TestComponentID: "other", CreatedAt: base,
	}))

	got, err := store.ListMappingsForComponents(ctx, []string{"A", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].TestComponentID)
	assert.Equal(t, "newer", got[1].TestComponentID)

	none, err := store.ListMappingsForComponents(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResultsAppendAndFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	plan := createPlan(t, store, "R")

	base := time.Now().UTC()
	results := []*engine.TestExecutionResult{
		{
			PlanID: plan.ID, PlanComponentID: "pc-A", ComponentID: "A", TestComponentID: "TA",
			Status: engine.ResultStatusSuccess, SubmitAttempts: 1, Polls: 2, ExecutedAt: base,
			TestCases: []engine.TestCaseResult{
				{TestCaseID: "1", TestDescription: "maps fields", Status: engine.TestCasePassed},
			},
		},
		{
			PlanID: plan.ID, PlanComponentID: "pc-B", ComponentID: "B",
			Status: engine.ResultStatusFailure, FailureKind: engine.FailureKindNoMapping,
			Message: "no test mapping", ExecutedAt: base.Add(time.Second),
		},
		{
			PlanID: plan.ID, PlanComponentID: "pc-A", ComponentID: "A", TestComponentID: "TA",
			Status: engine.ResultStatusFailure, FailureKind: engine.FailureKindPlatform,
			Message: "assertion failed", ExecutedAt: base.Add(2 * time.Second),
		},
	}
	for _, r := range results {
		require.NoError(t, store.SaveResult(ctx, r))
	}

	all, err := store.ListResults(ctx, engine.ResultFilter{PlanID: plan.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A", all[0].ComponentID)
	require.Len(t, all[0].TestCases, 1)
	assert.Equal(t, "maps fields", all[0].TestCases[0].TestDescription)
	assert.Equal(t, 2, all[0].Polls)
	assert.Nil(t, all[1].TestCases)

	failed, err := store.ListResults(ctx, engine.ResultFilter{PlanID: plan.ID, Status: engine.ResultStatusFailure})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	forA, err := store.ListResults(ctx, engine.ResultFilter{ComponentID: "A"})
	require.NoError(t, err)
	assert.Len(t, forA, 2, "re-runs append rather than replace")

	byPC, err := store.ListResults(ctx, engine.ResultFilter{PlanComponentID: "pc-B"})
	require.NoError(t, err)
	require.Len(t, byPC, 1)
	assert.Equal(t, engine.FailureKindNoMapping, byPC[0].FailureKind)

	byTest, err := store.ListResults(ctx, engine.ResultFilter{TestComponentID: "TA", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, byTest, 1)
}

func TestSaveResultUnknownPlan(t *testing.T) {
	store := setupTestStore(t)

	err := store.SaveResult(context.Background(), &engine.TestExecutionResult{
		PlanID: "nope", PlanComponentID: "pc", ComponentID: "A", Status: engine.ResultStatusSuccess,
	})
	assert.True(t, engine.IsNotFound(err))
}

func TestCredentialRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	record := &CredentialRecord{
		Name:         "prod",
		Provider:     "boomi",
		AccountID:    "acct-1",
		Username:     "svc",
		Salt:         []byte("0123456789abcdef"),
		SealedSecret: []byte{1, 2, 3},
	}
	require.NoError(t, store.SaveCredential(ctx, record))

	record.ExecutionInstanceID = "atom-9"
	require.NoError(t, store.SaveCredential(ctx, record))

	got, err := store.GetCredential(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, "atom-9", got.ExecutionInstanceID)
	assert.Equal(t, []byte{1, 2, 3}, got.SealedSecret)

	list, err := store.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteCredential(ctx, "prod"))
	_, err = store.GetCredential(ctx, "prod")
	assert.True(t, engine.IsNotFound(err))
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	planID := "plan-1"
	details := `{"components":3}`
	require.NoError(t, store.AppendEvent(ctx, &EventRecord{
		PlanID: &planID, Type: "discovery.completed", Level: "info", Message: "discovered", Details: &details,
	}))
	require.NoError(t, store.AppendEvent(ctx, &EventRecord{
		Type: "execution.started", Level: "info", Message: "other plan",
	}))

	events, err := store.ListEvents(ctx, EventFilter{PlanID: &planID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "discovery.completed", events[0].Type)
	assert.NotZero(t, events[0].ID)
	require.NotNil(t, events[0].Details)
	assert.JSONEq(t, details, *events[0].Details)

	all, err := store.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
