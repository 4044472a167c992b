package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ato-project/ato/pkg/credentials"
	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/stores"
)

// fakePlatform serves a fixed component graph and completes every job on
// the first poll.
type fakePlatform struct {
	mu         sync.Mutex
	components map[string]*engine.ComponentInfo
	failing    map[string]string
	submitted  []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		components: make(map[string]*engine.ComponentInfo),
		failing:    make(map[string]string),
	}
}

func (f *fakePlatform) add(id, name, typ string, deps ...string) {
	f.components[id] = &engine.ComponentInfo{ID: id, Name: name, Type: typ, Version: 1, DependencyIDs: deps}
}

func (f *fakePlatform) GetComponentInfoAndDependencies(_ context.Context, id string) (*engine.ComponentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.components[id]
	if !ok {
		return nil, engine.NewNotFoundError("component", id)
	}
	info := *c
	return &info, nil
}

func (f *fakePlatform) SubmitTest(_ context.Context, testComponentID string, _ engine.SubmitOptions) (*engine.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, testComponentID)
	return &engine.JobHandle{ID: "job-" + testComponentID}, nil
}

func (f *fakePlatform) PollTest(_ context.Context, handle *engine.JobHandle) (*engine.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	testID := strings.TrimPrefix(handle.ID, "job-")
	if msg, ok := f.failing[testID]; ok {
		return &engine.JobStatus{State: engine.JobStateFailed, Message: msg}, nil
	}
	return &engine.JobStatus{State: engine.JobStateSucceeded, Message: "ok"}, nil
}

func (f *fakePlatform) submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func (f *fakePlatform) factory() engine.ClientFactory {
	return engine.ClientFactoryFunc(func(*engine.Credentials) (engine.PlatformClient, error) {
		return f, nil
	})
}

// orderGraph is a diamond: root depends on orders and lib, orders on lib.
func orderGraph() *fakePlatform {
	p := newFakePlatform()
	p.add("c-root", "Root Flow", "process", "c-orders", "c-lib")
	p.add("c-orders", "Orders Sync", "process", "c-lib")
	p.add("c-lib", "Shared Lib", "script")
	return p
}

func fastExecution() engine.ExecutionConfig {
	return engine.ExecutionConfig{
		PollInterval:     time.Millisecond,
		MaxPolls:         3,
		MaxRetries:       2,
		InitialDelay:     time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		ConcurrencyLimit: 2,
	}
}

type testEnv struct {
	svc      *Service
	store    *stores.SQLiteStore
	platform *fakePlatform
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := stores.Open(ctx, stores.Config{Path: filepath.Join(t.TempDir(), "ato.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	creds, err := credentials.NewStore(store, "test-passphrase", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, creds.Add(ctx, "dev", engine.Credentials{
		AccountID:           "acct-1",
		Username:            "svc@example.com",
		Password:            "secret",
		ExecutionInstanceID: "atom-1",
	}))

	platform := orderGraph()
	opts := Options{
		Store:          store,
		Credentials:    creds,
		Clients:        platform.factory(),
		Execution:      fastExecution(),
		DefaultProfile: "dev",
		Logger:         zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	svc, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	return &testEnv{svc: svc, store: store, platform: platform}
}

func (e *testEnv) mapping(t *testing.T, mainID, testID string) *engine.Mapping {
	t.Helper()
	m, err := e.svc.CreateMapping(context.Background(), &engine.Mapping{
		MainComponentID:   mainID,
		TestComponentID:   testID,
		TestComponentName: testID + " suite",
		IsDeployed:        true,
	})
	require.NoError(t, err)
	return m
}

func (e *testEnv) discover(t *testing.T) *engine.TestPlan {
	t.Helper()
	plan, err := e.svc.InitiateDiscovery(context.Background(), engine.DiscoverRequest{
		RootComponentID:      "c-root",
		Name:                 "nightly",
		DiscoverDependencies: true,
	})
	require.NoError(t, err)
	return plan
}
