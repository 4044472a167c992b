package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory PlanStore, MappingStore and ResultStore.
type memStore struct {
	mu         sync.Mutex
	plans      map[string]TestPlan
	components map[string][]PlanComponent
	mappings   []Mapping
	results    []TestExecutionResult

	failResults bool
	saveCalls   int
}

func newMemStore() *memStore {
	return &memStore{
		plans:      make(map[string]TestPlan),
		components: make(map[string][]PlanComponent),
	}
}

func (s *memStore) CreatePlan(_ context.Context, plan *TestPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = *plan
	return nil
}

func (s *memStore) GetPlan(_ context.Context, id string) (*TestPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, NewNotFoundError("plan", id)
	}
	return &p, nil
}

func (s *memStore) UpdatePlan(_ context.Context, plan *TestPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.ID]; !ok {
		return NewNotFoundError("plan", plan.ID)
	}
	s.plans[plan.ID] = *plan
	return nil
}

func (s *memStore) ListPlans(_ context.Context) ([]*TestPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TestPlan
	for _, p := range s.plans {
		p := p
		out = append(out, &p)
	}
	return out, nil
}

func (s *memStore) DeletePlan(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, id)
	delete(s.components, id)
	return nil
}

func (s *memStore) SavePlanComponents(_ context.Context, planID string, components []*PlanComponent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	for _, c := range components {
		s.components[planID] = append(s.components[planID], *c)
	}
	return nil
}

func (s *memStore) ListPlanComponents(_ context.Context, planID string) ([]*PlanComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PlanComponent
	for _, c := range s.components[planID] {
		c := c
		out = append(out, &c)
	}
	return out, nil
}

func (s *memStore) CreateMapping(_ context.Context, m *Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().Add(time.Duration(len(s.mappings)) * time.Millisecond)
	}
	s.mappings = append(s.mappings, *m)
	return nil
}

func (s *memStore) GetMapping(_ context.Context, id string) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.ID == id {
			m := m
			return &m, nil
		}
	}
	return nil, NewNotFoundError("mapping", id)
}

func (s *memStore) UpdateMapping(_ context.Context, m *Mapping) error { return nil }
func (s *memStore) DeleteMapping(_ context.Context, id string) error  { return nil }

func (s *memStore) ListMappings(_ context.Context, _ MappingFilter) ([]*Mapping, error) {
	return s.ListMappingsForComponents(context.Background(), nil)
}

func (s *memStore) ListMappingsForComponents(_ context.Context, ids []string) ([]*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []*Mapping
	for _, m := range s.mappings {
		if ids != nil && !want[m.MainComponentID] {
			continue
		}
		m := m
		out = append(out, &m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) SaveResult(_ context.Context, r *TestExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failResults {
		return errors.New("database is locked")
	}
	s.results = append(s.results, *r)
	return nil
}

func (s *memStore) ListResults(_ context.Context, f ResultFilter) ([]*TestExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TestExecutionResult
	for _, r := range s.results {
		if f.PlanID != "" && r.PlanID != f.PlanID {
			continue
		}
		if f.ComponentID != "" && r.ComponentID != f.ComponentID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		r := r
		out = append(out, &r)
	}
	return out, nil
}

func (s *memStore) planStatus(id string) PlanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plans[id].Status
}

func (s *memStore) addPlan(status PlanStatus, componentIDs ...string) *TestPlan {
	plan := &TestPlan{ID: fmt.Sprintf("plan-%d", len(s.plans)+1), RootComponentID: componentIDs[0], Status: status}
	_ = s.CreatePlan(context.Background(), plan)
	var comps []*PlanComponent
	for _, id := range componentIDs {
		comps = append(comps, &PlanComponent{
			ID:            "pc-" + id,
			PlanID:        plan.ID,
			ComponentID:   id,
			ComponentName: "Component " + id,
			SourceSystem:  SourceSystemBoomi,
		})
	}
	_ = s.SavePlanComponents(context.Background(), plan.ID, comps)
	return plan
}

func (s *memStore) addMapping(mainID, testID string) {
	_ = s.CreateMapping(context.Background(), &Mapping{
		ID:                "map-" + mainID + "-" + testID,
		MainComponentID:   mainID,
		TestComponentID:   testID,
		TestComponentName: "Test " + testID,
	})
}

// staticResolver resolves a fixed set of profiles.
type staticResolver map[string]*Credentials

func (r staticResolver) Resolve(_ context.Context, profile string) (*Credentials, error) {
	c, ok := r[profile]
	if !ok {
		return nil, NewNotFoundError("credential profile", profile)
	}
	return c, nil
}

func testResolver() staticResolver {
	return staticResolver{
		"default": {
			Provider:            "boomi",
			AccountID:           "acct",
			Username:            "user",
			Password:            "secret",
			ExecutionInstanceID: "atom-1",
		},
		"noinst": {
			Provider:  "boomi",
			AccountID: "acct",
			Username:  "user",
			Password:  "secret",
		},
	}
}

// fakeClient is a scriptable PlatformClient.
type fakeClient struct {
	mu sync.Mutex

	graph   map[string]*ComponentInfo
	infoErr map[string]error

	// submitErrs are returned, in order, by the first calls to SubmitTest for a test component.
	submitErrs  map[string][]error
	submitCalls map[string]int

	// pollStates are returned, in order, by PollTest; the last state repeats.
	pollStates map[string][]JobState
	pollErr    map[string]error
	pollCalls  map[string]int
	pollDelay  time.Duration

	active    int
	maxActive int
	lastExec  string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		graph:       make(map[string]*ComponentInfo),
		infoErr:     make(map[string]error),
		submitErrs:  make(map[string][]error),
		submitCalls: make(map[string]int),
		pollStates:  make(map[string][]JobState),
		pollErr:     make(map[string]error),
		pollCalls:   make(map[string]int),
	}
}

func (c *fakeClient) node(id string, deps ...string) {
	c.graph[id] = &ComponentInfo{ID: id, Name: "Component " + id, Type: "process", Version: 1, DependencyIDs: deps}
}

func (c *fakeClient) GetComponentInfoAndDependencies(_ context.Context, id string) (*ComponentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.infoErr[id]; ok {
		return nil, err
	}
	info, ok := c.graph[id]
	if !ok {
		return nil, NewNotFoundError("component", id)
	}
	cp := *info
	return &cp, nil
}

func (c *fakeClient) SubmitTest(_ context.Context, testID string, opts SubmitOptions) (*JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.submitCalls[testID]
	c.submitCalls[testID] = n + 1
	c.lastExec = opts.ExecutionInstanceID
	if errs := c.submitErrs[testID]; n < len(errs) && errs[n] != nil {
		return nil, errs[n]
	}
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	return &JobHandle{ID: testID, LogURL: "https://platform.example/logs/" + testID}, nil
}

func (c *fakeClient) PollTest(_ context.Context, h *JobHandle) (*JobStatus, error) {
	if c.pollDelay > 0 {
		time.Sleep(c.pollDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.pollCalls[h.ID]
	c.pollCalls[h.ID] = n + 1
	if err, ok := c.pollErr[h.ID]; ok {
		return nil, err
	}
	states := c.pollStates[h.ID]
	state := JobStateSucceeded
	if len(states) > 0 {
		if n < len(states) {
			state = states[n]
		} else {
			state = states[len(states)-1]
		}
	}
	if state.IsTerminal() {
		c.active--
	}
	msg := ""
	if state == JobStateFailed {
		msg = "assertion failed"
	}
	return &JobStatus{State: state, Message: msg}, nil
}

func (c *fakeClient) calls(testID string) (submits, polls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitCalls[testID], c.pollCalls[testID]
}

func (c *fakeClient) factory() ClientFactory {
	return ClientFactoryFunc(func(*Credentials) (PlatformClient, error) { return c, nil })
}

// fastConfig keeps retries and polls quick in tests.
func fastConfig() ExecutionConfig {
	return ExecutionConfig{
		PollInterval:     time.Millisecond,
		MaxPolls:         10,
		MaxRetries:       5,
		InitialDelay:     time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		ConcurrencyLimit: 5,
	}
}

// recordingMetrics counts engine measurements.
type recordingMetrics struct {
	mu             sync.Mutex
	jobs           map[string]int
	submitAttempts int
	polls          int
	discoveries    int
}

func (m *recordingMetrics) RecordDiscovery(string, int, time.Duration) {
	m.mu.Lock()
	m.discoveries++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordJob(status, kind string, _ time.Duration) {
	m.mu.Lock()
	if m.jobs == nil {
		m.jobs = make(map[string]int)
	}
	m.jobs[status+"/"+kind]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordSubmitAttempt(string) {
	m.mu.Lock()
	m.submitAttempts++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordPoll(string) {
	m.mu.Lock()
	m.polls++
	m.mu.Unlock()
}

func (m *recordingMetrics) JobStarted()  {}
func (m *recordingMetrics) JobFinished() {}

// denyPolicy denies jobs for the listed test components.
type denyPolicy map[string]string

func (p denyPolicy) EvaluateJob(_ context.Context, in *JobPolicyInput) (*PolicyDecision, error) {
	if reason, ok := p[in.Mapping.TestComponentID]; ok {
		return &PolicyDecision{Allowed: false, Reasons: []string{reason}}, nil
	}
	return &PolicyDecision{Allowed: true}, nil
}
