package engine

import (
	"context"
	"time"
)

// PlatformClient is the capability set the engine needs from an integration platform.
// Implementations live under pkg/platform and are selected by Credentials.Provider.
type PlatformClient interface {
	// GetComponentInfoAndDependencies returns a component's metadata and the ids it
	// references. A missing component is reported with an error for which IsNotFound holds.
	GetComponentInfoAndDependencies(ctx context.Context, componentID string) (*ComponentInfo, error)

	// SubmitTest launches the test process for testComponentID.
	SubmitTest(ctx context.Context, testComponentID string, opts SubmitOptions) (*JobHandle, error)

	// PollTest reports the current state of a submitted job.
	PollTest(ctx context.Context, handle *JobHandle) (*JobStatus, error)
}

// ClientFactory builds a platform client for a credential bundle.
type ClientFactory interface {
	NewClient(creds *Credentials) (PlatformClient, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(creds *Credentials) (PlatformClient, error)

// NewClient calls f.
func (f ClientFactoryFunc) NewClient(creds *Credentials) (PlatformClient, error) {
	return f(creds)
}

// CredentialResolver resolves a named profile to platform credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, profile string) (*Credentials, error)
}

// PlanStore persists test plans and their discovered components.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *TestPlan) error
	GetPlan(ctx context.Context, id string) (*TestPlan, error)
	UpdatePlan(ctx context.Context, plan *TestPlan) error
	ListPlans(ctx context.Context) ([]*TestPlan, error)
	DeletePlan(ctx context.Context, id string) error

	// SavePlanComponents writes the whole component set of a plan atomically.
	SavePlanComponents(ctx context.Context, planID string, components []*PlanComponent) error
	ListPlanComponents(ctx context.Context, planID string) ([]*PlanComponent, error)
}

// MappingStore persists main-to-test component mappings.
type MappingStore interface {
	CreateMapping(ctx context.Context, mapping *Mapping) error
	GetMapping(ctx context.Context, id string) (*Mapping, error)
	UpdateMapping(ctx context.Context, mapping *Mapping) error
	DeleteMapping(ctx context.Context, id string) error
	ListMappings(ctx context.Context, filter MappingFilter) ([]*Mapping, error)

	// ListMappingsForComponents returns every mapping whose main component is in
	// mainComponentIDs, oldest first.
	ListMappingsForComponents(ctx context.Context, mainComponentIDs []string) ([]*Mapping, error)
}

// ResultStore is the append-only record of test executions.
type ResultStore interface {
	SaveResult(ctx context.Context, result *TestExecutionResult) error
	ListResults(ctx context.Context, filter ResultFilter) ([]*TestExecutionResult, error)
}

// JobPolicyInput is what an execution policy sees for one job.
type JobPolicyInput struct {
	Plan                *TestPlan      `json:"plan"`
	Component           *PlanComponent `json:"component"`
	Mapping             *Mapping       `json:"mapping"`
	ExecutionInstanceID string         `json:"execution_instance_id"`
}

// PolicyDecision is the outcome of evaluating execution policies for a job.
type PolicyDecision struct {
	Allowed bool
	Reasons []string
}

// PolicyEvaluator decides whether a resolved job may be submitted.
type PolicyEvaluator interface {
	EvaluateJob(ctx context.Context, input *JobPolicyInput) (*PolicyDecision, error)
}

// Metrics receives engine measurements. Labels are plain strings so that
// implementations do not depend on this package.
type Metrics interface {
	RecordDiscovery(status string, components int, duration time.Duration)
	RecordJob(status, kind string, duration time.Duration)
	RecordSubmitAttempt(outcome string)
	RecordPoll(state string)
	JobStarted()
	JobFinished()
}

// EventPublisher publishes engine events.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// EventType identifies an engine event.
type EventType string

const (
	EventTypeDiscoveryStarted   EventType = "discovery.started"
	EventTypeDiscoveryCompleted EventType = "discovery.completed"
	EventTypeDiscoveryFailed    EventType = "discovery.failed"
	EventTypeExecutionStarted   EventType = "execution.started"
	EventTypeExecutionCompleted EventType = "execution.completed"
	EventTypeExecutionFailed    EventType = "execution.failed"
	EventTypeJobSubmitted       EventType = "job.submitted"
	EventTypeJobRetrying        EventType = "job.retrying"
	EventTypeJobCompleted       EventType = "job.completed"
	EventTypeJobFailed          EventType = "job.failed"
)

// Event is an engine progress notification.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	PlanID      string                 `json:"plan_id,omitempty"`
	ComponentID string                 `json:"component_id,omitempty"`
	Message     string                 `json:"message"`
	Level       string                 `json:"level"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
