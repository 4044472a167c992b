package engine

import (
	"time"
)

// TestPlan is one discovery-and-execution campaign rooted at a single component.
type TestPlan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Name is an optional human label.
	Name string `json:"name,omitempty"`

	// RootComponentID is the platform component discovery started from.
	RootComponentID string `json:"root_component_id"`

	// Status is the current lifecycle status.
	Status PlanStatus `json:"status"`

	// FailureReason explains a FAILED status.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition moves the plan to next if the lifecycle allows it.
func (p *TestPlan) Transition(next PlanStatus, reason string) error {
	if !p.Status.CanTransitionTo(next) {
		return NewInvalidStateError(p.ID, p.Status, next)
	}
	p.Status = next
	if next == PlanStatusFailed {
		p.FailureReason = reason
	} else {
		p.FailureReason = ""
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// PlanComponent is one de-duplicated node of a plan's flattened dependency graph.
type PlanComponent struct {
	ID            string    `json:"id"`
	PlanID        string    `json:"plan_id"`
	ComponentID   string    `json:"component_id"`
	ComponentName string    `json:"component_name"`
	ComponentType string    `json:"component_type,omitempty"`
	Version       int       `json:"version,omitempty"`
	SourceSystem  string    `json:"source_system"`
	CreatedAt     time.Time `json:"created_at"`
}

// Mapping associates a main component with the test component that exercises it.
type Mapping struct {
	ID                string    `json:"id"`
	MainComponentID   string    `json:"main_component_id" validate:"required"`
	MainComponentName string    `json:"main_component_name,omitempty"`
	TestComponentID   string    `json:"test_component_id" validate:"required,nefield=MainComponentID"`
	TestComponentName string    `json:"test_component_name,omitempty"`
	IsDeployed        bool      `json:"is_deployed"`
	IsPackage         bool      `json:"is_package"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TestCaseResult is one case of a structured report returned by a test process.
type TestCaseResult struct {
	TestCaseID      string         `json:"test_case_id,omitempty"`
	TestDescription string         `json:"test_description"`
	Status          TestCaseStatus `json:"status"`
	Details         string         `json:"details,omitempty"`
}

// TestExecutionResult is the immutable record of one test run.
type TestExecutionResult struct {
	ID                string           `json:"id"`
	PlanID            string           `json:"plan_id"`
	PlanComponentID   string           `json:"plan_component_id"`
	ComponentID       string           `json:"component_id"`
	ComponentName     string           `json:"component_name,omitempty"`
	TestComponentID   string           `json:"test_component_id,omitempty"`
	TestComponentName string           `json:"test_component_name,omitempty"`
	Status            ResultStatus     `json:"status"`
	FailureKind       FailureKind      `json:"failure_kind,omitempty"`
	Message           string           `json:"message,omitempty"`
	LogURL            string           `json:"log_url,omitempty"`
	SubmitAttempts    int              `json:"submit_attempts"`
	Polls             int              `json:"polls"`
	TestCases         []TestCaseResult `json:"test_cases,omitempty"`
	ExecutedAt        time.Time        `json:"executed_at"`
}

// ResultFilter narrows result queries. Empty fields match everything.
type ResultFilter struct {
	PlanID          string
	PlanComponentID string
	ComponentID     string
	TestComponentID string
	Status          ResultStatus
	Limit           int
}

// MappingFilter narrows mapping queries.
type MappingFilter struct {
	MainComponentID string
	TestComponentID string
}

// Credentials is the bundle needed to talk to a platform account.
type Credentials struct {
	// Provider selects the platform client implementation (default "boomi").
	Provider            string `json:"provider" validate:"required"`
	AccountID           string `json:"account_id" validate:"required"`
	Username            string `json:"username" validate:"required"`
	Password            string `json:"password" validate:"required"`
	ExecutionInstanceID string `json:"execution_instance_id,omitempty"`
}

// ComponentInfo is the platform's view of a component and its direct dependencies.
type ComponentInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Version       int      `json:"version"`
	DependencyIDs []string `json:"dependency_ids"`
}

// SubmitOptions scope a test submission.
type SubmitOptions struct {
	ExecutionInstanceID string
}

// JobHandle identifies a submitted platform job.
type JobHandle struct {
	ID     string `json:"id"`
	LogURL string `json:"log_url,omitempty"`
}

// JobStatus is the result of one poll.
type JobStatus struct {
	State     JobState
	Message   string
	LogURL    string
	TestCases []TestCaseResult
}

// DiscoverRequest starts a discovery.
type DiscoverRequest struct {
	RootComponentID string `validate:"required"`
	Name            string
	// Profile names the credential profile used to reach the platform.
	Profile string `validate:"required"`
	// DiscoverDependencies walks the dependency graph; false records the root only.
	DiscoverDependencies bool
}

// ExecuteRequest starts an execution batch on a plan.
type ExecuteRequest struct {
	PlanID string `validate:"required"`

	// Selection holds plan component ids, component ids or test component ids.
	// Empty selects every mapped component of the plan.
	Selection []string

	// Profile names the credential profile to run with.
	Profile string `validate:"required"`

	// ExecutionInstanceID overrides the profile's default execution instance.
	ExecutionInstanceID string

	// Gate shares a concurrency ceiling across calls. Nil means a gate per call.
	Gate *Gate
}

// ExecutionSummary reports what one batch did.
type ExecutionSummary struct {
	PlanID    string        `json:"plan_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// PlanDetails is a plan with its components, the tests mapped to each and the
// results recorded for each.
type PlanDetails struct {
	Plan       *TestPlan          `json:"plan"`
	Components []ComponentDetails `json:"components"`
}

// ComponentDetails is one plan component in a PlanDetails view.
type ComponentDetails struct {
	*PlanComponent

	// Tests are the mappings of the component, oldest first.
	Tests []*Mapping `json:"tests"`

	// Results are the component's results, newest first.
	Results []*TestExecutionResult `json:"results"`
}

// Latest returns the most recent result, or nil.
func (c ComponentDetails) Latest() *TestExecutionResult {
	if len(c.Results) == 0 {
		return nil
	}
	return c.Results[0]
}
