package policy

import (
	"time"

	"github.com/ato-project/ato/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the job.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the job.
	SeverityError Severity = "error"

	// SeverityCritical blocks the job.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny a job.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set is evaluated for every job.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with ato.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the component id the violation refers to.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Input is the document policies see as input.
type Input struct {
	Plan                *engine.TestPlan      `json:"plan"`
	Component           *engine.PlanComponent `json:"component"`
	Mapping             *engine.Mapping       `json:"mapping"`
	ExecutionInstanceID string                `json:"execution_instance_id"`
	Context             *Context              `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed.
	Operation string `json:"operation"`

	// Environment is the deployment environment from configuration.
	Environment string `json:"environment,omitempty"`
}

// Result is the full outcome of evaluating every enabled policy for one job.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	Warnings          []Violation   `json:"warnings,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}
