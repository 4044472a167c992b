package engine

import (
	"fmt"
)

// PlanStatus represents the lifecycle status of a test plan.
type PlanStatus string

const (
	// PlanStatusPending indicates discovery has started but not finished.
	PlanStatusPending PlanStatus = "PENDING"

	// PlanStatusAwaitingSelection indicates discovery finished and the plan
	// is waiting for the caller to pick components to test.
	PlanStatusAwaitingSelection PlanStatus = "AWAITING_SELECTION"

	// PlanStatusExecuting indicates at least one execution batch is running.
	PlanStatusExecuting PlanStatus = "EXECUTING"

	// PlanStatusCompleted indicates every job of the last batch reached a terminal result.
	// It does not imply the tests passed.
	PlanStatusCompleted PlanStatus = "COMPLETED"

	// PlanStatusFailed indicates discovery or execution could not run at all.
	PlanStatusFailed PlanStatus = "FAILED"
)

// planTransitions lists the allowed forward moves. COMPLETED -> EXECUTING is a
// re-run and EXECUTING -> EXECUTING an overlapping batch; both append results.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanStatusPending:           {PlanStatusAwaitingSelection, PlanStatusFailed},
	PlanStatusAwaitingSelection: {PlanStatusExecuting, PlanStatusFailed},
	PlanStatusExecuting:         {PlanStatusExecuting, PlanStatusCompleted, PlanStatusFailed},
	PlanStatusCompleted:         {PlanStatusExecuting},
	PlanStatusFailed:            {},
}

// CanTransitionTo reports whether a plan in status s may move to next.
func (s PlanStatus) CanTransitionTo(next PlanStatus) bool {
	for _, allowed := range planTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the plan is at rest after execution or failure.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed
}

// IsExecutable returns true if an execution batch may start on the plan.
func (s PlanStatus) IsExecutable() bool {
	return s.CanTransitionTo(PlanStatusExecuting)
}

// Validate checks if the plan status is valid.
func (s PlanStatus) Validate() error {
	if _, ok := planTransitions[s]; !ok {
		return fmt.Errorf("invalid plan status: %s", s)
	}
	return nil
}

// ResultStatus is the recorded outcome of one test execution.
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "SUCCESS"
	ResultStatusFailure ResultStatus = "FAILURE"
)

// Validate checks if the result status is valid.
func (s ResultStatus) Validate() error {
	switch s {
	case ResultStatusSuccess, ResultStatusFailure:
		return nil
	default:
		return fmt.Errorf("invalid result status: %s", s)
	}
}

// FailureKind distinguishes why a FAILURE result was recorded.
type FailureKind string

const (
	// FailureKindNone is used for SUCCESS results.
	FailureKindNone FailureKind = ""

	// FailureKindNoMapping marks a selected component with no test mapping.
	FailureKindNoMapping FailureKind = "no_mapping"

	// FailureKindPolicyDenied marks a job rejected by an execution policy.
	FailureKindPolicyDenied FailureKind = "policy_denied"

	// FailureKindSubmitFailed marks a job whose submission exhausted its retries.
	FailureKindSubmitFailed FailureKind = "submit_failed"

	// FailureKindTimeout marks a job that hit the poll ceiling.
	FailureKindTimeout FailureKind = "timeout"

	// FailureKindPlatform marks a job the platform itself reported as failed.
	FailureKindPlatform FailureKind = "platform"
)

// JobState is the platform-reported state of a submitted test job.
type JobState string

const (
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
)

// IsTerminal returns true once the platform will not change the job again.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// TestCaseStatus is the status of a single case inside a platform test report.
type TestCaseStatus string

const (
	TestCasePassed TestCaseStatus = "PASSED"
	TestCaseFailed TestCaseStatus = "FAILED"
)
