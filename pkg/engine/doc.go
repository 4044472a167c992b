// Package engine provides the discovery and execution core of the test orchestrator.
//
// # Overview
//
// A test campaign runs in two phases:
//
//  1. Discovery - Discoverer walks the platform dependency graph from a root
//     component and records the flattened component set as a TestPlan.
//  2. Execution - Orchestrator resolves selected components to their test
//     Mappings and drives submit/poll jobs on the platform, recording one
//     TestExecutionResult per job.
//
// # Plan Lifecycle
//
//	PENDING -> AWAITING_SELECTION -> EXECUTING -> COMPLETED
//	    \              \                 \
//	     +------------- +---------------- +-> FAILED
//
// COMPLETED may return to EXECUTING for a re-run. Re-runs append results and
// never modify earlier ones. FAILED is terminal.
//
// # Collaborators
//
// The engine depends only on small interfaces:
//
//   - PlatformClient: component metadata, test submission and polling
//   - ClientFactory: builds a PlatformClient from Credentials
//   - CredentialResolver: resolves a profile name to Credentials
//   - PlanStore, MappingStore, ResultStore: persistence
//   - PolicyEvaluator: optional gate deciding whether a job may run
//   - Metrics, EventPublisher: optional instrumentation
//
// # Failure Handling
//
// Discovery is all-or-nothing: any failed lookup marks the plan FAILED and no
// component is written. During execution, per-component problems (no mapping,
// policy denial, exhausted submission retries, poll timeout, platform failure)
// become FAILURE results and the batch continues. Only failures that stop the
// batch itself, such as unresolvable credentials or an unwritable result store,
// are returned to the caller and mark the plan FAILED.
//
// # Concurrency
//
// Each Execute call admits platform jobs through a Gate, a FIFO counting
// semaphore sized by ExecutionConfig.ConcurrencyLimit. Callers that want one
// ceiling across several batches pass a shared Gate in ExecuteRequest.
package engine
