// Package api serves the test orchestration service over HTTP.
//
// Every route lives under /api/v1 and answers with a JSON envelope:
//
//	{"metadata": {"code": 200, "message": "OK"}, "data": ...}
//
// Errors carry the metadata block only. Engine error codes map onto status
// codes: VALIDATION is 400, NOT_FOUND is 404, CONFLICT and INVALID_STATE are
// 409. Anything outside the engine taxonomy is a bare 500.
//
// Execution is asynchronous: POST /test-plans/{planId}/execute answers 202
// once the batch is accepted, and progress shows up in the plan status, the
// results and the event log.
package api
