package boomi

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ato-project/ato/pkg/engine"
)

// Execution record statuses reported by the AtomSphere API.
const (
	recordStatusComplete     = "COMPLETE"
	recordStatusCompleteWarn = "COMPLETE_WARN"
	recordStatusError        = "ERROR"
	recordStatusAborted      = "ABORTED"
	recordStatusDiscarded    = "DISCARDED"
)

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type componentMetadata struct {
	ComponentID string  `json:"componentId"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Version     flexInt `json:"version"`
}

type queryExpression struct {
	Operator         string            `json:"operator"`
	Property         string            `json:"property,omitempty"`
	Argument         []any             `json:"argument,omitempty"`
	NestedExpression []queryExpression `json:"nestedExpression,omitempty"`
}

type queryFilter struct {
	Expression queryExpression `json:"expression"`
}

type queryRequest struct {
	QueryFilter queryFilter `json:"QueryFilter"`
}

type componentReference struct {
	ComponentID string `json:"componentId"`
	Type        string `json:"type,omitempty"`
}

type componentReferenceResult struct {
	ParentComponentID string               `json:"parentComponentId"`
	References        []componentReference `json:"references"`
}

type componentReferenceQueryResponse struct {
	NumberOfResults int                        `json:"numberOfResults"`
	Result          []componentReferenceResult `json:"result"`
	QueryToken      string                     `json:"queryToken"`
}

type executionRequest struct {
	Type      string `json:"@type"`
	AtomID    string `json:"atomId"`
	ProcessID string `json:"processId"`
}

type executionRequestResponse struct {
	RequestID string `json:"requestId"`
	RecordURL string `json:"recordUrl"`
}

type executionRecord struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

type executionRecordResponse struct {
	ResponseStatusCode int               `json:"responseStatusCode"`
	Result             []executionRecord `json:"result"`
}

// testReport is the structured payload a test process may leave in its
// execution record message.
type testReport struct {
	TestCases []struct {
		TestCaseID      string `json:"testCaseId"`
		TestDescription string `json:"testDescription"`
		Status          string `json:"status"`
		Details         string `json:"details"`
	} `json:"testCases"`
}

// parseTestReport extracts test cases from a record message. It returns nil
// when the message is not a report.
func parseTestReport(message string) []engine.TestCaseResult {
	message = strings.TrimSpace(message)
	if !strings.HasPrefix(message, "{") {
		return nil
	}
	var report testReport
	if err := json.Unmarshal([]byte(message), &report); err != nil || report.TestCases == nil {
		return nil
	}

	cases := make([]engine.TestCaseResult, 0, len(report.TestCases))
	for _, tc := range report.TestCases {
		status := engine.TestCaseFailed
		if strings.EqualFold(tc.Status, string(engine.TestCasePassed)) {
			status = engine.TestCasePassed
		}
		cases = append(cases, engine.TestCaseResult{
			TestCaseID:      tc.TestCaseID,
			TestDescription: tc.TestDescription,
			Status:          status,
			Details:         tc.Details,
		})
	}
	return cases
}
