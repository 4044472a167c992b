package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ato-project/ato/pkg/engine"
)

var executedAt = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func sampleResults() []*engine.TestExecutionResult {
	return []*engine.TestExecutionResult{
		{
			ID:                "r1",
			PlanID:            "plan-1",
			ComponentID:       "c-orders",
			ComponentName:     "Orders Sync",
			TestComponentID:   "t-orders",
			TestComponentName: "Orders Sync Test",
			Status:            engine.ResultStatusFailure,
			FailureKind:       engine.FailureKindPlatform,
			Message:           "1 of 2 cases failed",
			TestCases: []engine.TestCaseResult{
				{TestCaseID: "TC1", TestDescription: "maps order header", Status: engine.TestCasePassed},
				{TestCaseID: "TC2", TestDescription: "maps order lines", Status: engine.TestCaseFailed, Details: "expected 3 lines, got 2"},
			},
			ExecutedAt: executedAt,
		},
		{
			ID:              "r2",
			PlanID:          "plan-1",
			ComponentID:     "c-invoices",
			TestComponentID: "t-invoices",
			Status:          engine.ResultStatusFailure,
			FailureKind:     engine.FailureKindTimeout,
			Message:         "job did not finish after 180 polls",
			ExecutedAt:      executedAt,
		},
		{
			ID:                "r3",
			PlanID:            "plan-1",
			ComponentID:       "c-customers",
			ComponentName:     "Customers",
			TestComponentID:   "t-customers",
			TestComponentName: "Customers Test",
			Status:            engine.ResultStatusSuccess,
			ExecutedAt:        executedAt,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{" CSV ", FormatCSV, false},
		{"junit", FormatJUnit, false},
		{"xml", FormatJUnit, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatCSV, sampleResults()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5, "header, two cases, one process row per case-less result")

	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"plan-1", "Orders Sync", "Orders Sync Test", "TC1", "maps order header", "PASSED", "", "2026-05-04T10:30:00Z"}, rows[1])
	assert.Equal(t, "FAILED", rows[2][5])
	assert.Equal(t, "expected 3 lines, got 2", rows[2][6])

	assert.Equal(t, []string{"plan-1", "c-invoices", "t-invoices", "", "Process Execution", "FAILURE", "timeout: job did not finish after 180 polls", "2026-05-04T10:30:00Z"}, rows[3])
	assert.Equal(t, "SUCCESS", rows[4][5])
}

func TestWriteJUnit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJUnit(&buf, sampleResults()))

	out := buf.String()
	assert.Contains(t, out, xml.Header)

	var doc junitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 4, doc.Tests)
	assert.Equal(t, 1, doc.Failures)
	assert.Equal(t, 1, doc.Errors)
	require.Len(t, doc.Suites, 3)

	orders := doc.Suites[0]
	assert.Equal(t, "Orders Sync Test", orders.Name)
	require.Len(t, orders.Cases, 2)
	assert.Nil(t, orders.Cases[0].Failure)
	require.NotNil(t, orders.Cases[1].Failure)
	assert.Equal(t, "Assertion Failed", orders.Cases[1].Failure.Message)
	assert.Equal(t, "AssertionError", orders.Cases[1].Failure.Type)
	assert.Equal(t, "expected 3 lines, got 2", orders.Cases[1].Failure.Body)

	invoices := doc.Suites[1]
	require.Len(t, invoices.Cases, 1)
	assert.Equal(t, "Process Execution", invoices.Cases[0].Name)
	require.NotNil(t, invoices.Cases[0].Error)
	assert.Equal(t, "Process Execution Failed", invoices.Cases[0].Error.Message)
	assert.Equal(t, "SystemError", invoices.Cases[0].Error.Type)

	customers := doc.Suites[2]
	require.Len(t, customers.Cases, 1)
	assert.Nil(t, customers.Cases[0].Error)
	assert.Equal(t, "2026-05-04T10:30:00", customers.Timestamp)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, sampleResults()[:1]))
	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "FAILURE", decoded[0]["status"])
	assert.Len(t, decoded[0]["test_cases"], 2)
}
