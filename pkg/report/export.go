package report

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ato-project/ato/pkg/engine"
)

// Format is a result export format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatJUnit Format = "junit"
)

// Formats lists the supported export formats.
var Formats = []Format{FormatJSON, FormatCSV, FormatJUnit}

// ParseFormat accepts a format name case-insensitively. "xml" is an alias for junit.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatJUnit:
		return f, nil
	case "xml":
		return FormatJUnit, nil
	default:
		return "", engine.NewValidationError(fmt.Sprintf("unsupported export format %q (want json, csv or junit)", s))
	}
}

// Export writes results to w in the given format.
func Export(w io.Writer, format Format, results []*engine.TestExecutionResult) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, results)
	case FormatCSV:
		return WriteCSV(w, results)
	case FormatJUnit:
		return WriteJUnit(w, results)
	default:
		return engine.NewValidationError(fmt.Sprintf("unsupported export format %q", format))
	}
}

// WriteJSON writes results as an indented JSON array.
func WriteJSON(w io.Writer, results []*engine.TestExecutionResult) error {
	if results == nil {
		results = []*engine.TestExecutionResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// CSVHeader is the header row written by WriteCSV.
var CSVHeader = []string{"Plan ID", "Component", "Test Suite", "Case ID", "Description", "Status", "Details", "Time"}

// WriteCSV writes one row per test case. A result without a test case report
// is written as a single row describing the process execution.
func WriteCSV(w io.Writer, results []*engine.TestExecutionResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for _, r := range results {
		component := firstNonEmpty(r.ComponentName, r.ComponentID)
		suite := firstNonEmpty(r.TestComponentName, r.TestComponentID)
		executed := r.ExecutedAt.UTC().Format(time.RFC3339)

		if len(r.TestCases) == 0 {
			row := []string{r.PlanID, component, suite, "", processDescription, string(r.Status), processDetails(r), executed}
			if err := cw.Write(row); err != nil {
				return err
			}
			continue
		}

		for _, tc := range r.TestCases {
			row := []string{r.PlanID, component, suite, tc.TestCaseID, tc.TestDescription, string(tc.Status), tc.Details, executed}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

const (
	processDescription   = "Process Execution"
	processFailure       = "Process Execution Failed"
	processFailureType   = "SystemError"
	assertionFailure     = "Assertion Failed"
	assertionFailureType = "AssertionError"
)

func processDetails(r *engine.TestExecutionResult) string {
	if r.FailureKind == engine.FailureKindNone || strings.Contains(r.Message, string(r.FailureKind)) {
		return r.Message
	}
	if r.Message == "" {
		return string(r.FailureKind)
	}
	return fmt.Sprintf("%s: %s", r.FailureKind, r.Message)
}

// JUnit XML document.
type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string          `xml:"name,attr"`
	ID        string          `xml:"id,attr"`
	Package   string          `xml:"package,attr,omitempty"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Cases     []junitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// WriteJUnit writes one test suite per result. Failed test cases become
// failures; a failed result without a test case report becomes an error.
func WriteJUnit(w io.Writer, results []*engine.TestExecutionResult) error {
	doc := junitTestSuites{Name: "ato"}

	for _, r := range results {
		suite := junitTestSuite{
			Name:      firstNonEmpty(r.TestComponentName, r.TestComponentID, r.ComponentID),
			ID:        r.ID,
			Package:   r.PlanID,
			Timestamp: r.ExecutedAt.UTC().Format("2006-01-02T15:04:05"),
			SystemOut: r.LogURL,
		}
		className := firstNonEmpty(r.ComponentName, r.ComponentID)

		if len(r.TestCases) == 0 {
			tc := junitTestCase{Name: processDescription, ClassName: className}
			if r.Status == engine.ResultStatusFailure {
				tc.Error = &junitProblem{
					Message: processFailure,
					Type:    processFailureType,
					Body:    processDetails(r),
				}
				suite.Errors++
			}
			suite.Cases = append(suite.Cases, tc)
		}

		for i, c := range r.TestCases {
			tc := junitTestCase{
				Name:      firstNonEmpty(c.TestDescription, c.TestCaseID, fmt.Sprintf("case %d", i+1)),
				ClassName: className,
			}
			if c.Status == engine.TestCaseFailed {
				tc.Failure = &junitProblem{
					Message: assertionFailure,
					Type:    assertionFailureType,
					Body:    c.Details,
				}
				suite.Failures++
			}
			suite.Cases = append(suite.Cases, tc)
		}

		suite.Tests = len(suite.Cases)
		doc.Tests += suite.Tests
		doc.Failures += suite.Failures
		doc.Errors += suite.Errors
		doc.Suites = append(doc.Suites, suite)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode junit report: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
