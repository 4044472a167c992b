package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ato-project/ato/pkg/engine"
)

// Mapping CSV columns. Names match case-insensitively.
const (
	ColumnMainComponentID   = "mainComponentId"
	ColumnMainComponentName = "mainComponentName"
	ColumnTestComponentID   = "testComponentId"
	ColumnTestComponentName = "testComponentName"
	ColumnIsDeployed        = "isDeployed"
	ColumnIsPackage         = "isPackage"
)

// SkippedRow is a CSV row that could not be turned into a mapping.
type SkippedRow struct {
	// Line is the 1-based line number in the file, header included.
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// MappingImport is the outcome of parsing a mapping CSV.
type MappingImport struct {
	Mappings []*engine.Mapping `json:"mappings"`
	Skipped  []SkippedRow      `json:"skipped,omitempty"`

	// Lines holds the file line of each entry of Mappings.
	Lines []int `json:"-"`
}

// ParseMappingsCSV reads mappings from r. The header must name the
// mainComponentId and testComponentId columns; the name and flag columns are
// optional. Rows missing an id or carrying an unparseable flag are skipped
// and reported; they do not fail the import.
func ParseMappingsCSV(r io.Reader) (*MappingImport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, engine.NewValidationError("mapping CSV is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		cols[name] = i
	}
	for _, required := range []string{ColumnMainComponentID, ColumnTestComponentID} {
		if _, ok := cols[strings.ToLower(required)]; !ok {
			return nil, engine.NewValidationError(fmt.Sprintf("mapping CSV has no %s column", required))
		}
	}

	field := func(record []string, name string) string {
		i, ok := cols[strings.ToLower(name)]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	out := &MappingImport{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				out.Skipped = append(out.Skipped, SkippedRow{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("failed to read mapping CSV: %w", err)
		}
		if isBlank(record) {
			continue
		}
		line, _ := cr.FieldPos(0)

		m := &engine.Mapping{
			MainComponentID:   field(record, ColumnMainComponentID),
			MainComponentName: field(record, ColumnMainComponentName),
			TestComponentID:   field(record, ColumnTestComponentID),
			TestComponentName: field(record, ColumnTestComponentName),
		}

		switch {
		case m.MainComponentID == "" && m.TestComponentID == "":
			out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: "missing mainComponentId and testComponentId"})
			continue
		case m.MainComponentID == "":
			out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: "missing mainComponentId"})
			continue
		case m.TestComponentID == "":
			out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: "missing testComponentId"})
			continue
		}

		var flagErr error
		if m.IsDeployed, flagErr = parseFlag(field(record, ColumnIsDeployed)); flagErr != nil {
			out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: fmt.Sprintf("invalid isDeployed: %v", flagErr)})
			continue
		}
		if m.IsPackage, flagErr = parseFlag(field(record, ColumnIsPackage)); flagErr != nil {
			out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: fmt.Sprintf("invalid isPackage: %v", flagErr)})
			continue
		}

		out.Mappings = append(out.Mappings, m)
		out.Lines = append(out.Lines, line)
	}

	return out, nil
}

// parseFlag treats an empty cell as false and accepts yes/no besides the
// strconv boolean forms.
func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "":
		return false, nil
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean", v)
	}
	return b, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
