package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ato-project/ato/pkg/credentials"
	"github.com/ato-project/ato/pkg/engine"
)

const timeLayout = "2006-01-02 15:04:05"

// Printer renders ato entities as terminal tables.
type Printer struct {
	out    io.Writer
	styles Styles
}

// NewPrinter creates a printer writing to out. color enables status badges
// with ANSI colours and the rounded table style.
func NewPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, styles: NewStyles(color)}
}

// Styles returns the printer's badge styles.
func (p *Printer) Styles() Styles {
	return p.styles
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	if p.styles.color {
		t.SetStyle(table.StyleRounded)
	} else {
		t.SetStyle(table.StyleLight)
	}
	return t
}

func (p *Printer) empty(message string) {
	fmt.Fprintln(p.out, p.styles.Warning(message))
}

// Plans prints a plan summary table.
func (p *Printer) Plans(plans []*engine.TestPlan) {
	if len(plans) == 0 {
		p.empty("No test plans found.")
		return
	}

	t := p.newTable()
	t.AppendHeader(table.Row{"Plan ID", "Name", "Root Component", "Status", "Updated"})
	for _, plan := range plans {
		status := p.styles.Status(string(plan.Status))
		if plan.FailureReason != "" {
			status += " " + p.styles.Muted(truncate(plan.FailureReason, 40))
		}
		t.AppendRow(table.Row{plan.ID, dash(plan.Name), plan.RootComponentID, status, formatTime(plan.UpdatedAt)})
	}
	t.Render()
}

// PlanDetails prints a plan header followed by its components, their tests
// and the latest result of each.
func (p *Printer) PlanDetails(d *engine.PlanDetails) {
	plan := d.Plan
	fmt.Fprintln(p.out, p.styles.Heading("Test Plan "+plan.ID))
	if plan.Name != "" {
		fmt.Fprintf(p.out, "  Name:           %s\n", plan.Name)
	}
	fmt.Fprintf(p.out, "  Root component: %s\n", plan.RootComponentID)
	fmt.Fprintf(p.out, "  Status:         %s\n", p.styles.Status(string(plan.Status)))
	if plan.FailureReason != "" {
		fmt.Fprintf(p.out, "  Reason:         %s\n", plan.FailureReason)
	}
	fmt.Fprintf(p.out, "  Created:        %s\n\n", formatTime(plan.CreatedAt))

	if len(d.Components) == 0 {
		p.empty("No components recorded for this plan.")
		return
	}

	t := p.newTable()
	t.AppendHeader(table.Row{"Plan Component", "Component", "Type", "Version", "Tests", "Last Result", "Executed"})
	for _, c := range d.Components {
		tests := make([]string, 0, len(c.Tests))
		for _, m := range c.Tests {
			tests = append(tests, firstNonEmpty(m.TestComponentName, m.TestComponentID))
		}
		testCell := p.styles.Muted("none")
		if len(tests) > 0 {
			testCell = strings.Join(tests, "\n")
		}

		lastStatus, executed := "", ""
		if latest := c.Latest(); latest != nil {
			lastStatus = string(latest.Status)
			executed = formatTime(latest.ExecutedAt)
		}

		t.AppendRow(table.Row{
			c.ID,
			fmt.Sprintf("%s\n%s", c.ComponentName, p.styles.Muted(c.ComponentID)),
			dash(c.ComponentType),
			version(c.Version),
			testCell,
			p.styles.Status(lastStatus),
			dash(executed),
		})
		t.AppendSeparator()
	}
	t.Render()
}

// Results prints a result table.
func (p *Printer) Results(results []*engine.TestExecutionResult) {
	if len(results) == 0 {
		p.empty("No test execution results found matching the specified criteria.")
		return
	}

	t := p.newTable()
	t.AppendHeader(table.Row{"Plan ID", "Component", "Test", "Status", "Cases", "Reason", "Executed"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Cases", Align: text.AlignRight},
		{Name: "Reason", WidthMax: 48},
	})
	for _, r := range results {
		t.AppendRow(table.Row{
			r.PlanID,
			firstNonEmpty(r.ComponentName, r.ComponentID),
			firstNonEmpty(r.TestComponentName, r.TestComponentID, "-"),
			p.styles.Status(string(r.Status)),
			caseCounts(r.TestCases),
			reason(r),
			formatTime(r.ExecutedAt),
		})
	}
	t.Render()
}

// TestCases prints the test case report of a single result.
func (p *Printer) TestCases(r *engine.TestExecutionResult) {
	if len(r.TestCases) == 0 {
		return
	}
	t := p.newTable()
	t.SetTitle(firstNonEmpty(r.TestComponentName, r.TestComponentID))
	t.AppendHeader(table.Row{"Case ID", "Description", "Status", "Details"})
	for _, c := range r.TestCases {
		t.AppendRow(table.Row{dash(c.TestCaseID), c.TestDescription, p.styles.Status(string(c.Status)), c.Details})
	}
	t.Render()
}

// Mappings prints a mapping table.
func (p *Printer) Mappings(mappings []*engine.Mapping) {
	if len(mappings) == 0 {
		p.empty("No mappings found.")
		return
	}

	t := p.newTable()
	t.AppendHeader(table.Row{"Mapping ID", "Main Component", "Test Component", "Deployed", "Package"})
	for _, m := range mappings {
		t.AppendRow(table.Row{
			m.ID,
			labelled(m.MainComponentName, m.MainComponentID),
			labelled(m.TestComponentName, m.TestComponentID),
			yesNo(m.IsDeployed),
			yesNo(m.IsPackage),
		})
	}
	t.Render()
}

// Profiles prints credential profiles. Secrets are never part of a profile.
func (p *Printer) Profiles(profiles []credentials.Profile) {
	if len(profiles) == 0 {
		p.empty("No credential profiles found.")
		return
	}

	t := p.newTable()
	t.AppendHeader(table.Row{"Profile", "Provider", "Account", "Username", "Execution Instance", "Updated"})
	for _, pr := range profiles {
		t.AppendRow(table.Row{pr.Name, pr.Provider, pr.AccountID, pr.Username, dash(pr.ExecutionInstanceID), formatTime(pr.UpdatedAt)})
	}
	t.Render()
}

// Summary prints the outcome of an execution batch.
func (p *Printer) Summary(s *engine.ExecutionSummary) {
	fmt.Fprintf(p.out, "%s  total %d  %s  %s  skipped %d  in %s\n",
		p.styles.Heading("Plan "+s.PlanID),
		s.Total,
		p.styles.Status("PASSED")+" "+strconv.Itoa(s.Succeeded),
		p.styles.Status("FAILED")+" "+strconv.Itoa(s.Failed),
		s.Skipped,
		s.Duration.Round(time.Millisecond),
	)
}

// SkippedRows prints the rows a mapping import skipped.
func (p *Printer) SkippedRows(rows []SkippedRow) {
	if len(rows) == 0 {
		return
	}
	t := p.newTable()
	t.SetTitle("Skipped rows")
	t.AppendHeader(table.Row{"Line", "Reason"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Line, r.Reason})
	}
	t.Render()
}

func caseCounts(cases []engine.TestCaseResult) string {
	if len(cases) == 0 {
		return "-"
	}
	passed := 0
	for _, c := range cases {
		if c.Status == engine.TestCasePassed {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d", passed, len(cases))
}

func reason(r *engine.TestExecutionResult) string {
	if r.Status == engine.ResultStatusSuccess {
		return ""
	}
	return truncate(processDetails(r), 120)
}

func labelled(name, id string) string {
	if name == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", name, id)
}

func version(v int) string {
	if v <= 0 {
		return "-"
	}
	return strconv.Itoa(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
