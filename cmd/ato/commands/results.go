package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/report"
	"github.com/ato-project/ato/pkg/service"
)

func newResultsCommand() *cobra.Command {
	var (
		filter     engine.ResultFilter
		status     string
		exportAs   string
		outputFile string
		showCases  bool
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Query and export test execution results",
		Long: `Results lists recorded test execution results, oldest first. Filters combine.

With --export the results are written as JSON, CSV (one row per test case) or
JUnit XML (one suite per result) instead of a table.`,
		Example: `  # Failed results of one plan
  ato results --plan 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20 --status FAILURE

  # JUnit report for CI
  ato results --plan 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20 --export junit --output report.xml

  # Every run of one test, with its test cases
  ato results --test t-orders --cases`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var format report.Format
			if exportAs != "" {
				f, err := report.ParseFormat(exportAs)
				if err != nil {
					return err
				}
				format = f
			}

			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			filter.Status = engine.ResultStatus(strings.ToUpper(status))
			results, err := sess.svc.GetResults(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if format != "" {
				return exportResults(cmd, format, outputFile, results)
			}
			if jsonOutput {
				return printJSON(cmd, results)
			}

			printer := newPrinter(cmd)
			printer.Results(results)
			if showCases {
				for _, r := range results {
					printer.TestCases(r)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.PlanID, "plan", "", "filter by plan id")
	cmd.Flags().StringVar(&filter.PlanComponentID, "plan-component", "", "filter by plan component id")
	cmd.Flags().StringVar(&filter.ComponentID, "component", "", "filter by component id")
	cmd.Flags().StringVar(&filter.TestComponentID, "test", "", "filter by test component id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (success, failure)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of results (0 for all)")
	cmd.Flags().StringVarP(&exportAs, "export", "e", "", "export format (json, csv, junit)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "export file (default stdout)")
	cmd.Flags().BoolVar(&showCases, "cases", false, "print the test case report of each result")

	return cmd
}

func exportResults(cmd *cobra.Command, format report.Format, path string, results []*engine.TestExecutionResult) error {
	var w io.Writer = cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := report.Export(w, format, results); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}
	if path != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d results to %s\n", len(results), path)
	}
	return nil
}
