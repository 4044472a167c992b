package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/service"
	"github.com/ato-project/ato/pkg/telemetry"
)

func newExecuteCommand() *cobra.Command {
	var (
		match           []string
		scriptFile      string
		allMappings     bool
		includeUnmapped bool
		instanceID      string
		watch           bool
		watchLevel      string
		watchTypes      []string
		dryRun          bool
		showCases       bool
	)

	cmd := &cobra.Command{
		Use:     "execute <plan-id> [component-or-test-id...]",
		Aliases: []string{"run"},
		Short:   "Run the tests of a plan",
		Long: `Execute runs test processes for the components of a discovered plan and waits
for every job to finish.

Without a selection every mapped component of the plan runs its oldest
mapping. Arguments after the plan id select components by plan component id,
component id or test component id. --match and --script build a selection
from the plan; a component must pass both when both are given.

Match patterns are doublestar globs, optionally prefixed with a field:
name (default), type, id or test. A selection script is a Starlark file that
defines select(component) and returns a bool.

The command exits with status 2 when any test failed.`,
		Example: `  # Run every mapped component
  ato execute 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20

  # Run two components by id
  ato execute 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20 c-orders c-invoices

  # Run every test of the components whose name starts with Orders
  ato execute 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20 --match 'Orders*' --all-mappings

  # Preview what a script would select
  ato execute 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20 --script select.star --dry-run

  # Stream job progress while the batch runs
  ato execute 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20 --watch

  # Stream only retries and failures
  ato execute 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20 --watch --watch-level warning`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			req := service.ExecuteRequest{
				PlanID:              args[0],
				Selection:           args[1:],
				Match:               match,
				AllMappings:         allMappings,
				IncludeUnmapped:     includeUnmapped,
				Profile:             profile,
				ExecutionInstanceID: instanceID,
			}
			var filter telemetry.EventFilter
			if watch {
				f, err := watchFilter(req.PlanID, watchLevel, watchTypes)
				if err != nil {
					return err
				}
				filter = f
			}
			if scriptFile != "" {
				src, err := os.ReadFile(scriptFile)
				if err != nil {
					return fmt.Errorf("failed to read selection script: %w", err)
				}
				req.Script = string(src)
				req.ScriptName = filepath.Base(scriptFile)
			}

			sess, err := openSession(ctx, service.BootstrapOptions{PersistEvents: true})
			if err != nil {
				return err
			}
			defer sess.Close()

			if dryRun {
				ids, err := sess.svc.SelectComponents(ctx, req.PlanID, req)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, ids)
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			}

			if watch {
				stop := sess.tel.Events.Subscribe(printEvent, filter)
				defer stop()
			}

			started := time.Now().UTC().Truncate(time.Second)
			var summary *engine.ExecutionSummary
			run := func() error {
				var rerr error
				summary, rerr = sess.svc.ExecuteTests(ctx, req)
				return rerr
			}
			if watch {
				err = run()
			} else {
				err = withSpinner(cmd, fmt.Sprintf("Running tests of plan %s...", req.PlanID), run)
			}
			if err != nil {
				return err
			}

			results, err := batchResults(cmd, sess.svc, req.PlanID, started)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd, map[string]interface{}{"summary": summary, "results": results}); err != nil {
					return err
				}
			} else {
				printer := newPrinter(cmd)
				printer.Results(results)
				if showCases {
					for _, r := range results {
						printer.TestCases(r)
					}
				}
				printer.Summary(summary)
			}

			if summary.Failed > 0 {
				return &TestsFailedError{PlanID: summary.PlanID, Failed: summary.Failed, Total: summary.Total}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&match, "match", "m", nil, "select components matching a [field=]glob pattern (repeatable)")
	cmd.Flags().StringVar(&scriptFile, "script", "", "Starlark file defining select(component)")
	cmd.Flags().BoolVar(&allMappings, "all-mappings", false, "run every mapping of the matched components")
	cmd.Flags().BoolVar(&includeUnmapped, "include-unmapped", false, "let matchers select components without a mapping")
	cmd.Flags().StringVar(&instanceID, "instance", "", "execution instance id (default from the profile)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print job events as they happen")
	cmd.Flags().StringVar(&watchLevel, "watch-level", telemetry.EventLevelInfo, "lowest event level printed by --watch (info, warning, error)")
	cmd.Flags().StringSliceVar(&watchTypes, "watch-type", nil, "event types printed by --watch, e.g. job.failed (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the selection without running it")
	cmd.Flags().BoolVar(&showCases, "cases", false, "print the test case report of each result")

	return cmd
}

// batchResults returns the results recorded since started.
func batchResults(cmd *cobra.Command, svc *service.Service, planID string, started time.Time) ([]*engine.TestExecutionResult, error) {
	all, err := svc.GetResults(cmd.Context(), engine.ResultFilter{PlanID: planID})
	if err != nil {
		return nil, err
	}
	var out []*engine.TestExecutionResult
	for _, r := range all {
		if !r.ExecutedAt.Before(started) {
			out = append(out, r)
		}
	}
	return out, nil
}

// watchFilter selects the events of one plan printed by --watch.
func watchFilter(planID, level string, types []string) (telemetry.EventFilter, error) {
	switch level {
	case telemetry.EventLevelInfo, telemetry.EventLevelWarning, telemetry.EventLevelError:
	default:
		return nil, fmt.Errorf("unknown event level %q (want info, warning or error)", level)
	}

	filters := []telemetry.EventFilter{
		telemetry.FilterByPlanID(planID),
		telemetry.FilterByLevel(level),
	}
	if len(types) > 0 {
		eventTypes := make([]engine.EventType, 0, len(types))
		for _, t := range types {
			eventTypes = append(eventTypes, engine.EventType(strings.TrimSpace(t)))
		}
		filters = append(filters, telemetry.FilterByType(eventTypes...))
	}
	return telemetry.MatchAll(filters...), nil
}

func printEvent(e engine.Event) {
	entry := log.Info()
	switch e.Level {
	case telemetry.EventLevelError:
		entry = log.Error()
	case telemetry.EventLevelWarning:
		entry = log.Warn()
	}
	if e.ComponentID != "" {
		entry = entry.Str("component_id", e.ComponentID)
	}
	entry.Str("event", string(e.Type)).Msg(e.Message)
}
