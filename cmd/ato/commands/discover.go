package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/service"
)

func newDiscoverCommand() *cobra.Command {
	var (
		name   string
		noDeps bool
	)

	cmd := &cobra.Command{
		Use:   "discover <root-component-id>",
		Short: "Discover the dependency graph of a component",
		Long: `Discover walks the dependency graph of a root component on the platform and
records every distinct component as a new test plan.

Dependencies that no longer exist on the platform are recorded as placeholders
so that the rest of the graph is still available for testing. Once discovery
completes the plan waits for a selection; run it with 'ato execute'.`,
		Example: `  # Discover a process and all of its dependencies
  ato discover 2f1c3e7a-0b4d-4c8e-9d2f-6a5b4c3d2e1f --name nightly

  # Record the root component only
  ato discover 2f1c3e7a-0b4d-4c8e-9d2f-6a5b4c3d2e1f --no-deps

  # Use a specific credential profile
  ato discover 2f1c3e7a-0b4d-4c8e-9d2f-6a5b4c3d2e1f --profile prod`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, service.BootstrapOptions{PersistEvents: true})
			if err != nil {
				return err
			}
			defer sess.Close()

			log.Debug().Str("root_component_id", args[0]).Bool("dependencies", !noDeps).Msg("Starting discovery")

			var plan *engine.TestPlan
			err = withSpinner(cmd, fmt.Sprintf("Discovering dependencies of %s...", args[0]), func() error {
				var derr error
				plan, derr = sess.svc.InitiateDiscovery(ctx, engine.DiscoverRequest{
					RootComponentID:      args[0],
					Name:                 name,
					Profile:              profile,
					DiscoverDependencies: !noDeps,
				})
				return derr
			})
			if err != nil {
				if plan != nil {
					log.Error().Str("plan_id", plan.ID).Str("reason", plan.FailureReason).Msg("Discovery failed")
				}
				return err
			}

			details, err := sess.svc.GetPlanDetails(ctx, plan.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, details)
			}
			newPrinter(cmd).PlanDetails(details)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "plan name")
	cmd.Flags().BoolVar(&noDeps, "no-deps", false, "record the root component only")

	return cmd
}
