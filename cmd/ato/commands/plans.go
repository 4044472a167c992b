package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/service"
)

func newPlansCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plans",
		Aliases: []string{"plan"},
		Short:   "List, inspect and delete test plans",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List test plans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			plans, err := sess.svc.ListPlans(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, plans)
			}
			newPrinter(cmd).Plans(plans)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan with its components, tests and latest results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			details, err := sess.svc.GetPlanDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, details)
			}
			newPrinter(cmd).PlanDetails(details)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <plan-id>",
		Short: "Delete a plan with its components and results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.svc.DeletePlan(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted plan %s\n", args[0])
			return nil
		},
	})

	return cmd
}
