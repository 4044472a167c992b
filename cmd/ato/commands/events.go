package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/service"
)

func newEventsCommand() *cobra.Command {
	var q service.EventQuery

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded engine events",
		Long: `Events lists the discovery, execution and job events persisted by earlier
runs, oldest first. Events are persisted by 'execute' and 'serve'.`,
		Example: `  ato events --plan 6d0a1f0e-5d4b-4b7e-a2a4-3c1f7d9e8b20 --type job.failed`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			events, err := sess.svc.ListEvents(cmd.Context(), q)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, events)
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No events recorded.")
				return nil
			}
			for _, e := range events {
				component := ""
				if e.ComponentID != nil {
					component = " [" + *e.ComponentID + "]"
				}
				fmt.Fprintf(out, "%s  %-7s %-22s%s %s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Level, e.Type, component, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&q.PlanID, "plan", "", "filter by plan id")
	cmd.Flags().StringVar(&q.Type, "type", "", "filter by event type")
	cmd.Flags().IntVar(&q.Limit, "limit", 100, "maximum number of events")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "number of events to skip")
	return cmd
}
