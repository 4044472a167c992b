package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and compile execution policies",
		Long: `Validate loads the configuration the other commands would use, checks it
against its schema and compiles the built-in and configured Rego policies.
Nothing is written and the platform is not contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(out, "Configuration %s is valid\n", path)

			if !cfg.Policy.Enabled {
				fmt.Fprintln(out, "Policies are disabled")
				return nil
			}

			pe, err := policy.NewEngine(log.Logger,
				policy.WithBuiltins(cfg.Policy.Builtins),
				policy.WithEnvironment(cfg.Telemetry.Environment),
			)
			if err != nil {
				return fmt.Errorf("failed to create policy engine: %w", err)
			}
			defer pe.Close()

			if cfg.Policy.Directory != "" {
				if err := pe.LoadPolicies(ctx, []string{cfg.Policy.Directory}); err != nil {
					return fmt.Errorf("failed to load policies: %w", err)
				}
			}

			policies := pe.ListPolicies()
			if jsonOutput {
				return printJSON(cmd, policies)
			}
			for _, p := range policies {
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				origin := "file"
				if p.Builtin {
					origin = "builtin"
				}
				fmt.Fprintf(out, "  %-32s %-8s %-8s %s\n", p.Name, origin, state, p.Severity)
			}
			fmt.Fprintf(out, "%d policies compiled\n", len(policies))
			return nil
		},
	}
}
