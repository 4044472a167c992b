package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/service"
)

// EnvPlatformPassword supplies the password to 'creds add' without a flag.
const EnvPlatformPassword = "ATO_PLATFORM_PASSWORD"

func newCredsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "creds",
		Aliases: []string{"credentials"},
		Short:   "Manage platform credential profiles",
		Long: `Credential profiles hold the account, user and secret used to reach the
platform. Secrets are sealed with the passphrase from the configuration and
are never printed.`,
	}

	cmd.AddCommand(newCredsAddCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List credential profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			profiles, err := sess.svc.ListCredentials(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, profiles)
			}
			newPrinter(cmd).Profiles(profiles)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <profile>",
		Short: "Delete a credential profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.svc.DeleteCredentials(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func newCredsAddCommand() *cobra.Command {
	var (
		creds         engine.Credentials
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "add <profile>",
		Short: "Create or replace a credential profile",
		Example: `  # Password from the environment
  ATO_PLATFORM_PASSWORD=... ato creds add dev --account acme-1A2B3C --username ci@acme.test --instance atom-1

  # Password from stdin
  pass show boomi/ci | ato creds add prod --account acme-1A2B3C --username ci@acme.test --password-stdin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password from stdin: %w", err)
				}
				creds.Password = strings.TrimRight(line, "\r\n")
			} else if creds.Password == "" {
				creds.Password = os.Getenv(EnvPlatformPassword)
			}

			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.svc.AddCredentials(cmd.Context(), args[0], creds); err != nil {
				return err
			}
			p, err := sess.svc.GetCredentials(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %s (%s account %s)\n", p.Name, p.Provider, p.AccountID)
			return nil
		},
	}

	cmd.Flags().StringVar(&creds.Provider, "provider", "boomi", "platform provider")
	cmd.Flags().StringVar(&creds.AccountID, "account", "", "platform account id")
	cmd.Flags().StringVar(&creds.Username, "username", "", "platform user name")
	cmd.Flags().StringVar(&creds.Password, "password", "", "platform password or token (prefer $"+EnvPlatformPassword+")")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().StringVar(&creds.ExecutionInstanceID, "instance", "", "default execution instance id")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
