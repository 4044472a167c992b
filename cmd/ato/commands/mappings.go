package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/service"
)

func newMappingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mappings",
		Aliases: []string{"mapping"},
		Short:   "Manage main component to test component mappings",
	}

	cmd.AddCommand(newMappingsListCommand())
	cmd.AddCommand(newMappingsAddCommand())
	cmd.AddCommand(newMappingsUpdateCommand())
	cmd.AddCommand(newMappingsDeleteCommand())
	cmd.AddCommand(newMappingsImportCommand())

	return cmd
}

func newMappingsListCommand() *cobra.Command {
	var filter engine.MappingFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			mappings, err := sess.svc.ListMappings(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, mappings)
			}
			newPrinter(cmd).Mappings(mappings)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.MainComponentID, "main", "", "filter by main component id")
	cmd.Flags().StringVar(&filter.TestComponentID, "test", "", "filter by test component id")
	return cmd
}

func newMappingsAddCommand() *cobra.Command {
	var m engine.Mapping

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Map a main component to a test component",
		Example: `  ato mappings add --main c-orders --test t-orders --test-name "Orders suite" --deployed`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			created, err := sess.svc.CreateMapping(cmd.Context(), &m)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, created)
			}
			newPrinter(cmd).Mappings([]*engine.Mapping{created})
			return nil
		},
	}

	cmd.Flags().StringVar(&m.MainComponentID, "main", "", "main component id")
	cmd.Flags().StringVar(&m.MainComponentName, "main-name", "", "main component name")
	cmd.Flags().StringVar(&m.TestComponentID, "test", "", "test component id")
	cmd.Flags().StringVar(&m.TestComponentName, "test-name", "", "test component name")
	cmd.Flags().BoolVar(&m.IsDeployed, "deployed", false, "the test component is deployed")
	cmd.Flags().BoolVar(&m.IsPackage, "package", false, "the test component is packaged")
	_ = cmd.MarkFlagRequired("main")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}

func newMappingsUpdateCommand() *cobra.Command {
	var (
		mainName, testName string
		deployed, pkg      bool
	)

	cmd := &cobra.Command{
		Use:   "update <mapping-id>",
		Short: "Change the names or flags of a mapping",
		Long: `Update changes the names and flags of a mapping. Only the flags given are
changed; the component ids of a mapping are fixed.`,
		Example: `  ato mappings update 3f2a... --deployed=false`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var update service.MappingUpdate
			flags := cmd.Flags()
			if flags.Changed("main-name") {
				update.MainComponentName = &mainName
			}
			if flags.Changed("test-name") {
				update.TestComponentName = &testName
			}
			if flags.Changed("deployed") {
				update.IsDeployed = &deployed
			}
			if flags.Changed("package") {
				update.IsPackage = &pkg
			}

			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			updated, err := sess.svc.UpdateMapping(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, updated)
			}
			newPrinter(cmd).Mappings([]*engine.Mapping{updated})
			return nil
		},
	}

	cmd.Flags().StringVar(&mainName, "main-name", "", "main component name")
	cmd.Flags().StringVar(&testName, "test-name", "", "test component name")
	cmd.Flags().BoolVar(&deployed, "deployed", false, "the test component is deployed")
	cmd.Flags().BoolVar(&pkg, "package", false, "the test component is packaged")
	return cmd
}

func newMappingsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <mapping-id>",
		Short: "Delete a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.svc.DeleteMapping(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted mapping %s\n", args[0])
			return nil
		},
	}
}

func newMappingsImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import mappings from a CSV file",
		Long: `Import creates a mapping for every row of a CSV file. The header must name
the mainComponentId and testComponentId columns; mainComponentName,
testComponentName, isDeployed and isPackage are optional.

Rows that already exist are reported as duplicates. Rows missing an id or
carrying an invalid flag are skipped and listed with their line number.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open mapping file: %w", err)
			}
			defer f.Close()

			sess, err := openSession(cmd.Context(), service.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			rep, err := sess.svc.ImportMappings(cmd.Context(), f)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, rep)
			}

			printer := newPrinter(cmd)
			if len(rep.Created) > 0 {
				printer.Mappings(rep.Created)
			}
			printer.SkippedRows(rep.Skipped)
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d, duplicates %d, skipped %d\n",
				len(rep.Created), len(rep.Duplicates), len(rep.Skipped))
			return nil
		},
	}
}
