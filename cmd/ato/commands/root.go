package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/config"
	"github.com/ato-project/ato/pkg/report"
	"github.com/ato-project/ato/pkg/service"
	"github.com/ato-project/ato/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	profile    string
	verbose    bool
	jsonOutput bool
	noColor    bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit status. Failed tests exit
// with 2 so that CI can tell them apart from usage and platform errors.
func ExitCode(err error) int {
	var failed *TestsFailedError
	if errors.As(err, &failed) {
		return 2
	}
	return 1
}

// TestsFailedError reports a batch that finished with failed tests.
type TestsFailedError struct {
	PlanID string
	Failed int
	Total  int
}

func (e *TestsFailedError) Error() string {
	return fmt.Sprintf("%d of %d tests failed in plan %s", e.Failed, e.Total, e.PlanID)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ato",
		Short: "ato - Automated Test Orchestrator",
		Long: `ato discovers the dependency graph of an integration platform component,
maps the discovered components to their test processes and runs those tests
on the platform, polling each job to completion and recording the results.

Features:
  - Recursive dependency discovery with cycle handling
  - Bounded concurrent test execution with retries and backoff
  - Test selection by id, glob pattern or Starlark predicate
  - Execution policies in Rego
  - Result export as JSON, CSV or JUnit XML
  - HTTP API with Prometheus metrics`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $ATO_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "credential profile (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(newDiscoverCommand())
	rootCmd.AddCommand(newPlansCommand())
	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newResultsCommand())
	rootCmd.AddCommand(newMappingsCommand())
	rootCmd.AddCommand(newCredsCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// loadConfig loads the configuration selected by --config or ATO_CONFIG.
func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, path, nil
}

// session is an opened service with its telemetry.
type session struct {
	cfg *config.Config
	svc *service.Service
	tel *telemetry.Telemetry
}

func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.svc.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to close service")
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// openSession loads configuration and opens the service for one command.
func openSession(ctx context.Context, opts service.BootstrapOptions) (*session, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openSessionWith(ctx, cfg, opts)
}

func openSessionWith(ctx context.Context, cfg *config.Config, opts service.BootstrapOptions) (*session, error) {
	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	opts.Telemetry = tel
	svc, err := service.Open(tel.WithContext(ctx), cfg, opts)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}
	return &session{cfg: cfg, svc: svc, tel: tel}, nil
}

func colorEnabled(out io.Writer) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func newPrinter(cmd *cobra.Command) *report.Printer {
	return report.NewPrinter(cmd.OutOrStdout(), colorEnabled(cmd.OutOrStdout()))
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withSpinner runs fn behind a progress spinner on stderr. The spinner is
// skipped for JSON output and when stderr is not a terminal.
func withSpinner(cmd *cobra.Command, message string, fn func() error) error {
	errOut := cmd.ErrOrStderr()
	f, ok := errOut.(*os.File)
	if jsonOutput || !ok || !isatty.IsTerminal(f.Fd()) {
		return fn()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(errOut))
	s.Suffix = " " + message
	s.Start()
	err := fn()
	s.Stop()
	return err
}
