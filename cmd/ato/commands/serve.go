package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ato-project/ato/pkg/api"
	"github.com/ato-project/ato/pkg/config"
	"github.com/ato-project/ato/pkg/service"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve exposes plans, mappings, results, events and credential profiles over
HTTP under /api/v1, with a health check at /healthz and Prometheus metrics
when enabled.

Executions started over HTTP run in the background and share one
concurrency limit. Changes to the config file update the execution settings
without a restart; policy files are reloaded when policy.watch is set.`,
		Example: `  ato serve --listen 127.0.0.1:8080`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddress = listen
			}

			sess, err := openSessionWith(ctx, cfg, service.BootstrapOptions{
				SharedGate:    true,
				WatchPolicies: true,
				PersistEvents: true,
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			if path != "" {
				watcher := config.NewWatcher(path, cfg, sess.tel.Logger.Zerolog())
				watcher.Subscribe(func(c *config.Config) {
					sess.svc.UpdateExecutionConfig(c.ExecutionConfig())
				})
				if err := watcher.Start(ctx); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("Config reload disabled")
				} else {
					defer watcher.Stop()
				}
			}

			server := api.NewServer(sess.svc, api.Options{
				Config:    cfg.Server,
				Telemetry: sess.tel,
			})
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	return cmd
}
