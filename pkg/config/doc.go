// Package config loads the runtime configuration of ato.
//
// A configuration is built in three layers: DefaultConfig, an optional file,
// and environment overrides. Files may be YAML (.yaml, .yml), JSON, or CUE
// (.cue). CUE documents are unified with the embedded #Config definition
// before they are decoded, so constraint violations and unknown fields are
// reported with their source position. The final struct is checked with
// go-playground/validator.
//
// # Environment
//
// The PLATFORM_* variables tune execution and keep their historical names:
//
//	PLATFORM_POLL_INTERVAL      poll interval in milliseconds (2000)
//	PLATFORM_MAX_POLLS          polls before a job times out (180)
//	PLATFORM_MAX_RETRIES        total submission attempts (5)
//	PLATFORM_INITIAL_DELAY      first backoff delay in milliseconds (1000)
//	PLATFORM_CONCURRENCY_LIMIT  jobs holding a platform slot at once (5)
//
// ATO_DATABASE_PATH, ATO_CREDENTIALS_PASSPHRASE, ATO_PROFILE,
// ATO_SERVER_ADDRESS, ATO_POLICY_DIR, PLATFORM_BASE_URL and LOG_LEVEL override
// the matching fields. ATO_CONFIG names the file when no path is given.
//
// # Reloading
//
// Watcher observes the configuration file with fsnotify and passes each
// successfully reloaded Config to its subscribers. The HTTP server uses it to
// retune the orchestrator without a restart:
//
//	w := config.NewWatcher(path, cfg, logger)
//	w.Subscribe(func(c *config.Config) {
//		orchestrator.UpdateConfig(c.ExecutionConfig())
//	})
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
package config
