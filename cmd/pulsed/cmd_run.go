package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/pulsekit/archive"
	"github.com/vinayprograms/pulsekit/config"
	"github.com/vinayprograms/pulsekit/daemon"
	"github.com/vinayprograms/pulsekit/event"
	"github.com/vinayprograms/pulsekit/llm"
	"github.com/vinayprograms/pulsekit/logging"
	"github.com/vinayprograms/pulsekit/ratelimit"
	"github.com/vinayprograms/pulsekit/responder"
	"github.com/vinayprograms/pulsekit/stream"
	"github.com/vinayprograms/pulsekit/webhook"
)

// newRunCmd creates the "pulsed run" subcommand.
func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "",
		"path to pulsekit.toml (built-in defaults plus env vars when omitted)")
	return cmd
}

// runDaemon builds the full daemon from configuration and blocks until
// shutdown.
func runDaemon(ctx context.Context, configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadWithDefaults()
	}
	if err != nil {
		return err
	}

	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	d, cleanup, err := buildDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if configPath != "" {
		w, werr := config.Watch(configPath, func(next *config.Config, rerr error) {
			if rerr != nil {
				log.Warn("config_reload_failed", map[string]any{"error": rerr.Error()})
				return
			}
			log.SetLevel(logging.ParseLevel(next.Logging.Level))
			log.Info("config_reloaded", map[string]any{"log_level": next.Logging.Level})
		})
		if werr != nil {
			log.Warn("config_watch_failed", map[string]any{"error": werr.Error()})
		} else {
			defer w.Close()
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	return d.Run(ctx)
}

// buildDaemon wires dispatcher, handlers and components from the config.
// The returned cleanup releases resources not owned by the daemon.
func buildDaemon(cfg *config.Config, log *logging.Logger) (*daemon.Daemon, func(), error) {
	dispatcher, err := event.NewDispatcher(event.Config{
		MaxHistory:     cfg.Dispatcher.MaxHistory,
		HandlerTimeout: cfg.Dispatcher.HandlerTimeout.Duration,
		Logger:         log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build dispatcher: %w", err)
	}

	d, err := daemon.New(daemon.Config{
		Dispatcher:           dispatcher,
		HeartbeatInterval:    cfg.Daemon.HeartbeatInterval.Duration,
		MaxComponentRestarts: cfg.Daemon.MaxComponentRestarts,
		RestartCooldown:      cfg.Daemon.RestartCooldown.Duration,
		Logger:               log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build daemon: %w", err)
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*daemon.Daemon, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if cfg.Archive.Enabled {
		store, err := archive.NewStore(archive.Config{MaxDocs: cfg.Archive.MaxDocs})
		if err != nil {
			return fail(fmt.Errorf("build archive: %w", err))
		}
		store.Attach(dispatcher)
		cleanups = append(cleanups, func() { store.Close() })
	}

	if cfg.Responder.Enabled {
		provider, err := llm.NewProvider(llm.Config{
			Provider:  cfg.Responder.Provider,
			Model:     cfg.Responder.Model,
			APIKey:    cfg.Responder.APIKey,
			MaxTokens: cfg.Responder.MaxTokens,
		})
		if err != nil {
			return fail(fmt.Errorf("build provider: %w", err))
		}
		limiter := ratelimit.NewMemoryLimiter()
		cleanups = append(cleanups, func() { limiter.Close() })

		r, err := responder.New(responder.Config{
			Provider:    provider,
			Limiter:     limiter,
			Persona:     cfg.Responder.Persona,
			MaxTokens:   cfg.Responder.MaxTokens,
			ReplyLimit:  cfg.Responder.ReplyLimit,
			ReplyWindow: cfg.Responder.ReplyWindow.Duration,
			Logger:      log,
		})
		if err != nil {
			return fail(fmt.Errorf("build responder: %w", err))
		}
		r.Attach(dispatcher)
	}

	if cfg.Stream.Enabled {
		listener, err := stream.NewListener(stream.Config{
			BearerToken:   cfg.Stream.BearerToken,
			Username:      cfg.Stream.Username,
			Dispatcher:    dispatcher,
			MaxReconnects: cfg.Stream.MaxReconnects,
			InitBackoff:   cfg.Stream.InitBackoff.Duration,
			MaxBackoff:    cfg.Stream.MaxBackoff.Duration,
			Logger:        log,
		})
		if err != nil {
			return fail(fmt.Errorf("build stream listener: %w", err))
		}
		if err := d.RegisterComponent("stream", listener); err != nil {
			return fail(err)
		}
	}

	if cfg.Webhook.Enabled {
		server, err := webhook.NewServer(webhook.Config{
			Addr:       cfg.Webhook.Addr,
			Secret:     cfg.Webhook.Secret,
			Dispatcher: dispatcher,
			Daemon:     d,
			Logger:     log,
		})
		if err != nil {
			return fail(fmt.Errorf("build webhook server: %w", err))
		}
		if err := d.RegisterComponent("webhook", server); err != nil {
			return fail(err)
		}
	}

	// Hourly operational summary in the logs.
	err = d.Schedule("stats_report", func(ctx context.Context) error {
		stats := dispatcher.Stats()
		log.Info("stats_report", map[string]any{
			"events_received":  stats.EventsReceived,
			"events_processed": stats.EventsProcessed,
			"events_failed":    stats.EventsFailed,
			"queue_size":       stats.QueueSize,
		})
		return nil
	}, time.Hour)
	if err != nil {
		return fail(fmt.Errorf("schedule stats report: %w", err))
	}

	return d, cleanup, nil
}
