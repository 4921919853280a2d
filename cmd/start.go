package cmd

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/palisade/internal/api"
	"grimm.is/palisade/internal/config"
	"grimm.is/palisade/internal/engine"
	"grimm.is/palisade/internal/extension"
	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/notification"
	"grimm.is/palisade/internal/scheduler"
)

const shutdownGrace = 10 * time.Second

// RunStart runs the daemon in the foreground: it prepares the owned
// chains, registers extension chains, replays the stored rule set and then
// serves the HTTP API until SIGINT or SIGTERM.
func RunStart(args []string) error {
	flags := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := flags.String("config", config.PathFromEnv(), "Configuration file")
	flags.StringVar(configFile, "c", config.PathFromEnv(), "Configuration file (short)")
	listen := flags.String("listen", "", "Override the configured listen address")
	mock := flags.Bool("mock", false, "Log iptables invocations instead of executing them")
	flags.Parse(args)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *mock {
		cfg.MockMode = true
	}

	log := newLogger(cfg)
	log.Info("palisade starting", "version", Version, "config", *configFile, "mock", cfg.MockMode)

	d, err := buildDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.engine.Bootstrap(); err != nil {
		return err
	}

	registry := extension.NewRegistry(d.engine, cfg.ExtensionDir, log.WithComponent("extension"))
	if err := registry.Sync(engine.ActorStartup); err != nil {
		log.Error("extension sync failed", "dir", cfg.ExtensionDir, "error", err)
	}

	// Replay stored rules. A failed first apply leaves the daemon up and
	// reporting unhealthy; an operator can fix the rules over the API.
	if result, err := d.engine.Apply(engine.ActorStartup, "startup"); err != nil {
		log.Error("startup apply failed", "error", err)
	} else if !result.OK {
		log.Warn("startup apply left failures", "failed", result.Failed, "rules", result.RuleCount)
	}

	sched := newMaintenance(d, cfg, log)
	sched.Start()
	defer sched.Stop()

	if cfg.AlertWebhook != "" {
		disp := notification.NewDispatcher(cfg.AlertWebhook, cfg.AlertMinLevel, log.WithComponent("notification"))
		watcher := notification.NewWatcher(d.engine.Events(), disp)
		watcher.Start()
		defer watcher.Stop()
		log.Info("alert webhook enabled", "url", cfg.AlertWebhook, "min_level", disp.MinLevel())
	}

	srv := api.NewServer(api.Options{
		Engine: d.engine,
		Audit:  d.audit,
		Logger: log.WithComponent("api"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Listen)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
	log.Info("palisade stopped")
	return nil
}

// newMaintenance assembles the daemon's background tasks: the nightly
// audit prune, plus drift detection when an interval is configured.
func newMaintenance(d *daemon, cfg *config.Config, log *logging.Logger) *scheduler.Scheduler {
	sched := scheduler.New(log.WithComponent("scheduler"), nil)

	sched.AddTask(scheduler.NewAuditPruneTask(func(ctx context.Context) error {
		pruned, err := d.audit.Prune()
		if err != nil {
			return err
		}
		if pruned > 0 {
			log.Info("pruned audit history", "entries", pruned)
		}
		return nil
	}))

	if cfg.DriftCheckInterval > 0 {
		interval := time.Duration(cfg.DriftCheckInterval) * time.Second
		sched.AddTask(scheduler.NewDriftCheckTask(func(ctx context.Context) error {
			return d.engine.CheckDrift()
		}, interval))
	}

	return sched
}
