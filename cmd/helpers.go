// Package cmd implements the palisade subcommands. Each RunX function owns
// its flag set and returns an error for main to print; a non-nil error is
// the command's non-zero exit.
package cmd

import (
	"fmt"
	"os"
	"time"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/clock"
	"grimm.is/palisade/internal/config"
	"grimm.is/palisade/internal/engine"
	"grimm.is/palisade/internal/iptables"
	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/store"
)

// loadConfig reads the config file, falling back to built-in defaults when
// no file exists yet. Env overrides still apply to the fallback so a bare
// install can be steered without writing a file first.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return config.Load(path)
}

// newLogger builds the process logger from config and installs it as the
// package default so fallback loggers inherit the configured level.
func newLogger(cfg *config.Config) *logging.Logger {
	log := logging.New(logging.Config{
		Level: cfg.Level(),
		JSON:  cfg.LogJSON,
	})
	logging.SetDefault(log)
	return log
}

// daemon bundles everything a subcommand needs to drive the engine.
type daemon struct {
	cfg    *config.Config
	log    *logging.Logger
	store  *store.Store
	audit  *audit.Recorder
	engine *engine.Engine
}

// buildDaemon wires the store, command adapter, audit recorder and engine
// from config. Callers must Close it when done.
func buildDaemon(cfg *config.Config, log *logging.Logger) (*daemon, error) {
	st, err := store.New(cfg.Database(), log.WithComponent("store"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	runner := &iptables.RealCommandRunner{
		Timeout: time.Duration(cfg.CommandTimeout) * time.Second,
	}
	adapter := iptables.New(iptables.Options{
		Runner:     runner,
		Logger:     log.WithComponent("iptables"),
		Binary:     cfg.IPTablesPath,
		MockMode:   cfg.MockMode,
		SaveScript: cfg.SaveScript,
		SavePath:   cfg.SavePath,
	})

	clk := &clock.RealClock{}
	recorder, err := audit.NewRecorder(st.DB(), log.WithComponent("audit"), clk, cfg.AuditRetentionDays)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	eng := engine.New(engine.Options{
		Store:   st,
		Adapter: adapter,
		Audit:   recorder,
		Logger:  log.WithComponent("engine"),
		Clock:   clk,
	})
	return &daemon{cfg: cfg, log: log, store: st, audit: recorder, engine: eng}, nil
}

func (d *daemon) Close() {
	if err := d.store.Close(); err != nil {
		d.log.Error("closing store", "error", err)
	}
}
