package cmd

import (
	"flag"
	"fmt"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/config"
	"grimm.is/palisade/internal/extension"
)

// RunApply reconciles the stored rule set onto the live firewall once and
// exits. Extension chains declared by installed manifests are registered
// first so their jumps survive a reboot.
func RunApply(args []string) error {
	flags := flag.NewFlagSet("apply", flag.ExitOnError)
	configFile := flags.String("config", config.PathFromEnv(), "Configuration file")
	flags.StringVar(configFile, "c", config.PathFromEnv(), "Configuration file (short)")
	mock := flags.Bool("mock", false, "Log iptables invocations instead of executing them")
	flags.Parse(args)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *mock {
		cfg.MockMode = true
	}
	log := newLogger(cfg)

	d, err := buildDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.engine.Bootstrap(); err != nil {
		return err
	}
	registry := extension.NewRegistry(d.engine, cfg.ExtensionDir, log.WithComponent("extension"))
	if err := registry.Sync(audit.ActorCLI); err != nil {
		log.Error("extension sync failed", "dir", cfg.ExtensionDir, "error", err)
	}

	result, err := d.engine.Apply(audit.ActorCLI, "manual")
	if err != nil {
		return err
	}

	fmt.Printf("Applied %d rules in %dms\n", result.RuleCount-result.Failed, result.DurationMs)
	if result.Skipped > 0 {
		fmt.Printf("Skipped %d rules targeting unmanaged chains\n", result.Skipped)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d rules failed to apply", result.Failed)
	}
	return nil
}
