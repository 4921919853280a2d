package cmd

import (
	"flag"
	"fmt"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/config"
	"grimm.is/palisade/internal/iptables"
)

// RunSave persists the live tables so they survive a reboot, through the
// configured save script or an iptables-save dump.
func RunSave(args []string) error {
	flags := flag.NewFlagSet("save", flag.ExitOnError)
	configFile := flags.String("config", config.PathFromEnv(), "Configuration file")
	flags.StringVar(configFile, "c", config.PathFromEnv(), "Configuration file (short)")
	flags.Parse(args)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	d, err := buildDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.engine.Save(audit.ActorCLI); err != nil {
		return err
	}

	if cfg.SaveScript != "" {
		fmt.Printf("Rules saved via %s\n", cfg.SaveScript)
	} else {
		path := cfg.SavePath
		if path == "" {
			path = iptables.DefaultSavePath
		}
		fmt.Printf("Rules saved to %s\n", path)
	}
	return nil
}
