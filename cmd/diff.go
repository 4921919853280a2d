package cmd

import (
	"flag"
	"fmt"

	"grimm.is/palisade/internal/config"
)

// RunDiff compares the stored rule set against the live owned chains and
// prints a unified diff. It never mutates the firewall; a detected drift
// is reported through the exit code.
func RunDiff(args []string) error {
	flags := flag.NewFlagSet("diff", flag.ExitOnError)
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

	report, err := d.engine.Drift()
	if err != nil {
		return err
	}

	if report.InSync {
		fmt.Printf("No drift detected (%d chains checked).\n", report.Checked)
		return nil
	}

	for _, chain := range report.Missing {
		fmt.Printf("missing chain: %s\n", chain)
	}
	fmt.Print(report.Diff)
	return fmt.Errorf("stored rules differ from live chains")
}
