package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"grimm.is/palisade/internal/config"
)

// RunCheck validates a configuration file and prints the effective
// settings. Unlike the other subcommands it does not fall back to
// defaults: a missing file is the problem being checked for.
func RunCheck(configFile string, verbose bool) error {
	if configFile == "" {
		return fmt.Errorf("usage: palisade check [-v] <config-file>")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid.")
	fmt.Printf("Listen: %s\n", cfg.Listen)
	fmt.Printf("Database: %s\n", cfg.Database())
	if cfg.MockMode {
		fmt.Println("Mock mode: on (iptables will not be executed)")
	}

	if verbose {
		fmt.Println()
		printEffective(cfg)
	}
	return nil
}

func printEffective(cfg *config.Config) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SETTING\tVALUE")
	fmt.Fprintf(w, "listen\t%s\n", cfg.Listen)
	fmt.Fprintf(w, "data_dir\t%s\n", cfg.DataDir)
	fmt.Fprintf(w, "database\t%s\n", cfg.Database())
	fmt.Fprintf(w, "extension_dir\t%s\n", cfg.ExtensionDir)
	fmt.Fprintf(w, "mock_mode\t%t\n", cfg.MockMode)
	fmt.Fprintf(w, "log_level\t%s\n", cfg.LogLevel)
	fmt.Fprintf(w, "log_json\t%t\n", cfg.LogJSON)
	fmt.Fprintf(w, "save_path\t%s\n", cfg.SavePath)
	fmt.Fprintf(w, "save_script\t%s\n", cfg.SaveScript)
	fmt.Fprintf(w, "iptables_path\t%s\n", cfg.IPTablesPath)
	fmt.Fprintf(w, "command_timeout\t%ds\n", cfg.CommandTimeout)
	fmt.Fprintf(w, "audit_retention_days\t%d\n", cfg.AuditRetentionDays)
	if cfg.DriftCheckInterval > 0 {
		fmt.Fprintf(w, "drift_check_interval\t%ds\n", cfg.DriftCheckInterval)
	} else {
		fmt.Fprintf(w, "drift_check_interval\tdisabled\n")
	}
	if cfg.AlertWebhook != "" {
		fmt.Fprintf(w, "alert_webhook\t%s\n", cfg.AlertWebhook)
	}
	w.Flush()
}
