package cmd

import (
	"flag"
	"fmt"

	"grimm.is/palisade/internal/config"
)

// RunInit writes a commented starter config. It refuses to overwrite an
// existing file.
func RunInit(args []string) error {
	flags := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := flags.String("config", config.DefaultConfigPath, "Where to write the config file")
	flags.StringVar(configFile, "c", config.DefaultConfigPath, "Where to write the config file (short)")
	flags.Parse(args)

	if err := config.WriteDefault(*configFile); err != nil {
		return err
	}
	fmt.Printf("Wrote starter config to %s\n", *configFile)
	return nil
}
