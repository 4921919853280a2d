package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"grimm.is/palisade/cmd"
)

func main() {
	// A .env alongside the binary is optional; missing files are the
	// normal case.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		if err := cmd.RunStart(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "apply":
		if err := cmd.RunApply(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Apply failed: %v\n", err)
			os.Exit(1)
		}

	case "diff":
		if err := cmd.RunDiff(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "save":
		if err := cmd.RunSave(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Save failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := ""
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "init":
		if err := cmd.RunInit(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		cmd.RunVersion()

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`palisade - host packet-filter policy manager

Usage:
  palisade <command> [options]

Commands:
  start     Run the daemon and serve the HTTP API
            Options: --config (-c) <file>, --listen <addr>, --mock
  apply     Reconcile stored rules onto the firewall once
            Options: --config (-c) <file>, --mock
  diff      Show drift between stored rules and live chains
            Options: --config (-c) <file>
  save      Persist the live tables for reboot
            Options: --config (-c) <file>
  check     Validate a configuration file
            Options: --verbose (-v)
  init      Write a commented starter config
            Options: --config (-c) <path>
  version   Print version information

Examples:
  palisade init -c /etc/palisade/palisade.hcl
  palisade start --mock
  palisade check -v /etc/palisade/palisade.hcl
  palisade diff
`)
}
