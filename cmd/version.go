package cmd

import "fmt"

// Set via -ldflags at release build time.
var (
	Version   = "0.9.0-dev"
	BuildTime = "unknown"
)

// RunVersion prints the version banner.
func RunVersion() {
	fmt.Printf("palisade version %s\n", Version)
	fmt.Printf("Build: %s\n", BuildTime)
}
