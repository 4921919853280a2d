// Package iptables is the single point of contact with the iptables binary.
// Every chain and rule mutation in palisade goes through the Adapter in this
// package, one isolated invocation at a time. Nothing here touches persisted
// state; callers above decide what should exist, this package makes it so.
package iptables

import "time"

// DefaultCommandTimeout bounds a single iptables invocation.
const DefaultCommandTimeout = 10 * time.Second

// CommandRunner abstracts shell command execution so tests can intercept
// every invocation.
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes actual shell commands with a per-command
// timeout. Methods are implemented in runner_linux.go and runner_stub.go.
type RealCommandRunner struct {
	Timeout time.Duration
}

// DefaultCommandRunner is the default command runner.
var DefaultCommandRunner CommandRunner = &RealCommandRunner{Timeout: DefaultCommandTimeout}
