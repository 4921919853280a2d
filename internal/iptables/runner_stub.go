//go:build !linux
// +build !linux

package iptables

import (
	"fmt"
	"runtime"
)

// ErrNotSupported is returned when packet-filter operations are attempted on
// non-Linux systems. Use mock mode or a test runner there.
var ErrNotSupported = fmt.Errorf("iptables operations not supported on %s", runtime.GOOS)

// Run always fails on non-Linux systems.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	return ErrNotSupported
}

// Output always fails on non-Linux systems.
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return nil, ErrNotSupported
}
