//go:build linux
// +build linux

package iptables

import (
	"context"
	"fmt"
	"os/exec"
)

func (r *RealCommandRunner) commandContext() (context.Context, context.CancelFunc) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Run executes a command without capturing output.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	ctx, cancel := r.commandContext()
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("command %s timed out: %w", name, ErrTimeout)
		}
		return fmt.Errorf("command %s failed: %w: %s", name, err, string(out))
	}
	return nil
}

// Output executes a command and returns its standard output.
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	ctx, cancel := r.commandContext()
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command %s timed out: %w", name, ErrTimeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("command %s failed: %w: %s", name, err, string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("command %s failed: %w", name, err)
	}
	return out, nil
}
