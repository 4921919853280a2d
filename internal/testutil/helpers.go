package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test unless the PALISADE_VM_TEST environment
// variable is set. Tests that drive the real iptables binary mutate
// kernel state and only run inside a disposable test VM.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("PALISADE_VM_TEST") == "" {
		t.Skip("Skipping test: requires PALISADE_VM_TEST environment")
	}
}
