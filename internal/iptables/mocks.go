package iptables

import (
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockCommandRunner is a mock implementation of CommandRunner for testing.
// Kept outside _test files so other packages can script adapter behavior.
type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) Run(name string, args ...string) error {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	result := m.Called(callArgs...)
	return result.Error(0)
}

func (m *MockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	result := m.Called(callArgs...)
	if result.Get(0) == nil {
		return nil, result.Error(1)
	}
	return result.Get(0).([]byte), result.Error(1)
}

// RecordingRunner accepts every command and remembers the invocations it
// saw. Useful when a test cares about the sequence of operations rather
// than scripted failures.
type RecordingRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *RecordingRunner) record(name string, args []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
}

func (r *RecordingRunner) Run(name string, args ...string) error {
	r.record(name, args)
	return nil
}

func (r *RecordingRunner) Output(name string, args ...string) ([]byte, error) {
	r.record(name, args)
	return nil, nil
}

// Commands returns each recorded invocation as a space-joined line.
func (r *RecordingRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}
