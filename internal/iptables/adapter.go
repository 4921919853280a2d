package iptables

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/metrics"
)

const (
	// DefaultBinary is the packet-filter tool invoked for every mutation.
	DefaultBinary = "iptables"

	// DefaultSavePath is where SaveRules writes the persistent dump when no
	// save script is configured.
	DefaultSavePath = "/etc/iptables/rules.v4"
)

// Adapter executes individual iptables mutations as isolated external
// invocations. It holds no state about what should exist; callers drive it
// operation by operation. In mock mode every call logs its argv and
// succeeds without touching the system.
type Adapter struct {
	runner     CommandRunner
	log        *logging.Logger
	binary     string
	mock       bool
	saveScript string
	savePath   string
	retry      RetryConfig
}

// Options configures an Adapter. Zero values fall back to defaults.
type Options struct {
	Runner     CommandRunner
	Logger     *logging.Logger
	Binary     string
	MockMode   bool
	SaveScript string
	SavePath   string
	Retry      *RetryConfig
}

// New creates an Adapter.
func New(opts Options) *Adapter {
	a := &Adapter{
		runner:     opts.Runner,
		log:        opts.Logger,
		binary:     opts.Binary,
		mock:       opts.MockMode,
		saveScript: opts.SaveScript,
		savePath:   opts.SavePath,
		retry:      DefaultRetryConfig(),
	}
	if a.runner == nil {
		a.runner = DefaultCommandRunner
	}
	if a.log == nil {
		a.log = logging.Default().WithComponent("iptables")
	}
	if a.binary == "" {
		a.binary = DefaultBinary
	}
	if a.savePath == "" {
		a.savePath = DefaultSavePath
	}
	if opts.Retry != nil {
		a.retry = *opts.Retry
	}
	return a
}

// SetRunner sets the command runner for testing.
func (a *Adapter) SetRunner(runner CommandRunner) {
	a.runner = runner
}

// MockMode reports whether the adapter is running without system access.
func (a *Adapter) MockMode() bool {
	return a.mock
}

// translate wraps a raw runner error into a categorized CommandError.
func (a *Adapter) translate(table string, args []string, err error) error {
	detail := err.Error()
	category, hint := categorize(args, detail)
	if errors.Is(err, exec.ErrNotFound) {
		category, hint = ErrToolMissing, "iptables binary not found on this system"
	}
	if errors.Is(err, ErrTimeout) {
		category = ErrTimeout
	}
	return &CommandError{
		Table:    table,
		Args:     args,
		Category: category,
		Hint:     hint,
		Detail:   detail,
	}
}

func categoryLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnknownChain):
		return "unknown_chain"
	case errors.Is(err, ErrRuleNotFound):
		return "rule_not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrResourceBusy):
		return "resource_busy"
	case errors.Is(err, ErrToolMissing):
		return "tool_missing"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "other"
	}
}

// run executes one iptables invocation against a table, retrying on lock
// contention and translating failures into typed errors.
func (a *Adapter) run(table string, args ...string) error {
	full := append([]string{"-t", table}, args...)

	if a.mock {
		a.log.Debug("mock invocation", "argv", a.binary+" "+strings.Join(full, " "))
		metrics.Get().RecordCommand(args[0], "")
		return nil
	}

	err := retryBusy(a.retry, func() error {
		if runErr := a.runner.Run(a.binary, full...); runErr != nil {
			return a.translate(table, args, runErr)
		}
		return nil
	})

	metrics.Get().RecordCommand(args[0], categoryLabel(err))
	return err
}

// runQuiet is run with errors suppressed: failures are reported as false,
// logged at debug level only. Used for exists-checks and idempotent removes.
func (a *Adapter) runQuiet(table string, args ...string) bool {
	err := a.run(table, args...)
	if err != nil {
		a.log.Debug("suppressed iptables error", "table", table, "args", strings.Join(args, " "), "error", err)
		return false
	}
	return true
}

// ChainExists checks if a chain exists in a table.
func (a *Adapter) ChainExists(table, chain string) bool {
	return a.runQuiet(table, "-L", chain, "-n")
}

// CreateChain creates a chain if it doesn't exist.
func (a *Adapter) CreateChain(table, chain string) error {
	if a.ChainExists(table, chain) {
		return nil
	}
	if err := a.run(table, "-N", chain); err != nil {
		return err
	}
	a.log.Info("created chain", "chain", chain, "table", table)
	return nil
}

// FlushChain removes all rules from a chain.
func (a *Adapter) FlushChain(table, chain string) error {
	if err := a.run(table, "-F", chain); err != nil {
		return err
	}
	a.log.Debug("flushed chain", "chain", chain, "table", table)
	return nil
}

// DeleteChain removes a chain. The tool refuses to delete a non-empty
// chain, so it is flushed first; the delete itself is best-effort.
func (a *Adapter) DeleteChain(table, chain string) error {
	if err := a.FlushChain(table, chain); err != nil {
		return err
	}
	a.runQuiet(table, "-X", chain)
	return nil
}

// CreateOrFlushChain creates the chain if absent, otherwise resets it to
// empty. Used before repopulating an owned chain.
func (a *Adapter) CreateOrFlushChain(table, chain string) error {
	if a.ChainExists(table, chain) {
		return a.FlushChain(table, chain)
	}
	return a.CreateChain(table, chain)
}

// ListChain returns the rule specifications of a chain, one line per rule,
// in iptables -S format.
func (a *Adapter) ListChain(table, chain string) ([]string, error) {
	if a.mock {
		return nil, nil
	}

	out, err := a.runner.Output(a.binary, "-t", table, "-S", chain)
	if err != nil {
		return nil, a.translate(table, []string{"-S", chain}, err)
	}

	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// hasJumpTo reports whether any listed rule jumps to target.
func hasJumpTo(lines []string, target string) bool {
	for _, line := range lines {
		fields := strings.Fields(line)
		for i := 0; i < len(fields)-1; i++ {
			if fields[i] == "-j" && fields[i+1] == target {
				return true
			}
		}
	}
	return false
}

// EnsureJump makes sure parent jumps to target. If the jump already exists
// anywhere in parent's listing this is a no-op; otherwise it is inserted at
// position (1-based) when position > 0, else appended.
func (a *Adapter) EnsureJump(table, parent, target string, position int) error {
	lines, err := a.ListChain(table, parent)
	if err != nil {
		return err
	}
	if hasJumpTo(lines, target) {
		a.log.Debug("jump already present", "parent", parent, "target", target, "table", table)
		return nil
	}

	var args []string
	if position > 0 {
		args = []string{"-I", parent, fmt.Sprintf("%d", position), "-j", target}
	} else {
		args = []string{"-A", parent, "-j", target}
	}
	if err := a.run(table, args...); err != nil {
		return err
	}
	a.log.Info("added jump", "parent", parent, "target", target, "table", table)
	return nil
}

// RemoveJump deletes the jump from parent to target. Best-effort: a missing
// rule is not an error.
func (a *Adapter) RemoveJump(table, parent, target string) bool {
	return a.runQuiet(table, "-D", parent, "-j", target)
}

// AddRule appends a rule built from spec to a chain.
func (a *Adapter) AddRule(table, chain string, spec RuleSpec) error {
	return a.run(table, BuildRuleArgs(OpAppend, chain, spec)...)
}

// DeleteRuleBySpec removes the rule exactly matching spec. The tool has no
// stable rule handle, so deletion silently fails unless the built arguments
// match a live rule byte for byte. Reconciliation never relies on this;
// rules are removed by flushing and replaying owned chains.
func (a *Adapter) DeleteRuleBySpec(table, chain string, spec RuleSpec) bool {
	return a.runQuiet(table, BuildRuleArgs(OpDelete, chain, spec)...)
}

// SaveRules persists the live ruleset so it survives reboots. A configured
// save script takes precedence; otherwise the tool's save command is dumped
// to the configured path.
func (a *Adapter) SaveRules() error {
	if a.mock {
		a.log.Debug("mock invocation", "argv", "save rules")
		return nil
	}

	if a.saveScript != "" {
		err := a.runner.Run(a.saveScript)
		if err == nil {
			a.log.Info("rules saved", "via", a.saveScript)
			return nil
		}
		if !errors.Is(err, exec.ErrNotFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("save script failed: %w", err)
		}
		a.log.Warn("save script not found, falling back to direct save", "script", a.saveScript)
	}

	out, err := a.runner.Output(a.binary + "-save")
	if err != nil {
		return fmt.Errorf("%s-save failed: %w", a.binary, err)
	}
	if err := os.WriteFile(a.savePath, out, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", a.savePath, err)
	}
	a.log.Info("rules saved", "path", a.savePath)
	return nil
}
