package iptables

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories translated from raw iptables output. Callers branch with
// errors.Is; the original tool text stays available on the CommandError.
var (
	// ErrInvalidArgument covers argument/table mismatches, e.g. DNAT used
	// outside nat PREROUTING/OUTPUT.
	ErrInvalidArgument = errors.New("invalid argument for this chain/table combination")

	// ErrUnknownChain covers missing chains, targets and match modules.
	ErrUnknownChain = errors.New("no chain, target or match by that name")

	// ErrRuleNotFound is returned when a delete has no matching live rule.
	ErrRuleNotFound = errors.New("no matching rule in that chain")

	// ErrPermissionDenied means the process lacks the privileges to touch
	// netfilter state.
	ErrPermissionDenied = errors.New("permission denied (root privileges required)")

	// ErrResourceBusy maps the xtables lock being held elsewhere.
	ErrResourceBusy = errors.New("packet-filter resource temporarily unavailable")

	// ErrToolMissing means the iptables binary could not be found.
	ErrToolMissing = errors.New("iptables command not found")

	// ErrTimeout means a single invocation exceeded its deadline.
	ErrTimeout = errors.New("iptables command timed out")
)

// CommandError wraps a failed invocation with its translated category. Hint
// carries a category-specific message when translation matched, Detail the
// raw tool text.
type CommandError struct {
	Table    string
	Args     []string
	Category error
	Hint     string
	Detail   string
}

func (e *CommandError) Error() string {
	msg := e.Hint
	if msg == "" {
		msg = strings.TrimSpace(e.Detail)
	}
	if msg == "" && e.Category != nil {
		msg = e.Category.Error()
	}
	return fmt.Sprintf("iptables -t %s %s: %s", e.Table, strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Category
}

// categorize maps raw tool output to a sentinel category and a hint for the
// operator. Both legacy iptables and the nft-backed variant are covered.
func categorize(args []string, raw string) (error, string) {
	lower := strings.ToLower(raw)

	switch {
	case strings.Contains(lower, "rule_append failed (invalid argument)"),
		strings.Contains(lower, "invalid argument"):
		if containsArg(args, "DNAT") && strings.Contains(lower, "output") {
			return ErrInvalidArgument, "DNAT is not allowed in this chain (nat PREROUTING/OUTPUT only)"
		}
		return ErrInvalidArgument, "arguments not valid for this chain/table, check target compatibility (e.g. DNAT only in nat)"

	case strings.Contains(lower, "no chain/target/match by that name"):
		return ErrUnknownChain, "chain, target or match module not found"

	case strings.Contains(lower, "bad rule (does a matching rule exist in that chain?)"):
		return ErrRuleNotFound, "rule not found (nothing to delete or modify)"

	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "operation not permitted"):
		return ErrPermissionDenied, "permission denied (root privileges required)"

	case strings.Contains(lower, "resource temporarily unavailable"),
		strings.Contains(lower, "xtables lock"):
		return ErrResourceBusy, "another process holds the xtables lock, retry shortly"

	case strings.Contains(lower, "executable file not found"),
		strings.Contains(lower, "no such file or directory"):
		return ErrToolMissing, "iptables binary not found on this system"

	case strings.Contains(lower, "timed out"):
		return ErrTimeout, ""
	}

	return nil, ""
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

// IsClientError reports whether err was caused by the caller's input rather
// than the environment. The HTTP layer maps these to 4xx responses.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUnknownChain) ||
		errors.Is(err, ErrRuleNotFound)
}
