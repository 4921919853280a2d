package iptables

import (
	"strconv"
	"strings"

	"grimm.is/palisade/internal/validation"
)

// Rule operations understood by BuildRuleArgs.
const (
	OpAppend = "-A"
	OpInsert = "-I"
	OpDelete = "-D"
)

// RuleSpec carries everything needed to render one rule as iptables
// arguments. Empty fields are omitted from the command line.
type RuleSpec struct {
	Action        string
	Protocol      string
	Source        string
	Destination   string
	Port          string
	InInterface   string
	OutInterface  string
	State         string
	Comment       string
	LimitRate     string
	LimitBurst    int
	ToDestination string
	ToSource      string
	ToPorts       string
	LogPrefix     string
	LogLevel      string
	RejectWith    string
}

// BuildRuleArgs renders a rule spec into iptables arguments, without the
// leading binary name and -t table selector. The argument order is fixed:
// matches first, then the jump, then target-specific parameters. Target
// parameters are emitted only when the action can accept them.
func BuildRuleArgs(operation, chain string, spec RuleSpec) []string {
	args := []string{operation, chain}

	if spec.Protocol != "" {
		args = append(args, "-p", spec.Protocol)
	}
	if spec.Source != "" {
		args = append(args, "-s", spec.Source)
	}
	if spec.Destination != "" {
		args = append(args, "-d", spec.Destination)
	}
	if spec.InInterface != "" {
		args = append(args, "-i", spec.InInterface)
	}
	if spec.OutInterface != "" {
		args = append(args, "-o", spec.OutInterface)
	}
	if spec.State != "" {
		args = append(args, "-m", "state", "--state", spec.State)
	}

	// Ports only make sense for tcp/udp; silently skipped otherwise.
	if spec.Port != "" && (spec.Protocol == "tcp" || spec.Protocol == "udp") {
		if strings.Contains(spec.Port, ",") {
			args = append(args, "-m", "multiport", "--dports", spec.Port)
		} else {
			args = append(args, "--dport", spec.Port)
		}
	}

	if spec.LimitRate != "" {
		args = append(args, "-m", "limit", "--limit", spec.LimitRate)
		if spec.LimitBurst > 0 {
			args = append(args, "--limit-burst", strconv.Itoa(spec.LimitBurst))
		}
	}

	if spec.Comment != "" {
		args = append(args, "-m", "comment", "--comment", validation.SanitizeComment(spec.Comment))
	}

	args = append(args, "-j", spec.Action)

	switch spec.Action {
	case "DNAT":
		if spec.ToDestination != "" {
			args = append(args, "--to-destination", spec.ToDestination)
		}
	case "SNAT":
		if spec.ToSource != "" {
			args = append(args, "--to-source", spec.ToSource)
		}
	case "REDIRECT", "MASQUERADE":
		if spec.ToPorts != "" {
			args = append(args, "--to-ports", spec.ToPorts)
		}
	case "LOG":
		if spec.LogPrefix != "" {
			args = append(args, "--log-prefix", validation.SanitizeLogPrefix(spec.LogPrefix))
		}
		if spec.LogLevel != "" {
			args = append(args, "--log-level", spec.LogLevel)
		}
	case "REJECT":
		if spec.RejectWith != "" {
			args = append(args, "--reject-with", spec.RejectWith)
		}
	}

	return args
}
