package policy

import (
	"fmt"
	"regexp"
	"strings"

	"grimm.is/palisade/internal/validation"
)

var (
	// NAT target addresses: IP, IP:port, or dash range. IPv6 literals keep
	// their colons and brackets.
	natAddrRegex = regexp.MustCompile(`^[0-9A-Fa-f.:\[\]-]+$`)

	// REDIRECT/MASQUERADE port targets: port or dash range.
	toPortsRegex = regexp.MustCompile(`^[0-9]+(-[0-9]+)?$`)

	logLevels = []string{"emerg", "alert", "crit", "error", "warning", "notice", "info", "debug", "0", "1", "2", "3", "4", "5", "6", "7"}

	rejectTypes = []string{
		"icmp-net-unreachable", "icmp-host-unreachable", "icmp-port-unreachable",
		"icmp-proto-unreachable", "icmp-net-prohibited", "icmp-host-prohibited",
		"icmp-admin-prohibited", "tcp-reset",
	}
)

// ValidationError wraps any rule or chain validation failure so callers
// can tell a rejected request from an internal error.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// ValidateRule checks a complete rule against the permitted sets for its
// table and validates every optional field that would reach a command line.
// It is called before any rule is persisted or replayed.
func ValidateRule(r *Rule) error {
	if err := validateRule(r); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func validateRule(r *Rule) error {
	if !ValidTable(r.Table) {
		return fmt.Errorf("invalid table: %q (must be one of: %s)", r.Table, strings.Join(Tables, ", "))
	}
	if !ValidChain(r.Table, r.Chain) {
		return fmt.Errorf("invalid chain %q for table %q (must be one of: %s)",
			r.Chain, r.Table, strings.Join(ParentChains(r.Table), ", "))
	}
	if !ValidAction(r.Table, r.Action) {
		return fmt.Errorf("invalid action %q for table %q (must be one of: %s)",
			r.Action, r.Table, strings.Join(Actions(r.Table), ", "))
	}

	if r.Protocol != "" {
		if err := validation.ValidateProtocol(r.Protocol); err != nil {
			return err
		}
	}
	if r.Source != "" {
		if err := validation.ValidateIPOrCIDR(r.Source); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}
	if r.Destination != "" {
		if err := validation.ValidateIPOrCIDR(r.Destination); err != nil {
			return fmt.Errorf("destination: %w", err)
		}
	}
	if r.Port != "" {
		if err := validation.ValidatePortSpec(r.Port); err != nil {
			return err
		}
	}
	if r.InInterface != "" {
		if err := validation.ValidateInterfaceName(r.InInterface); err != nil {
			return fmt.Errorf("in_interface: %w", err)
		}
	}
	if r.OutInterface != "" {
		if err := validation.ValidateInterfaceName(r.OutInterface); err != nil {
			return fmt.Errorf("out_interface: %w", err)
		}
	}
	if r.State != "" {
		if err := validation.ValidateState(r.State); err != nil {
			return err
		}
	}
	if r.LimitRate != "" {
		if err := validation.ValidateRateLimit(r.LimitRate); err != nil {
			return err
		}
	}
	if r.LimitBurst < 0 {
		return fmt.Errorf("limit_burst must not be negative: %d", r.LimitBurst)
	}
	if r.ToDestination != "" && !natAddrRegex.MatchString(r.ToDestination) {
		return fmt.Errorf("invalid to_destination: %q", r.ToDestination)
	}
	if r.ToSource != "" && !natAddrRegex.MatchString(r.ToSource) {
		return fmt.Errorf("invalid to_source: %q", r.ToSource)
	}
	if r.ToPorts != "" && !toPortsRegex.MatchString(r.ToPorts) {
		return fmt.Errorf("invalid to_ports: %q", r.ToPorts)
	}
	if r.LogLevel != "" {
		if err := validation.ValidateAllowlist(strings.ToLower(r.LogLevel), logLevels); err != nil {
			return fmt.Errorf("invalid log_level: %q", r.LogLevel)
		}
	}
	if r.RejectWith != "" {
		if err := validation.ValidateAllowlist(r.RejectWith, rejectTypes); err != nil {
			return fmt.Errorf("invalid reject_with: %q", r.RejectWith)
		}
	}

	return nil
}

// ValidateExtensionChain checks a chain registration before it is persisted
// or any chain is created on the system.
func ValidateExtensionChain(c *ExtensionChain) error {
	if err := validateExtensionChain(c); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func validateExtensionChain(c *ExtensionChain) error {
	if c.ExtensionID == "" {
		return fmt.Errorf("extension id cannot be empty")
	}
	if err := validation.ValidateChainName(c.ChainName); err != nil {
		return err
	}
	if strings.HasPrefix(c.ChainName, OwnedChainPrefix) {
		return fmt.Errorf("chain name %q uses the reserved prefix %s", c.ChainName, OwnedChainPrefix)
	}
	if !ValidTable(c.Table) {
		return fmt.Errorf("invalid table: %q", c.Table)
	}
	if !ValidChain(c.Table, c.ParentChain) {
		return fmt.Errorf("invalid parent chain %q for table %q", c.ParentChain, c.Table)
	}
	return nil
}
