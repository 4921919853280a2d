// Package validation holds the input validators shared by the API layer and
// the reconciliation engine. Everything that ends up on an iptables command
// line passes through here first.
package validation

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxChainNameLen is the iptables limit for user-defined chain names.
	MaxChainNameLen = 28

	// MaxCommentLen is the iptables limit for -m comment --comment.
	MaxCommentLen = 255

	// MaxLogPrefixLen is the kernel limit for --log-prefix.
	MaxLogPrefixLen = 29
)

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Valid chain name: uppercase alphanumeric with underscores
	chainNameRegex = regexp.MustCompile(`^[A-Z0-9_]+$`)

	// Valid rate-limit spec for -m limit, e.g. "10/second" or "3/min"
	rateLimitRegex = regexp.MustCompile(`^[0-9]+/(second|sec|minute|min|hour|day)$`)

	// Characters allowed to survive in rule comments
	commentStripRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-. ]`)

	// Log prefixes additionally allow brackets
	logPrefixStripRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-. \[\]]`)

	// Dangerous characters that should never appear in identifiers
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}

	validStates = map[string]bool{
		"NEW":         true,
		"ESTABLISHED": true,
		"RELATED":     true,
		"INVALID":     true,
		"UNTRACKED":   true,
	}
)

// ValidateInterfaceName validates a network interface name
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}

	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: %s (must be alphanumeric with -_., max 15 chars)", name)
	}

	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("interface name contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateChainName validates a user-defined chain name
func ValidateChainName(name string) error {
	if name == "" {
		return fmt.Errorf("chain name cannot be empty")
	}

	if len(name) > MaxChainNameLen {
		return fmt.Errorf("chain name too long (max %d characters): %s", MaxChainNameLen, name)
	}

	if !chainNameRegex.MatchString(name) {
		return fmt.Errorf("invalid chain name: %s (must be uppercase alphanumeric with _)", name)
	}

	return nil
}

// ValidateIPOrCIDR validates an IP address or CIDR range
func ValidateIPOrCIDR(s string) error {
	if s == "" {
		return fmt.Errorf("IP/CIDR cannot be empty")
	}

	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		if err != nil {
			return fmt.Errorf("invalid CIDR: %w", err)
		}
		return nil
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return fmt.Errorf("invalid IP address: %s", s)
	}

	return nil
}

// ValidatePortNumber validates a numeric port
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", port)
	}
	return nil
}

// ValidatePortSpec validates a port expression as used by rules: a single
// port ("22"), a range ("8000:8100"), or a comma-separated list of either
// ("22,80,443"). iptables multiport accepts at most 15 entries.
func ValidatePortSpec(spec string) error {
	if spec == "" {
		return fmt.Errorf("port spec cannot be empty")
	}

	parts := strings.Split(spec, ",")
	if len(parts) > 15 {
		return fmt.Errorf("too many ports in list: %d (max 15)", len(parts))
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty entry in port list: %q", spec)
		}

		lo, hi, isRange := strings.Cut(part, ":")
		if err := validateSinglePort(lo); err != nil {
			return err
		}
		if isRange {
			if err := validateSinglePort(hi); err != nil {
				return err
			}
			loN, _ := strconv.Atoi(lo)
			hiN, _ := strconv.Atoi(hi)
			if loN >= hiN {
				return fmt.Errorf("invalid port range: %s", part)
			}
		}
	}

	return nil
}

func validateSinglePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port: %q", s)
	}
	return ValidatePortNumber(n)
}

// ValidateProtocol validates a protocol name
func ValidateProtocol(proto string) error {
	validProtocols := []string{"tcp", "udp", "icmp", "icmpv6", "ah", "esp", "gre", "all"}
	proto = strings.ToLower(proto)

	for _, valid := range validProtocols {
		if proto == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid protocol: %s (must be one of: %s)", proto, strings.Join(validProtocols, ", "))
}

// ValidateState validates a comma-separated connection-state set for
// -m state --state.
func ValidateState(state string) error {
	if state == "" {
		return fmt.Errorf("state cannot be empty")
	}

	for _, s := range strings.Split(state, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if !validStates[s] {
			return fmt.Errorf("invalid connection state: %s", s)
		}
	}

	return nil
}

// ValidateRateLimit validates a -m limit rate spec such as "10/second".
func ValidateRateLimit(rate string) error {
	if !rateLimitRegex.MatchString(rate) {
		return fmt.Errorf("invalid rate limit: %s (expected N/second, N/minute, N/hour or N/day)", rate)
	}
	return nil
}

// ValidateAllowlist checks if a value is in an allowed list
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("value not in allowlist: %s", value)
}

// SanitizeComment strips characters not allowed in an iptables comment and
// caps the result at MaxCommentLen.
func SanitizeComment(s string) string {
	s = commentStripRegex.ReplaceAllString(s, "")
	if len(s) > MaxCommentLen {
		s = s[:MaxCommentLen]
	}
	return s
}

// SanitizeLogPrefix strips characters not allowed in --log-prefix and caps
// the result at MaxLogPrefixLen.
func SanitizeLogPrefix(s string) string {
	s = logPrefixStripRegex.ReplaceAllString(s, "")
	if len(s) > MaxLogPrefixLen {
		s = s[:MaxLogPrefixLen]
	}
	return s
}
