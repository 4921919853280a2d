// Package config loads and validates the palisade daemon configuration.
// HCL is the primary format with JSON as an alternative, dispatched by
// file extension. Defaults are applied before decode so an empty file is
// a valid configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"grimm.is/palisade/internal/logging"
)

// Defaults for a stock install. Everything is overridable from the file.
const (
	DefaultListen         = "127.0.0.1:8171"
	DefaultDataDir        = "/var/lib/palisade"
	DefaultConfigPath     = "/etc/palisade/palisade.hcl"
	DefaultExtensionDir   = "/var/lib/palisade/extensions"
	DefaultLogLevel       = "info"
	DefaultCommandTimeout = 10 // seconds
	DefaultAuditRetention = 30 // days
)

// Config is the daemon configuration. Zero-valued fields are filled from
// defaults, so every field is optional in the file.
type Config struct {
	// Listen is the HTTP API bind address.
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`

	// DataDir holds the rule database and other runtime state.
	DataDir string `hcl:"data_dir,optional" json:"data_dir,omitempty"`

	// DatabasePath overrides the default DataDir/palisade.db location.
	DatabasePath string `hcl:"database_path,optional" json:"database_path,omitempty"`

	// MockMode logs every iptables invocation instead of executing it.
	MockMode bool `hcl:"mock_mode,optional" json:"mock_mode,omitempty"`

	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json,omitempty"`

	// SavePath receives rule dumps when no save script is configured.
	SavePath   string `hcl:"save_path,optional" json:"save_path,omitempty"`
	SaveScript string `hcl:"save_script,optional" json:"save_script,omitempty"`

	// ExtensionDir is scanned for extension manifests at startup.
	ExtensionDir string `hcl:"extension_dir,optional" json:"extension_dir,omitempty"`

	// IPTablesPath overrides the iptables binary resolved from PATH.
	IPTablesPath string `hcl:"iptables_path,optional" json:"iptables_path,omitempty"`

	CommandTimeout     int `hcl:"command_timeout,optional" json:"command_timeout,omitempty"`           // seconds
	AuditRetentionDays int `hcl:"audit_retention_days,optional" json:"audit_retention_days,omitempty"` // days

	// DriftCheckInterval is the spacing of background drift checks in
	// seconds. Zero disables the check.
	DriftCheckInterval int `hcl:"drift_check_interval,optional" json:"drift_check_interval,omitempty"`

	// AlertWebhook, when set, receives JSON alerts for drift findings
	// and failed applies. AlertMinLevel filters what gets through.
	AlertWebhook  string `hcl:"alert_webhook,optional" json:"alert_webhook,omitempty"`
	AlertMinLevel string `hcl:"alert_min_level,optional" json:"alert_min_level,omitempty"`
}

// Default returns a Config populated with stock defaults.
func Default() *Config {
	return &Config{
		Listen:             DefaultListen,
		DataDir:            DefaultDataDir,
		ExtensionDir:       DefaultExtensionDir,
		LogLevel:           DefaultLogLevel,
		CommandTimeout:     DefaultCommandTimeout,
		AuditRetentionDays: DefaultAuditRetention,
	}
}

// applyDefaults fills zero-valued fields in place. Called after decode so
// a partial file inherits the rest.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ExtensionDir == "" {
		c.ExtensionDir = DefaultExtensionDir
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.AuditRetentionDays <= 0 {
		c.AuditRetentionDays = DefaultAuditRetention
	}
}

// Database returns the effective database path, deriving it from DataDir
// when no explicit path is set.
func (c *Config) Database() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "palisade.db")
}

// Level parses LogLevel into a logging level. Unknown values fall back
// to info.
func (c *Config) Level() logging.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return logging.LevelDebug
	case "info":
		return logging.LevelInfo
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// Validate checks the configuration for values that would fail at
// startup. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Listen != "" {
		_, port, ok := splitListen(c.Listen)
		if !ok || port == "" {
			return fmt.Errorf("listen address %q is missing a port", c.Listen)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q (expected debug, info, warn, or error)", c.LogLevel)
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout must not be negative")
	}
	if c.AuditRetentionDays < 0 {
		return fmt.Errorf("audit_retention_days must not be negative")
	}
	if c.DriftCheckInterval < 0 {
		return fmt.Errorf("drift_check_interval must not be negative")
	}
	if c.AlertWebhook != "" && !strings.HasPrefix(c.AlertWebhook, "http://") && !strings.HasPrefix(c.AlertWebhook, "https://") {
		return fmt.Errorf("alert_webhook %q must be an http or https URL", c.AlertWebhook)
	}
	switch c.AlertMinLevel {
	case "", "info", "warning", "critical":
	default:
		return fmt.Errorf("unknown alert_min_level %q (expected info, warning, or critical)", c.AlertMinLevel)
	}
	if c.SaveScript != "" && !filepath.IsAbs(c.SaveScript) {
		return fmt.Errorf("save_script %q must be an absolute path", c.SaveScript)
	}
	return nil
}

// splitListen splits host:port without requiring a host part, so ":8171"
// is accepted.
func splitListen(addr string) (host, port string, ok bool) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}
