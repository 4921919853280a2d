package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Env var overrides. They win over file values so a unit file or shell
// can redirect a daemon without editing the config.
const (
	EnvConfig = "PALISADE_CONFIG"
	EnvListen = "PALISADE_LISTEN"
	EnvMock   = "PALISADE_MOCK"
)

// Load reads and validates a config file. The format is chosen by
// extension: .hcl and .json are explicit, anything else is tried as HCL
// first with a JSON fallback.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".hcl":
		cfg, err = LoadHCL(data, path)
	case ".json":
		cfg, err = LoadJSON(data)
	default:
		cfg, err = LoadHCL(data, path)
		if err != nil {
			cfg, err = LoadJSON(data)
		}
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadHCL decodes config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadJSON decodes config from JSON bytes.
func LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overlays environment variable overrides onto the config.
func (c *Config) ApplyEnv() {
	if listen := os.Getenv(EnvListen); listen != "" {
		c.Listen = listen
	}
	if mock := os.Getenv(EnvMock); mock != "" {
		c.MockMode = mock == "1" || strings.EqualFold(mock, "true")
	}
}

// PathFromEnv returns the config path to use, preferring PALISADE_CONFIG
// over the built-in default.
func PathFromEnv() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	return DefaultConfigPath
}
