package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grimm.is/palisade/internal/config"
)

// writeTestConfig drops a mock-mode config pointing all state into a temp
// dir so subcommands can run end to end without touching the system.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "palisade.hcl")
	content := fmt.Sprintf(`
data_dir = %q
mock_mode = true
log_level = "error"
`, tmpDir)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestLoadConfig_MissingFileFallsBack(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.hcl"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Listen != config.DefaultListen {
		t.Errorf("fallback listen = %q, want %q", cfg.Listen, config.DefaultListen)
	}
}

func TestLoadConfig_EnvAppliesToFallback(t *testing.T) {
	t.Setenv(config.EnvListen, "127.0.0.1:9999")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.hcl"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Listen != "127.0.0.1:9999" {
		t.Errorf("listen = %q, want env override", cfg.Listen)
	}
}

func TestRunInit(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "palisade.hcl")

	if err := RunInit([]string{"-c", configPath}); err != nil {
		t.Fatalf("RunInit() error = %v", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("starter config not written: %v", err)
	}
	if !strings.Contains(string(data), "#") {
		t.Error("starter config has no comments")
	}

	// The starter file must itself pass check.
	if err := RunCheck(configPath, false); err != nil {
		t.Errorf("starter config fails check: %v", err)
	}

	if err := RunInit([]string{"-c", configPath}); err == nil {
		t.Error("second RunInit() overwrote an existing file")
	}
}

func TestRunApply_MockMode(t *testing.T) {
	configPath := writeTestConfig(t)

	if err := RunApply([]string{"-c", configPath}); err != nil {
		t.Fatalf("RunApply() error = %v", err)
	}
}

func TestRunDiff_MockMode(t *testing.T) {
	configPath := writeTestConfig(t)

	// Empty rule set against empty mock chains is clean.
	if err := RunDiff([]string{"-c", configPath}); err != nil {
		t.Errorf("RunDiff() error = %v, want in sync", err)
	}
}

func TestRunSave_MockMode(t *testing.T) {
	configPath := writeTestConfig(t)

	if err := RunSave([]string{"-c", configPath}); err != nil {
		t.Errorf("RunSave() error = %v", err)
	}
}
