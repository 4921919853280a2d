package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Save writes the config to path, as JSON or HCL by extension.
func Save(cfg *Config, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		return writeFile(path, append(data, '\n'))
	}

	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(cfg, f.Body())
	return writeFile(path, f.Bytes())
}

// WriteDefault writes a commented starter config to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	f := hclwrite.NewEmptyFile()
	body := f.Body()

	comment(body, "palisade daemon configuration")
	comment(body, "Every setting is optional; the values below are the defaults.")
	body.AppendNewline()

	comment(body, "HTTP API bind address.")
	body.SetAttributeValue("listen", cty.StringVal(DefaultListen))
	body.AppendNewline()

	comment(body, "Rule database and runtime state.")
	body.SetAttributeValue("data_dir", cty.StringVal(DefaultDataDir))
	body.AppendNewline()

	comment(body, "Directory scanned for extension manifests at startup.")
	body.SetAttributeValue("extension_dir", cty.StringVal(DefaultExtensionDir))
	body.AppendNewline()

	comment(body, "Log every iptables invocation instead of executing it.")
	body.SetAttributeValue("mock_mode", cty.BoolVal(false))
	body.AppendNewline()

	comment(body, "debug, info, warn, or error.")
	body.SetAttributeValue("log_level", cty.StringVal(DefaultLogLevel))
	body.SetAttributeValue("log_json", cty.BoolVal(false))
	body.AppendNewline()

	comment(body, "Where iptables-save dumps land. A save_script, when set,")
	comment(body, "runs instead of the built-in dump.")
	body.SetAttributeValue("save_path", cty.StringVal("/etc/iptables/rules.v4"))
	body.AppendNewline()

	comment(body, "Seconds before a single iptables invocation is abandoned.")
	body.SetAttributeValue("command_timeout", cty.NumberIntVal(DefaultCommandTimeout))
	body.AppendNewline()

	comment(body, "Days of audit history to keep.")
	body.SetAttributeValue("audit_retention_days", cty.NumberIntVal(DefaultAuditRetention))
	body.AppendNewline()

	comment(body, "Seconds between background drift checks. 0 disables them.")
	body.SetAttributeValue("drift_check_interval", cty.NumberIntVal(0))
	body.AppendNewline()

	comment(body, "Webhook for drift and failed-apply alerts, e.g.")
	comment(body, `  alert_webhook   = "https://hooks.example.net/palisade"`)
	comment(body, `  alert_min_level = "warning"   # info, warning, or critical`)

	return writeFile(path, f.Bytes())
}

// comment appends a line comment to an hclwrite body.
func comment(body *hclwrite.Body, text string) {
	body.AppendUnstructuredTokens(hclwrite.Tokens{
		{Type: hclsyntax.TokenComment, Bytes: []byte("# " + text + "\n")},
	})
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
