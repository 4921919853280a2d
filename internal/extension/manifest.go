// Package extension loads firewall chain declarations from installed
// extension manifests and keeps the engine's registrations in line with
// them. An extension is a directory under the configured extension root
// holding a manifest.json.
package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/policy"
)

// ManifestFile is the file name looked up in each extension directory.
const ManifestFile = "manifest.json"

// ChainDecl is one firewall chain an extension asks for. Table defaults
// to filter and priority to the mid-range default when omitted.
type ChainDecl struct {
	Name     string `json:"name"`
	Parent   string `json:"parent"`
	Table    string `json:"table,omitempty"`
	Priority *int   `json:"priority,omitempty"`
}

// Manifest describes one installed extension.
type Manifest struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	FirewallChains []ChainDecl `json:"firewall_chains,omitempty"`
}

// toPolicy fills in the declaration defaults and binds it to its owning
// extension.
func (d ChainDecl) toPolicy(extensionID string) policy.ExtensionChain {
	table := d.Table
	if table == "" {
		table = policy.TableFilter
	}
	priority := policy.DefaultChainPriority
	if d.Priority != nil {
		priority = *d.Priority
	}
	return policy.ExtensionChain{
		ExtensionID: extensionID,
		ChainName:   d.Name,
		ParentChain: d.Parent,
		Table:       table,
		Priority:    priority,
	}
}

// LoadManifest reads and parses one manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%s: manifest has no id", path)
	}
	return &m, nil
}

// ScanDir loads the manifest of every extension directory under dir.
// A missing directory means no extensions are installed. A broken
// manifest is logged and skipped so one bad extension cannot block the
// rest.
func ScanDir(dir string, log *logging.Logger) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading extension dir: %w", err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), ManifestFile)
		m, err := LoadManifest(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			log.Warn("skipping extension manifest", "path", path, "error", err)
			continue
		}
		if m.ID != entry.Name() {
			log.Warn("manifest id differs from its directory",
				"dir", entry.Name(), "id", m.ID)
		}
		manifests = append(manifests, *m)
	}
	return manifests, nil
}
