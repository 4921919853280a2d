package extension

import (
	"grimm.is/palisade/internal/engine"
	"grimm.is/palisade/internal/logging"
)

// Registry wires manifest declarations into the engine.
type Registry struct {
	engine *engine.Engine
	log    *logging.Logger
	dir    string
}

// NewRegistry creates a registry over the extension directory.
func NewRegistry(eng *engine.Engine, dir string, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Default().WithComponent("extension")
	}
	return &Registry{engine: eng, log: log, dir: dir}
}

// Sync scans the extension directory and registers every declared
// chain. Chains the engine rejects are logged and skipped; Sync fails
// only when the directory itself cannot be read.
func (r *Registry) Sync(actor string) error {
	manifests, err := ScanDir(r.dir, r.log)
	if err != nil {
		return err
	}
	for i := range manifests {
		r.Register(actor, manifests[i])
	}
	if len(manifests) > 0 {
		r.log.Info("extension manifests synced", "extensions", len(manifests))
	}
	return nil
}

// Register registers every chain one manifest declares.
func (r *Registry) Register(actor string, m Manifest) {
	for _, decl := range m.FirewallChains {
		if _, err := r.engine.RegisterExtensionChain(actor, decl.toPolicy(m.ID)); err != nil {
			r.log.Warn("skipping declared chain",
				"extension", m.ID, "chain", decl.Name, "error", err)
		}
	}
}

// Remove unregisters every chain the extension owns. Used by the
// uninstall path.
func (r *Registry) Remove(actor, extensionID string) error {
	return r.engine.UnregisterExtension(actor, extensionID)
}
