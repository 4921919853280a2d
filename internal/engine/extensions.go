package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/metrics"
	"grimm.is/palisade/internal/policy"
	"grimm.is/palisade/internal/store"
)

// RegisterExtensionChain registers a chain under its name, or refreshes
// the placement of one already registered. A fresh registration gets an
// empty physical chain; a refresh keeps the chain's contents and only
// moves its jump. Either way the jump order of the affected parent is
// rebuilt.
func (e *Engine) RegisterExtensionChain(actor string, ec policy.ExtensionChain) (*policy.ExtensionChain, error) {
	if err := policy.ValidateExtensionChain(&ec); err != nil {
		return nil, err
	}

	existing, err := e.store.GetExtensionChainByName(ec.ChainName)
	switch {
	case err == nil:
		return e.refreshExtensionChain(actor, existing, ec)
	case errors.Is(err, store.ErrNotFound):
		// fall through to fresh registration
	default:
		return nil, err
	}

	ec.ID = uuid.New().String()
	ec.CreatedAt = e.clock.Now()
	if err := e.adapter.CreateOrFlushChain(ec.Table, ec.ChainName); err != nil {
		return nil, fmt.Errorf("creating chain %s: %w", ec.ChainName, err)
	}
	if err := e.store.CreateExtensionChain(&ec); err != nil {
		return nil, err
	}
	if err := e.rebuildChainJumps(ec.Table, ec.ParentChain); err != nil {
		return nil, err
	}
	e.log.Info("extension chain registered",
		"chain", ec.ChainName, "extension", ec.ExtensionID,
		"table", ec.Table, "parent", ec.ParentChain, "priority", ec.Priority)
	e.hub.EmitExtension(events.EventExtensionRegistered, ec.ExtensionID, []string{ec.ChainName})
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "chain.register", Entity: "extension_chain", EntityID: ec.ChainName, OK: true,
		Detail: fmt.Sprintf("%s/%s priority %d", ec.Table, ec.ParentChain, ec.Priority),
	})
	e.updateChainGauge()
	return &ec, nil
}

// refreshExtensionChain updates the stored placement of a chain that is
// already registered and re-ensures its physical chain without
// flushing it.
func (e *Engine) refreshExtensionChain(actor string, existing *policy.ExtensionChain, ec policy.ExtensionChain) (*policy.ExtensionChain, error) {
	oldTable, oldParent := existing.Table, existing.ParentChain
	changed := existing.ExtensionID != ec.ExtensionID ||
		existing.ParentChain != ec.ParentChain ||
		existing.Table != ec.Table ||
		existing.Priority != ec.Priority

	existing.ExtensionID = ec.ExtensionID
	existing.ParentChain = ec.ParentChain
	existing.Table = ec.Table
	existing.Priority = ec.Priority

	if changed {
		if err := e.store.UpdateExtensionChain(existing); err != nil {
			return nil, err
		}
	}
	if err := e.adapter.CreateChain(existing.Table, existing.ChainName); err != nil {
		return nil, fmt.Errorf("ensuring chain %s: %w", existing.ChainName, err)
	}
	if oldTable != existing.Table || oldParent != existing.ParentChain {
		e.adapter.RemoveJump(oldTable, oldParent, existing.ChainName)
		if err := e.rebuildChainJumps(oldTable, oldParent); err != nil {
			e.log.Warn("rebuilding vacated parent failed",
				"table", oldTable, "parent", oldParent, "error", err)
		}
	}
	if err := e.rebuildChainJumps(existing.Table, existing.ParentChain); err != nil {
		return nil, err
	}
	e.log.Info("extension chain refreshed",
		"chain", existing.ChainName, "table", existing.Table,
		"parent", existing.ParentChain, "priority", existing.Priority)
	e.hub.EmitExtension(events.EventExtensionRegistered, existing.ExtensionID, []string{existing.ChainName})
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "chain.register", Entity: "extension_chain", EntityID: existing.ChainName, OK: true,
		Detail: "refreshed",
	})
	return existing, nil
}

// UnregisterExtensionChain removes a chain's jump, deletes its physical
// chain and drops the registration. The remaining jumps keep their
// relative order, so no rebuild runs.
func (e *Engine) UnregisterExtensionChain(actor, name string) error {
	ec, err := e.store.GetExtensionChainByName(name)
	if err != nil {
		return err
	}
	if err := e.removeChain(ec); err != nil {
		return err
	}
	e.hub.EmitExtension(events.EventExtensionUnregistered, ec.ExtensionID, []string{ec.ChainName})
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "chain.unregister", Entity: "extension_chain", EntityID: name, OK: true,
	})
	e.updateChainGauge()
	return nil
}

// UnregisterExtension removes every chain registered by one extension.
func (e *Engine) UnregisterExtension(actor, extensionID string) error {
	chains, err := e.store.ListExtensionChainsByExtension(extensionID)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(chains))
	for i := range chains {
		if err := e.removeChain(&chains[i]); err != nil {
			return err
		}
		names = append(names, chains[i].ChainName)
	}
	if len(names) == 0 {
		return nil
	}
	e.log.Info("extension unregistered", "extension", extensionID, "chains", strings.Join(names, ","))
	e.hub.EmitExtension(events.EventExtensionUnregistered, extensionID, names)
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "extension.unregister", Entity: "extension", EntityID: extensionID, OK: true,
		Detail: fmt.Sprintf("%d chains", len(names)),
	})
	e.updateChainGauge()
	return nil
}

// removeChain tears down one extension chain: jump, physical chain,
// stored record. A physical delete failure is logged and the record is
// removed anyway, since the registration drives what the engine
// manages.
func (e *Engine) removeChain(ec *policy.ExtensionChain) error {
	e.adapter.RemoveJump(ec.Table, ec.ParentChain, ec.ChainName)
	if err := e.adapter.DeleteChain(ec.Table, ec.ChainName); err != nil {
		e.log.Warn("failed to delete extension chain",
			"table", ec.Table, "chain", ec.ChainName, "error", err)
	}
	if err := e.store.DeleteExtensionChain(ec.ID); err != nil {
		return err
	}
	e.log.Info("extension chain removed", "chain", ec.ChainName, "table", ec.Table)
	return nil
}

// SetChainPriorities updates priorities in one transaction, then
// rebuilds the jump order of every parent the referenced chains sit
// under.
func (e *Engine) SetChainPriorities(actor string, assignments []policy.PriorityAssignment) error {
	type parentKey struct{ table, parent string }
	touched := make(map[parentKey]bool)
	for _, a := range assignments {
		ec, err := e.store.GetExtensionChain(a.ID)
		if err != nil {
			return err
		}
		touched[parentKey{ec.Table, ec.ParentChain}] = true
	}
	if err := e.store.UpdateChainPriorities(assignments); err != nil {
		return err
	}
	for k := range touched {
		if err := e.rebuildChainJumps(k.table, k.parent); err != nil {
			e.log.Error("jump rebuild failed",
				"table", k.table, "parent", k.parent, "error", err)
		}
	}
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "chain.set_priorities", Entity: "extension_chain", OK: true,
		Detail: fmt.Sprintf("%d chains", len(assignments)),
	})
	return nil
}

// ListExtensionChains returns every registered extension chain.
func (e *Engine) ListExtensionChains() ([]policy.ExtensionChain, error) {
	return e.store.ListExtensionChains()
}

// rebuildChainJumps removes every jump the engine manages from a parent
// and re-inserts them from the top: the owned chain first, then the
// extension chains in ascending priority.
func (e *Engine) rebuildChainJumps(table, parent string) error {
	owned, ok := policy.OwnedChainFor(table, parent)
	if !ok {
		return fmt.Errorf("no owned chain for %s/%s", table, parent)
	}
	chains, err := e.store.ListExtensionChainsFor(table, parent)
	if err != nil {
		return err
	}

	e.adapter.RemoveJump(table, parent, owned)
	for i := range chains {
		e.adapter.RemoveJump(table, parent, chains[i].ChainName)
	}

	jumps := make([]string, 0, len(chains)+1)
	position := 1
	if err := e.adapter.EnsureJump(table, parent, owned, position); err != nil {
		return fmt.Errorf("restoring jump to %s: %w", owned, err)
	}
	jumps = append(jumps, owned)
	for i := range chains {
		position++
		if err := e.adapter.EnsureJump(table, parent, chains[i].ChainName, position); err != nil {
			return fmt.Errorf("restoring jump to %s: %w", chains[i].ChainName, err)
		}
		jumps = append(jumps, chains[i].ChainName)
	}

	e.log.Info("jump order rebuilt", "table", table, "parent", parent, "jumps", strings.Join(jumps, ","))
	e.hub.EmitChainsRebuilt(table, parent, jumps)
	return nil
}

func (e *Engine) updateChainGauge() {
	if n, err := e.store.CountExtensionChains(); err == nil {
		metrics.Get().SetExtensionChains(n)
	}
}
