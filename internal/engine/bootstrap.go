package engine

import (
	"fmt"
	"time"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/policy"
)

// Bootstrap creates every owned chain and wires it into its parent with
// a jump at the top. Running it again is a no-op: chains are reset to
// empty and existing jumps are left where they are.
func (e *Engine) Bootstrap() error {
	start := e.clock.Now()
	slots := policy.OwnedChainSlots()
	for _, slot := range slots {
		if err := e.adapter.CreateOrFlushChain(slot.Table, slot.Chain); err != nil {
			e.auditBootstrap(start, false, err.Error())
			return fmt.Errorf("preparing chain %s/%s: %w", slot.Table, slot.Chain, err)
		}
		if err := e.ensureOwnedJump(slot); err != nil {
			e.auditBootstrap(start, false, err.Error())
			return err
		}
	}
	e.log.Info("owned chains ready", "chains", len(slots))
	e.auditBootstrap(start, true, fmt.Sprintf("%d chains", len(slots)))
	return nil
}

// ensureOwnedJump inserts the jump to an owned chain at the top of its
// parent. Some parents reject positional inserts when empty, so a
// failed insert falls back to a plain append.
func (e *Engine) ensureOwnedJump(slot policy.OwnedChainSlot) error {
	err := e.adapter.EnsureJump(slot.Table, slot.Parent, slot.Chain, 1)
	if err == nil {
		return nil
	}
	e.log.Warn("insert at top failed, appending jump",
		"table", slot.Table, "parent", slot.Parent, "chain", slot.Chain, "error", err)
	if err := e.adapter.EnsureJump(slot.Table, slot.Parent, slot.Chain, 0); err != nil {
		return fmt.Errorf("wiring %s into %s/%s: %w", slot.Chain, slot.Table, slot.Parent, err)
	}
	return nil
}

func (e *Engine) auditBootstrap(start time.Time, ok bool, detail string) {
	e.recordAudit(audit.Entry{
		Actor:      ActorStartup,
		Action:     "bootstrap",
		Entity:     "chains",
		OK:         ok,
		Detail:     detail,
		DurationMs: e.clock.Since(start).Milliseconds(),
	})
}
