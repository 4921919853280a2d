package engine

import (
	"fmt"

	"github.com/google/uuid"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/policy"
)

// CreateRule validates and persists a new rule at the end of its
// (table, chain) group, then reconciles. The rule is committed even
// when the apply reports failures.
func (e *Engine) CreateRule(actor string, r policy.Rule) (*policy.Rule, *ApplyResult, error) {
	if err := policy.ValidateRule(&r); err != nil {
		return nil, nil, err
	}
	r.ID = uuid.New().String()
	max, err := e.store.MaxPosition(r.Table, r.Chain)
	if err != nil {
		return nil, nil, err
	}
	r.Order = max + 1
	now := e.clock.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := e.store.CreateRule(&r); err != nil {
		return nil, nil, err
	}
	e.log.Info("rule created",
		"id", r.ID, "table", r.Table, "chain", r.Chain, "action", r.Action, "position", r.Order)
	e.hub.EmitRuleChange(events.EventRuleCreated, r.ID, r.Table, r.Chain, r.Action, r.Order)
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "rule.create", Entity: "rule", EntityID: r.ID, OK: true,
		Detail: fmt.Sprintf("%s/%s %s", r.Table, r.Chain, r.Action),
	})
	return &r, e.applyAfter(actor, "create"), nil
}

// UpdateRule merges a partial update into an existing rule. Moving a
// rule to a different table or chain places it at the end of the new
// group and renumbers the one it left.
func (e *Engine) UpdateRule(actor, id string, patch policy.RuleUpdate) (*policy.Rule, *ApplyResult, error) {
	current, err := e.store.GetRule(id)
	if err != nil {
		return nil, nil, err
	}
	oldTable, oldChain := current.Table, current.Chain

	patch.Apply(current)
	if err := policy.ValidateRule(current); err != nil {
		return nil, nil, err
	}

	moved := current.Table != oldTable || current.Chain != oldChain
	if moved {
		max, err := e.store.MaxPosition(current.Table, current.Chain)
		if err != nil {
			return nil, nil, err
		}
		current.Order = max + 1
	}
	current.UpdatedAt = e.clock.Now()

	if err := e.store.UpdateRule(current); err != nil {
		return nil, nil, err
	}
	if moved {
		if err := e.renumberGroup(oldTable, oldChain); err != nil {
			e.log.Warn("renumbering vacated group failed",
				"table", oldTable, "chain", oldChain, "error", err)
		}
	}
	e.log.Info("rule updated", "id", current.ID, "table", current.Table, "chain", current.Chain)
	e.hub.EmitRuleChange(events.EventRuleUpdated, current.ID, current.Table, current.Chain, current.Action, current.Order)
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "rule.update", Entity: "rule", EntityID: current.ID, OK: true,
	})
	return current, e.applyAfter(actor, "update"), nil
}

// DeleteRule removes a rule and closes the gap it leaves in its group.
// An unknown id returns store.ErrNotFound without touching the live
// tables.
func (e *Engine) DeleteRule(actor, id string) (*ApplyResult, error) {
	r, err := e.store.GetRule(id)
	if err != nil {
		return nil, err
	}
	if err := e.store.DeleteRule(id); err != nil {
		return nil, err
	}
	if err := e.renumberGroup(r.Table, r.Chain); err != nil {
		e.log.Warn("renumbering after delete failed",
			"table", r.Table, "chain", r.Chain, "error", err)
	}
	e.log.Info("rule deleted", "id", id, "table", r.Table, "chain", r.Chain)
	e.hub.EmitRuleChange(events.EventRuleDeleted, r.ID, r.Table, r.Chain, r.Action, r.Order)
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "rule.delete", Entity: "rule", EntityID: id, OK: true,
	})
	return e.applyAfter(actor, "delete"), nil
}

// ReorderRule moves a rule to newOrder within its group, shifting the
// rules in between by one so positions stay dense. newOrder is clamped
// to the group bounds.
func (e *Engine) ReorderRule(actor, id string, newOrder int) (*policy.Rule, *ApplyResult, error) {
	r, err := e.store.GetRule(id)
	if err != nil {
		return nil, nil, err
	}
	group, err := e.store.ListGroup(r.Table, r.Chain)
	if err != nil {
		return nil, nil, err
	}
	if newOrder < 0 {
		newOrder = 0
	}
	if newOrder > len(group)-1 {
		newOrder = len(group) - 1
	}
	old := r.Order

	assignments := make([]policy.OrderAssignment, 0, len(group))
	for i := range group {
		other := &group[i]
		if other.ID == id {
			continue
		}
		switch {
		case old < newOrder && other.Order > old && other.Order <= newOrder:
			assignments = append(assignments, policy.OrderAssignment{ID: other.ID, Order: other.Order - 1})
		case old > newOrder && other.Order >= newOrder && other.Order < old:
			assignments = append(assignments, policy.OrderAssignment{ID: other.ID, Order: other.Order + 1})
		}
	}
	assignments = append(assignments, policy.OrderAssignment{ID: id, Order: newOrder})

	if err := e.store.UpdatePositions(assignments); err != nil {
		return nil, nil, err
	}
	r.Order = newOrder
	e.log.Info("rule reordered", "id", id, "from", old, "to", newOrder)
	e.hub.EmitReordered(r.Table, r.Chain, len(group))
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "rule.reorder", Entity: "rule", EntityID: id, OK: true,
		Detail: fmt.Sprintf("%d -> %d", old, newOrder),
	})
	return r, e.applyAfter(actor, "reorder"), nil
}

// SetRuleOrders applies a batch of explicit positions in one
// transaction. The caller supplies a valid permutation; no renumbering
// happens afterwards.
func (e *Engine) SetRuleOrders(actor string, assignments []policy.OrderAssignment) (*ApplyResult, error) {
	if err := e.store.UpdatePositions(assignments); err != nil {
		return nil, err
	}
	e.log.Info("rule orders set", "count", len(assignments))
	e.hub.Publish(events.Event{
		Type:   events.EventRuleReordered,
		Source: "engine",
		Data:   events.ReorderData{Count: len(assignments)},
	})
	e.recordAudit(audit.Entry{
		Actor: actor, Action: "rule.set_orders", Entity: "rule", OK: true,
		Detail: fmt.Sprintf("%d rules", len(assignments)),
	})
	return e.applyAfter(actor, "reorder"), nil
}

// renumberGroup rewrites a group's positions to a dense 0..n-1 run in
// the stored order.
func (e *Engine) renumberGroup(table, chain string) error {
	rules, err := e.store.ListGroup(table, chain)
	if err != nil {
		return err
	}
	assignments := make([]policy.OrderAssignment, 0, len(rules))
	for i := range rules {
		if rules[i].Order != i {
			assignments = append(assignments, policy.OrderAssignment{ID: rules[i].ID, Order: i})
		}
	}
	if len(assignments) == 0 {
		return nil
	}
	return e.store.UpdatePositions(assignments)
}

// GetRule returns a single rule by id.
func (e *Engine) GetRule(id string) (*policy.Rule, error) {
	return e.store.GetRule(id)
}

// ListRules returns every stored rule in replay order.
func (e *Engine) ListRules() ([]policy.Rule, error) {
	return e.store.ListRules()
}

// ListGroup returns the rules of one (table, chain) group in position
// order.
func (e *Engine) ListGroup(table, chain string) ([]policy.Rule, error) {
	return e.store.ListGroup(table, chain)
}
