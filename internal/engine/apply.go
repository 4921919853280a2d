package engine

import (
	"fmt"
	"time"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/iptables"
	"grimm.is/palisade/internal/metrics"
	"grimm.is/palisade/internal/policy"
)

// ruleTagPrefix marks every rule the engine writes so live entries can
// be traced back to their stored record.
const ruleTagPrefix = "ID_"

// ApplyResult reports the outcome of one reconciliation run.
type ApplyResult struct {
	OK         bool   `json:"ok"`
	RuleCount  int    `json:"rule_count"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// LastApply records when the most recent reconciliation ran and how it
// went.
type LastApply struct {
	At      time.Time   `json:"at"`
	Trigger string      `json:"trigger"`
	Result  ApplyResult `json:"result"`
}

// Apply flushes every owned chain and replays the enabled rules into
// them in stored order. Individual failures are counted and logged but
// do not abort the run; the result is OK only when every flush and
// every rule append succeeded.
func (e *Engine) Apply(actor, trigger string) (*ApplyResult, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	start := e.clock.Now()
	result := &ApplyResult{OK: true}

	for _, slot := range policy.OwnedChainSlots() {
		if err := e.adapter.CreateOrFlushChain(slot.Table, slot.Chain); err != nil {
			e.log.Error("failed to reset owned chain",
				"table", slot.Table, "chain", slot.Chain, "error", err)
			result.OK = false
			result.Failed++
		}
	}

	rules, err := e.store.ListEnabled()
	if err != nil {
		err = fmt.Errorf("loading rules: %w", err)
		e.lastApply.Store(&LastApply{
			At:      start,
			Trigger: trigger,
			Result:  ApplyResult{Error: err.Error()},
		})
		return nil, err
	}
	result.RuleCount = len(rules)

	for i := range rules {
		r := &rules[i]
		owned, ok := policy.OwnedChainFor(r.Table, r.Chain)
		if !ok {
			e.log.Warn("rule targets an unmanaged chain, skipping",
				"id", r.ID, "table", r.Table, "chain", r.Chain)
			result.Skipped++
			continue
		}
		if err := e.adapter.AddRule(r.Table, owned, ruleSpec(r)); err != nil {
			e.log.Error("failed to apply rule",
				"id", r.ID, "table", r.Table, "chain", owned, "error", err)
			result.OK = false
			result.Failed++
		}
	}

	took := e.clock.Since(start)
	result.DurationMs = took.Milliseconds()

	m := metrics.Get()
	m.RecordApply(result.OK, took.Seconds(), result.RuleCount)
	if counts, err := e.store.CountRulesByTable(); err == nil {
		for _, table := range policy.Tables {
			m.SetRuleCount(table, counts[table])
		}
	}

	e.hub.EmitApply(result.OK, result.RuleCount, result.Failed, took, trigger)
	e.recordAudit(audit.Entry{
		Actor:      actor,
		Action:     "apply",
		Entity:     "ruleset",
		OK:         result.OK,
		Detail:     fmt.Sprintf("trigger=%s rules=%d failed=%d skipped=%d", trigger, result.RuleCount, result.Failed, result.Skipped),
		DurationMs: result.DurationMs,
	})

	if result.OK {
		e.log.Info("apply complete", "trigger", trigger, "rules", result.RuleCount, "took_ms", result.DurationMs)
	} else {
		e.log.Warn("apply finished with failures",
			"trigger", trigger, "rules", result.RuleCount, "failed", result.Failed, "took_ms", result.DurationMs)
	}
	e.lastApply.Store(&LastApply{At: start, Trigger: trigger, Result: *result})
	return result, nil
}

// applyAfter runs a reconciliation for a mutation that already
// committed. Failures are reported in the result, never to the caller:
// the stored state is authoritative and a later apply catches up.
func (e *Engine) applyAfter(actor, trigger string) *ApplyResult {
	result, err := e.Apply(actor, trigger)
	if err != nil {
		e.log.Error("apply failed after "+trigger, "error", err)
		return &ApplyResult{Error: err.Error()}
	}
	return result
}

// Save persists the live tables through the adapter so they survive a
// reboot.
func (e *Engine) Save(actor string) error {
	start := e.clock.Now()
	err := e.adapter.SaveRules()
	e.recordAudit(audit.Entry{
		Actor:      actor,
		Action:     "save",
		Entity:     "ruleset",
		OK:         err == nil,
		DurationMs: e.clock.Since(start).Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("saving rules: %w", err)
	}
	e.hub.Publish(events.Event{Type: events.EventRulesSaved, Source: "engine"})
	e.log.Info("rules saved")
	return nil
}

// ruleSpec translates a stored rule into adapter arguments. The tool
// comment carries only the id tag; the user's comment stays in the
// database.
func ruleSpec(r *policy.Rule) iptables.RuleSpec {
	return iptables.RuleSpec{
		Action:        r.Action,
		Protocol:      r.Protocol,
		Source:        r.Source,
		Destination:   r.Destination,
		Port:          r.Port,
		InInterface:   r.InInterface,
		OutInterface:  r.OutInterface,
		State:         r.State,
		LimitRate:     r.LimitRate,
		LimitBurst:    r.LimitBurst,
		ToDestination: r.ToDestination,
		ToSource:      r.ToSource,
		ToPorts:       r.ToPorts,
		LogPrefix:     r.LogPrefix,
		LogLevel:      r.LogLevel,
		RejectWith:    r.RejectWith,
		Comment:       ruleTagPrefix + r.ID,
	}
}
