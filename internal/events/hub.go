package events

import (
	"sync"
	"time"
)

// Hub is the central event bus for palisade.
// It provides pub/sub semantics with typed events and non-blocking fan-out.
type Hub struct {
	mu   sync.RWMutex
	subs map[EventType][]chan Event

	// Global subscribers receive all events
	global []chan Event

	// Metrics
	published uint64
	dropped   uint64
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[EventType][]chan Event),
	}
}

// Publish sends an event to all subscribers of that event type.
// This is non-blocking - if a subscriber's channel is full, the event is dropped.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published++

	// Send to type-specific subscribers
	for _, ch := range h.subs[e.Type] {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}

	// Send to global subscribers
	for _, ch := range h.global {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}
}

// Subscribe returns a channel that receives events of the specified types.
// If no types are specified, subscribes to all events.
// The caller is responsible for draining the channel to avoid drops.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		// Global subscription
		h.global = append(h.global, ch)
	} else {
		for _, t := range types {
			h.subs[t] = append(h.subs[t], ch)
		}
	}

	return ch
}

// Unsubscribe removes a channel from all subscriptions.
// The channel is NOT closed by this method.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = removeFromSlice(h.global, ch)

	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Stats returns publish/drop counts for monitoring.
func (h *Hub) Stats() (published, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.published, h.dropped
}

// removeFromSlice removes a channel from a slice of channels.
func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}

// EmitRuleChange publishes a rule lifecycle event.
func (h *Hub) EmitRuleChange(t EventType, id, table, chain, action string, position int) {
	h.Publish(Event{
		Type:   t,
		Source: "engine",
		Data: RuleData{
			ID:       id,
			Table:    table,
			Chain:    chain,
			Action:   action,
			Position: position,
		},
	})
}

// EmitReordered publishes a group reorder event.
func (h *Hub) EmitReordered(table, chain string, count int) {
	h.Publish(Event{
		Type:   EventRuleReordered,
		Source: "engine",
		Data: ReorderData{
			Table: table,
			Chain: chain,
			Count: count,
		},
	})
}

// EmitApply publishes the outcome of a reconciliation run.
func (h *Hub) EmitApply(ok bool, ruleCount, failed int, took time.Duration, trigger string) {
	h.Publish(Event{
		Type:   EventApplyCompleted,
		Source: "engine",
		Data: ApplyData{
			OK:         ok,
			RuleCount:  ruleCount,
			Failed:     failed,
			DurationMs: took.Milliseconds(),
			Trigger:    trigger,
		},
	})
}

// EmitChainsRebuilt publishes a jump-order rebuild for one parent chain.
func (h *Hub) EmitChainsRebuilt(table, parent string, jumps []string) {
	h.Publish(Event{
		Type:   EventChainsRebuilt,
		Source: "engine",
		Data: ChainsRebuiltData{
			Table:  table,
			Parent: parent,
			Jumps:  jumps,
		},
	})
}

// EmitExtension publishes an extension lifecycle event.
func (h *Hub) EmitExtension(t EventType, extensionID string, chains []string) {
	h.Publish(Event{
		Type:   t,
		Source: "extensions",
		Data: ExtensionData{
			ExtensionID: extensionID,
			Chains:      chains,
		},
	})
}

// EmitImport publishes the outcome of a bulk rule import.
func (h *Hub) EmitImport(mode string, imported, failed int) {
	h.Publish(Event{
		Type:   EventRulesImported,
		Source: "engine",
		Data: ImportData{
			Mode:     mode,
			Imported: imported,
			Failed:   failed,
		},
	})
}

// EmitDrift publishes a background drift finding.
func (h *Hub) EmitDrift(checked int, missing []string) {
	h.Publish(Event{
		Type:   EventDriftDetected,
		Source: "engine",
		Data: DriftData{
			Checked: checked,
			Missing: missing,
		},
	})
}
