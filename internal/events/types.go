// Package events provides the pub/sub event bus for palisade. Policy
// changes, reconciliation results and extension activity flow through the
// hub; the API layer forwards them to WebSocket clients.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Rule lifecycle events
	EventRuleCreated   EventType = "rule.created"
	EventRuleUpdated   EventType = "rule.updated"
	EventRuleDeleted   EventType = "rule.deleted"
	EventRuleReordered EventType = "rule.reordered"

	// Reconciliation events
	EventApplyCompleted EventType = "apply.completed"
	EventRulesSaved     EventType = "rules.saved"
	EventRulesImported  EventType = "rules.imported"
	EventDriftDetected  EventType = "drift.detected"

	// Chain topology events
	EventChainsRebuilt EventType = "chains.rebuilt"

	// Extension lifecycle events
	EventExtensionRegistered   EventType = "extension.registered"
	EventExtensionUnregistered EventType = "extension.unregistered"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"` // Component that emitted: "engine", "extensions", "api"
	Data      interface{} `json:"data"`   // Type-specific payload
}

// RuleData is the payload for rule lifecycle events.
type RuleData struct {
	ID       string `json:"id"`
	Table    string `json:"table"`
	Chain    string `json:"chain"`
	Action   string `json:"action"`
	Position int    `json:"position"`
}

// ReorderData is the payload for EventRuleReordered.
type ReorderData struct {
	Table string `json:"table"`
	Chain string `json:"chain"`
	Count int    `json:"count"`
}

// ApplyData is the payload for EventApplyCompleted.
type ApplyData struct {
	OK         bool   `json:"ok"`
	RuleCount  int    `json:"rule_count"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
	Trigger    string `json:"trigger,omitempty"` // "create", "update", "delete", "reorder", "import", "manual", "startup"
}

// ChainsRebuiltData is the payload for EventChainsRebuilt.
type ChainsRebuiltData struct {
	Table  string   `json:"table"`
	Parent string   `json:"parent"`
	Jumps  []string `json:"jumps"`
}

// ExtensionData is the payload for extension lifecycle events.
type ExtensionData struct {
	ExtensionID string   `json:"extension_id"`
	Chains      []string `json:"chains,omitempty"`
}

// ImportData is the payload for EventRulesImported.
type ImportData struct {
	Mode     string `json:"mode"` // "append" or "replace"
	Imported int    `json:"imported"`
	Failed   int    `json:"failed"`
}

// DriftData is the payload for EventDriftDetected.
type DriftData struct {
	Checked int      `json:"checked_chains"`
	Missing []string `json:"missing_chains,omitempty"`
}
