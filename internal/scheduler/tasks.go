package scheduler

import "time"

// Maintenance task identifiers.
const (
	TaskAuditPrune = "audit-prune"
	TaskDriftCheck = "drift-check"
)

// NewAuditPruneTask enforces the audit retention window. It runs once on
// start, so a host that was down across the boundary catches up, then
// nightly.
func NewAuditPruneTask(prune TaskFunc) *Task {
	return &Task{
		ID:         TaskAuditPrune,
		Name:       "Audit retention",
		Schedule:   Daily(3, 30),
		Func:       prune,
		RunOnStart: true,
		Timeout:    time.Minute,
	}
}

// NewDriftCheckTask polls the live chains for out-of-band edits at the
// given interval.
func NewDriftCheckTask(check TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:       TaskDriftCheck,
		Name:     "Drift detection",
		Schedule: Every(interval),
		Func:     check,
		Timeout:  time.Minute,
	}
}
