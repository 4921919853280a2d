// Package audit keeps a persistent history of policy changes and
// reconciliation runs. Entries land in the same database file as the policy
// itself so one backup captures both.
package audit

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"grimm.is/palisade/internal/clock"
	"grimm.is/palisade/internal/logging"
)

// Actors that can trigger audited operations.
const (
	ActorAPI     = "api"
	ActorCLI     = "cli"
	ActorStartup = "startup"
)

// DefaultRetentionDays is how long entries are kept by Prune.
const DefaultRetentionDays = 90

// Entry represents a single audit log record.
type Entry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`              // "rule.create", "apply", "extension.register", ...
	Entity     string    `json:"entity,omitempty"`    // "rule", "extension_chain", "ruleset"
	EntityID   string    `json:"entity_id,omitempty"` // Rule or chain id when applicable
	OK         bool      `json:"ok"`
	Detail     string    `json:"detail,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Recorder provides persistent storage for audit entries.
type Recorder struct {
	mu            sync.RWMutex
	db            *sql.DB
	log           *logging.Logger
	clock         clock.Clock
	retentionDays int
}

// NewRecorder creates a recorder on an already-open database handle.
func NewRecorder(db *sql.DB, log *logging.Logger, clk clock.Clock, retentionDays int) (*Recorder, error) {
	if log == nil {
		log = logging.Default().WithComponent("audit")
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			entity TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			ok INTEGER NOT NULL DEFAULT 1,
			detail TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
	`)
	if err != nil {
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	return &Recorder{
		db:            db,
		log:           log,
		clock:         clk,
		retentionDays: retentionDays,
	}, nil
}

// Record persists an audit entry. Failures are logged, not returned;
// auditing never blocks the operation it describes.
func (r *Recorder) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.clock.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO audit_log (timestamp, actor, action, entity, entity_id, ok, detail, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp, e.Actor, e.Action, e.Entity, e.EntityID, e.OK, e.Detail, e.DurationMs)
	if err != nil {
		r.log.Warn("failed to write audit entry", "action", e.Action, "error", err)
	}
}

// Filter narrows Query results. Zero values are ignored.
type Filter struct {
	Since  time.Time
	Until  time.Time
	Actor  string
	Action string
	Limit  int
}

// Query returns audit entries matching the filter, newest first.
func (r *Recorder) Query(f Filter) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := `SELECT id, timestamp, actor, action, entity, entity_id, ok, detail, duration_ms
		FROM audit_log WHERE 1=1`
	var args []any

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Until)
	}
	if f.Actor != "" {
		query += " AND actor = ?"
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}

	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Entity, &e.EntityID, &e.OK, &e.Detail, &e.DurationMs)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Prune removes entries older than the retention period.
func (r *Recorder) Prune() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().AddDate(0, 0, -r.retentionDays)
	result, err := r.db.Exec("DELETE FROM audit_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}

	return result.RowsAffected()
}

// Count returns the total number of entries.
func (r *Recorder) Count() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	err := r.db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count)
	return count, err
}
