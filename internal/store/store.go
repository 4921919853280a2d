// Package store persists firewall policy in SQLite. It holds the rule set
// and registered extension chains; the reconciliation engine treats its
// contents as the single source of truth for what the packet filter should
// look like.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/policy"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateChain is returned when an extension chain name is
	// already registered in the same table.
	ErrDuplicateChain = errors.New("extension chain name already in use")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
)

const ruleColumns = `id, table_name, chain, action, protocol, source, destination, port,
	in_interface, out_interface, state, limit_rate, limit_burst,
	to_destination, to_source, to_ports, log_prefix, log_level, reject_with,
	comment, position, enabled, created_at, updated_at`

const chainColumns = `id, extension_id, chain_name, parent_chain, table_name, priority, created_at`

// Store provides persistent storage for rules and extension chains.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	log    *logging.Logger
	closed bool
}

// New opens (or creates) the policy database at path. ":memory:" gives an
// ephemeral store for tests.
func New(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Default().WithComponent("store")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open policy db: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect policy db: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// initSchema creates the database tables.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			chain TEXT NOT NULL,
			action TEXT NOT NULL,
			protocol TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			destination TEXT NOT NULL DEFAULT '',
			port TEXT NOT NULL DEFAULT '',
			in_interface TEXT NOT NULL DEFAULT '',
			out_interface TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			limit_rate TEXT NOT NULL DEFAULT '',
			limit_burst INTEGER NOT NULL DEFAULT 0,
			to_destination TEXT NOT NULL DEFAULT '',
			to_source TEXT NOT NULL DEFAULT '',
			to_ports TEXT NOT NULL DEFAULT '',
			log_prefix TEXT NOT NULL DEFAULT '',
			log_level TEXT NOT NULL DEFAULT '',
			reject_with TEXT NOT NULL DEFAULT '',
			comment TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS extension_chains (
			id TEXT PRIMARY KEY,
			extension_id TEXT NOT NULL,
			chain_name TEXT NOT NULL UNIQUE,
			parent_chain TEXT NOT NULL,
			table_name TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 50,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rules_group ON rules(table_name, chain, position);
		CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);
		CREATE INDEX IF NOT EXISTS idx_ext_chains_ext ON extension_chains(extension_id);
		CREATE INDEX IF NOT EXISTS idx_ext_chains_parent ON extension_chains(table_name, parent_chain, priority);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// DB exposes the underlying handle so sibling packages can keep their own
// tables in the same database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Ping()
}

func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func scanRule(row rowScanner) (*policy.Rule, error) {
	var r policy.Rule
	err := row.Scan(
		&r.ID, &r.Table, &r.Chain, &r.Action, &r.Protocol, &r.Source, &r.Destination, &r.Port,
		&r.InInterface, &r.OutInterface, &r.State, &r.LimitRate, &r.LimitBurst,
		&r.ToDestination, &r.ToSource, &r.ToPorts, &r.LogPrefix, &r.LogLevel, &r.RejectWith,
		&r.Comment, &r.Order, &r.Enabled, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRules(rows *sql.Rows) ([]policy.Rule, error) {
	defer rows.Close()

	var rules []policy.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func insertRule(db execer, r *policy.Rule) error {
	_, err := db.Exec(`
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Table, r.Chain, r.Action, r.Protocol, r.Source, r.Destination, r.Port,
		r.InInterface, r.OutInterface, r.State, r.LimitRate, r.LimitBurst,
		r.ToDestination, r.ToSource, r.ToPorts, r.LogPrefix, r.LogLevel, r.RejectWith,
		r.Comment, r.Order, r.Enabled, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// CreateRule inserts a new rule.
func (s *Store) CreateRule(r *policy.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := insertRule(s.db, r); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// InsertRules inserts a batch of rules in one transaction.
func (s *Store) InsertRules(rules []policy.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.withTx(func(tx *sql.Tx) error {
		for i := range rules {
			if err := insertRule(tx, &rules[i]); err != nil {
				return fmt.Errorf("insert rule %s: %w", rules[i].ID, err)
			}
		}
		return nil
	})
}

// ReplaceAllRules wipes the rule set and inserts the given rules in one
// transaction.
func (s *Store) ReplaceAllRules(rules []policy.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM rules"); err != nil {
			return fmt.Errorf("clear rules: %w", err)
		}
		for i := range rules {
			if err := insertRule(tx, &rules[i]); err != nil {
				return fmt.Errorf("insert rule %s: %w", rules[i].ID, err)
			}
		}
		return nil
	})
}

// GetRule returns the rule with the given id, or ErrNotFound.
func (s *Store) GetRule(id string) (*policy.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow("SELECT "+ruleColumns+" FROM rules WHERE id = ?", id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// ListRules returns every rule ordered by table, chain and position.
func (s *Store) ListRules() ([]policy.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT " + ruleColumns + " FROM rules ORDER BY table_name, chain, position, created_at")
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return collectRules(rows)
}

// ListGroup returns the rules of one table/chain group ordered by position.
func (s *Store) ListGroup(table, chain string) ([]policy.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(
		"SELECT "+ruleColumns+" FROM rules WHERE table_name = ? AND chain = ? ORDER BY position, created_at",
		table, chain,
	)
	if err != nil {
		return nil, fmt.Errorf("list group: %w", err)
	}
	return collectRules(rows)
}

// ListEnabled returns every enabled rule in replay order.
func (s *Store) ListEnabled() ([]policy.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT " + ruleColumns + " FROM rules WHERE enabled = 1 ORDER BY table_name, chain, position, created_at")
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	return collectRules(rows)
}

// UpdateRule overwrites the stored rule with the same id.
func (s *Store) UpdateRule(r *policy.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	result, err := s.db.Exec(`
		UPDATE rules SET
			table_name = ?, chain = ?, action = ?, protocol = ?, source = ?, destination = ?, port = ?,
			in_interface = ?, out_interface = ?, state = ?, limit_rate = ?, limit_burst = ?,
			to_destination = ?, to_source = ?, to_ports = ?, log_prefix = ?, log_level = ?, reject_with = ?,
			comment = ?, position = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`,
		r.Table, r.Chain, r.Action, r.Protocol, r.Source, r.Destination, r.Port,
		r.InInterface, r.OutInterface, r.State, r.LimitRate, r.LimitBurst,
		r.ToDestination, r.ToSource, r.ToPorts, r.LogPrefix, r.LogLevel, r.RejectWith,
		r.Comment, r.Order, r.Enabled, r.UpdatedAt,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes the rule with the given id.
func (s *Store) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	result, err := s.db.Exec("DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxPosition returns the highest position in a table/chain group, or -1
// when the group is empty.
func (s *Store) MaxPosition(table, chain string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var max int
	err := s.db.QueryRow(
		"SELECT COALESCE(MAX(position), -1) FROM rules WHERE table_name = ? AND chain = ?",
		table, chain,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max position: %w", err)
	}
	return max, nil
}

// UpdatePositions applies a batch of position assignments in one
// transaction. Every referenced rule must exist.
func (s *Store) UpdatePositions(assignments []policy.OrderAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.withTx(func(tx *sql.Tx) error {
		for _, a := range assignments {
			result, err := tx.Exec("UPDATE rules SET position = ? WHERE id = ?", a.Order, a.ID)
			if err != nil {
				return fmt.Errorf("set position for %s: %w", a.ID, err)
			}
			rows, _ := result.RowsAffected()
			if rows == 0 {
				return fmt.Errorf("rule %s: %w", a.ID, ErrNotFound)
			}
		}
		return nil
	})
}

// CountRules returns the total number of stored rules.
func (s *Store) CountRules() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM rules").Scan(&count)
	return count, err
}

// CountExtensionChains returns the number of registered extension
// chains.
func (s *Store) CountExtensionChains() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM extension_chains").Scan(&count)
	return count, err
}

// CountRulesByTable returns per-table rule counts.
func (s *Store) CountRulesByTable() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT table_name, COUNT(*) FROM rules GROUP BY table_name")
	if err != nil {
		return nil, fmt.Errorf("count by table: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var table string
		var n int
		if err := rows.Scan(&table, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[table] = n
	}
	return counts, rows.Err()
}

func scanChain(row rowScanner) (*policy.ExtensionChain, error) {
	var ec policy.ExtensionChain
	err := row.Scan(&ec.ID, &ec.ExtensionID, &ec.ChainName, &ec.ParentChain, &ec.Table, &ec.Priority, &ec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ec, nil
}

func collectChains(rows *sql.Rows) ([]policy.ExtensionChain, error) {
	defer rows.Close()

	var chains []policy.ExtensionChain
	for rows.Next() {
		ec, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan extension chain: %w", err)
		}
		chains = append(chains, *ec)
	}
	return chains, rows.Err()
}

// CreateExtensionChain registers an extension chain. Chain names are
// globally unique; they become real chains on the system.
func (s *Store) CreateExtensionChain(ec *policy.ExtensionChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO extension_chains (`+chainColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ec.ID, ec.ExtensionID, ec.ChainName, ec.ParentChain, ec.Table, ec.Priority, ec.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%s: %w", ec.ChainName, ErrDuplicateChain)
		}
		return fmt.Errorf("insert extension chain: %w", err)
	}
	return nil
}

// UpdateExtensionChain overwrites the parent, table, priority and owner of
// an existing registration.
func (s *Store) UpdateExtensionChain(ec *policy.ExtensionChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	result, err := s.db.Exec(`
		UPDATE extension_chains SET extension_id = ?, parent_chain = ?, table_name = ?, priority = ?
		WHERE id = ?
	`, ec.ExtensionID, ec.ParentChain, ec.Table, ec.Priority, ec.ID)
	if err != nil {
		return fmt.Errorf("update extension chain: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExtensionChainByName returns the registration with the given chain
// name.
func (s *Store) GetExtensionChainByName(name string) (*policy.ExtensionChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow("SELECT "+chainColumns+" FROM extension_chains WHERE chain_name = ?", name)
	ec, err := scanChain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get extension chain by name: %w", err)
	}
	return ec, nil
}

// GetExtensionChain returns the registration with the given id.
func (s *Store) GetExtensionChain(id string) (*policy.ExtensionChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow("SELECT "+chainColumns+" FROM extension_chains WHERE id = ?", id)
	ec, err := scanChain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get extension chain: %w", err)
	}
	return ec, nil
}

// ListExtensionChains returns every registered extension chain.
func (s *Store) ListExtensionChains() ([]policy.ExtensionChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT " + chainColumns + " FROM extension_chains ORDER BY table_name, parent_chain, priority, chain_name")
	if err != nil {
		return nil, fmt.Errorf("list extension chains: %w", err)
	}
	return collectChains(rows)
}

// ListExtensionChainsFor returns the chains hooked into one parent chain,
// in jump order: ascending priority, name as tie-break.
func (s *Store) ListExtensionChainsFor(table, parent string) ([]policy.ExtensionChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(
		"SELECT "+chainColumns+" FROM extension_chains WHERE table_name = ? AND parent_chain = ? ORDER BY priority, chain_name",
		table, parent,
	)
	if err != nil {
		return nil, fmt.Errorf("list extension chains for %s/%s: %w", table, parent, err)
	}
	return collectChains(rows)
}

// ListExtensionChainsByExtension returns every chain registered by one
// extension.
func (s *Store) ListExtensionChainsByExtension(extensionID string) ([]policy.ExtensionChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(
		"SELECT "+chainColumns+" FROM extension_chains WHERE extension_id = ? ORDER BY table_name, priority, chain_name",
		extensionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list extension chains by extension: %w", err)
	}
	return collectChains(rows)
}

// DeleteExtensionChain removes one registration.
func (s *Store) DeleteExtensionChain(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	result, err := s.db.Exec("DELETE FROM extension_chains WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete extension chain: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateChainPriorities applies a batch of priority assignments in one
// transaction.
func (s *Store) UpdateChainPriorities(assignments []policy.PriorityAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.withTx(func(tx *sql.Tx) error {
		for _, a := range assignments {
			result, err := tx.Exec("UPDATE extension_chains SET priority = ? WHERE id = ?", a.Priority, a.ID)
			if err != nil {
				return fmt.Errorf("set priority for %s: %w", a.ID, err)
			}
			rows, _ := result.RowsAffected()
			if rows == 0 {
				return fmt.Errorf("extension chain %s: %w", a.ID, ErrNotFound)
			}
		}
		return nil
	})
}
