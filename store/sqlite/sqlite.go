/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Keeps the dashboard's edit history across restarts: the three change
  ledgers, the pre-bulk-edit snapshots and the audit log. The forecast data
  itself stays in the upstream backend.

INTERFACES IMPLEMENTED:
  forecast.StateStore: Ledger state and snapshots
  forecast.AuditLog:   Append-only audit entries

APPEND-ONLY ENFORCEMENT:
  The audit_log table is never updated or deleted from, except by Reset.

KEY TABLES:
  ledger_state: One JSON document per ledger field (growthRate, ...)
  snapshots:    One row per variant with a pending bulk revert
  audit_log:    Every applied edit, revert and bulk operation

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases behave like a file.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/forecast.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  app := dashboard.New(dashboard.Options{State: store, Audit: store})

SEE ALSO:
  - forecast/store.go: Interface definitions
  - forecast/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/forecast-engine/forecast"
)

// Store implements forecast.StateStore and forecast.AuditLog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_state (
		field TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		variant_id TEXT PRIMARY KEY,
		forecast_json TEXT NOT NULL,
		current_week_status TEXT NOT NULL,
		taken_at TEXT NOT NULL
	);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		ts_unix INTEGER NOT NULL,
		action TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		week TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_variant
		ON audit_log(variant_id, seq);
	CREATE INDEX IF NOT EXISTS idx_audit_action
		ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_ts
		ON audit_log(ts_unix);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STATE (forecast.StateStore interface)
// =============================================================================

func (s *Store) SaveLedger(ctx context.Context, field forecast.Field, state forecast.LedgerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode %s ledger: %w", field, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_state (field, state_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(field) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at
	`, string(field), string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save %s ledger: %w", field, err)
	}
	return nil
}

// LoadLedger returns the saved state, or an empty state if none was saved.
func (s *Store) LoadLedger(ctx context.Context, field forecast.Field) (forecast.LedgerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := forecast.EmptyLedgerState()
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT state_json FROM ledger_state WHERE field = ?", string(field),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return forecast.LedgerState{}, fmt.Errorf("failed to load %s ledger: %w", field, err)
	}
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return forecast.LedgerState{}, fmt.Errorf("failed to decode %s ledger: %w", field, err)
	}
	return st, nil
}

// =============================================================================
// SNAPSHOTS (forecast.StateStore interface)
// =============================================================================

// SaveSnapshots replaces every stored snapshot atomically.
func (s *Store) SaveSnapshots(ctx context.Context, snaps []forecast.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM snapshots"); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	for _, snap := range snaps {
		data, err := json.Marshal(snap.ForecastByYear)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot %s: %w", snap.VariantID, err)
		}
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO snapshots (variant_id, forecast_json, current_week_status, taken_at)
			VALUES (?, ?, ?, ?)
		`, string(snap.VariantID), string(data), string(snap.CurrentWeekStatus), snap.TakenAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", snap.VariantID, err)
		}
	}

	return sqlTx.Commit()
}

func (s *Store) LoadSnapshots(ctx context.Context) ([]forecast.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, forecast_json, current_week_status, taken_at
		FROM snapshots
		ORDER BY variant_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []forecast.Snapshot
	for rows.Next() {
		var (
			snap    forecast.Snapshot
			id      string
			data    string
			status  string
			takenAt string
		)
		if err := rows.Scan(&id, &data, &status, &takenAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &snap.ForecastByYear); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", id, err)
		}
		snap.VariantID = forecast.VariantID(id)
		snap.CurrentWeekStatus = forecast.Status(status)
		snap.TakenAt, _ = time.Parse(time.RFC3339Nano, takenAt)
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

// =============================================================================
// AUDIT LOG (forecast.AuditLog interface)
// =============================================================================

// Append adds an audit entry.
func (s *Store) Append(ctx context.Context, entry forecast.AuditEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts_unix, action, variant_id, week, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp.UnixNano(), string(entry.Action), string(entry.VariantID),
		nullString(entry.Week), string(payload))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("audit entry %s already recorded: %w", entry.ID, err)
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching filter, oldest first.
func (s *Store) Query(ctx context.Context, filter forecast.AuditFilter) ([]forecast.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.VariantID != nil {
		where = append(where, "variant_id = ?")
		args = append(args, string(*filter.VariantID))
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.From != nil {
		where = append(where, "ts_unix >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if filter.To != nil {
		where = append(where, "ts_unix <= ?")
		args = append(args, filter.To.UnixNano())
	}

	query := "SELECT id, ts_unix, action, variant_id, week, payload_json FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []forecast.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanAuditEntry(rows *sql.Rows) (forecast.AuditEntry, error) {
	var (
		entry     forecast.AuditEntry
		ts        int64
		action    string
		variantID string
		week      sql.NullString
		payload   sql.NullString
	)

	if err := rows.Scan(&entry.ID, &ts, &action, &variantID, &week, &payload); err != nil {
		return entry, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.Timestamp = time.Unix(0, ts).UTC()
	entry.Action = forecast.AuditAction(action)
	entry.VariantID = forecast.VariantID(variantID)
	entry.Week = week.String
	if payload.Valid && payload.String != "" && payload.String != "null" {
		if err := json.Unmarshal([]byte(payload.String), &entry.Payload); err != nil {
			return entry, fmt.Errorf("failed to decode audit payload %s: %w", entry.ID, err)
		}
	}

	return entry, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Stats counts stored rows per table.
type Stats struct {
	Ledgers      int `json:"ledgers"`
	Snapshots    int `json:"snapshots"`
	AuditEntries int `json:"auditEntries"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for table, dst := range map[string]*int{
		"ledger_state": &st.Ledgers,
		"snapshots":    &st.Snapshots,
		"audit_log":    &st.AuditEntries,
	} {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_state", "snapshots", "audit_log"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
