/*
store.go - Persistence interfaces for ledger state and the audit log

PURPOSE:
  Defines the boundary between the pure ledgers and durable storage. Ledger
  state must survive restarts so pending edits stay revertable across
  sessions; the audit log records who changed what and when.

KEY INTERFACES:
  StateStore: Saves and loads the three field ledgers and the snapshots
  AuditLog:   Append-only record of edits and reverts

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, used by the server
  - forecast/store/memory.go: In-memory, the default when no store is given

SEE ALSO:
  - ledger.go: Ledgers.Save / Ledgers.Load
  - dashboard/editor.go: Checkpoints ledgers after each operation
*/
package forecast

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STATE - Persisted shape of a ChangeLedger
// =============================================================================

// LedgerState is the serialized form of a ChangeLedger. The changed-week
// sets are arrays here and sets again once restored.
type LedgerState struct {
	OriginalValues map[VariantID]map[WeekKey]int `json:"originalValues"`
	ChangedWeeks   map[VariantID][]WeekKey       `json:"changedWeeks"`
}

// EmptyLedgerState is what a store returns for a ledger it has never saved.
func EmptyLedgerState() LedgerState {
	return LedgerState{
		OriginalValues: map[VariantID]map[WeekKey]int{},
		ChangedWeeks:   map[VariantID][]WeekKey{},
	}
}

// =============================================================================
// STATE STORE
// =============================================================================

type StateStore interface {
	SaveLedger(ctx context.Context, field Field, state LedgerState) error
	LoadLedger(ctx context.Context, field Field) (LedgerState, error)

	// SaveSnapshots replaces the stored snapshot set with snaps.
	SaveSnapshots(ctx context.Context, snaps []Snapshot) error
	LoadSnapshots(ctx context.Context) ([]Snapshot, error)
}

// =============================================================================
// AUDIT LOG - Append-only record of edits
// =============================================================================

type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Action    AuditAction
	VariantID VariantID
	Week      string // week key, empty for variant-wide actions
	Payload   map[string]any
}

type AuditAction string

const (
	AuditGrowthRateEdited    AuditAction = "growth_rate_edited"
	AuditExpectedSalesEdited AuditAction = "expected_sales_edited"
	AuditMinStockEdited      AuditAction = "min_stock_edited"
	AuditDeliveryTimeChanged AuditAction = "delivery_time_changed"
	AuditReorderAdded        AuditAction = "reorder_added"
	AuditReorderRemoved      AuditAction = "reorder_removed"
	AuditReorderRelabeled    AuditAction = "reorder_relabeled"
	AuditCellReverted        AuditAction = "cell_reverted"
	AuditBulkEdited          AuditAction = "bulk_edited"
	AuditBulkReverted        AuditAction = "bulk_reverted"
)

type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows a Query. Zero fields match everything; Limit <= 0
// means no limit. Results are ordered oldest first.
type AuditFilter struct {
	VariantID *VariantID
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Matches reports whether e passes the filter, ignoring Limit.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.VariantID != nil && e.VariantID != *f.VariantID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
