/*
ledger.go - Per-field change ledgers

PURPOSE:
  A ChangeLedger remembers the value a forecast cell had before the first
  pending edit, so the edit can be reverted later. There is one ledger per
  editable field: growth rate, expected sales and minimum stock.

CRITICAL INVARIANTS:
  1. FIRST WRITE WINS: the original is captured once; later edits to the
     same cell keep the earliest value.
  2. ENTRY IFF CHANGED: a cell has an original value exactly when it is
     marked changed. The changed set is derived from the entries, so the
     two can never drift apart in memory.
  3. ROUND TRIP IS CLEAN: editing a cell back to its original value removes
     the entry instead of leaving a dirty marker behind.

NOT AN ENGINE INPUT:
  Ledgers never read projection results. The orchestration layer writes to
  them with the values it is about to overwrite.

PERSISTED SHAPE:
  {"originalValues": {"<variantId>": {"2025-12": 0}},
   "changedWeeks":   {"<variantId>": ["2025-12"]}}
  Sets become sorted arrays at the serialization boundary only.

SEE ALSO:
  - snapshot.go: Whole-variant snapshots used by bulk revert
  - store.go: StateStore persists LedgerState
  - dashboard/revert.go: Consumes the ledgers
*/
package forecast

import (
	"context"
	"sort"
	"sync"
)

// Field names an editable forecast field.
type Field string

const (
	FieldGrowthRate    Field = "growthRate"
	FieldExpectedSales Field = "expectedSales"
	FieldMinStock      Field = "minStock"

	// Not ledger-tracked; used to label edits and errors.
	FieldDeliveryTime Field = "deliveryTime"
	FieldReorders     Field = "reorders"
)

// Fields lists the ledger-tracked fields.
var Fields = []Field{FieldGrowthRate, FieldExpectedSales, FieldMinStock}

func (f Field) Valid() bool {
	return f == FieldGrowthRate || f == FieldExpectedSales || f == FieldMinStock
}

// =============================================================================
// CHANGE LEDGER
// =============================================================================

type ChangeLedger struct {
	Field Field

	mu        sync.RWMutex
	originals map[VariantID]map[WeekKey]int
}

func NewChangeLedger(field Field) *ChangeLedger {
	return &ChangeLedger{
		Field:     field,
		originals: make(map[VariantID]map[WeekKey]int),
	}
}

// Track records that a cell goes from current to next. It returns true when
// the cell is left marked as changed.
func (l *ChangeLedger) Track(id VariantID, key WeekKey, current, next int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	original, ok := l.originals[id][key]
	if !ok {
		original = current
	}
	if next == original {
		l.forgetLocked(id, key)
		return false
	}
	if l.originals[id] == nil {
		l.originals[id] = make(map[WeekKey]int)
	}
	l.originals[id][key] = original
	return true
}

// Original returns the pre-edit value of a cell.
func (l *ChangeLedger) Original(id VariantID, key WeekKey) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.originals[id][key]
	return v, ok
}

func (l *ChangeLedger) IsChanged(id VariantID, key WeekKey) bool {
	_, ok := l.Original(id, key)
	return ok
}

// Forget drops a cell's entry and its changed marker.
func (l *ChangeLedger) Forget(id VariantID, key WeekKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forgetLocked(id, key)
}

func (l *ChangeLedger) forgetLocked(id VariantID, key WeekKey) {
	weeks, ok := l.originals[id]
	if !ok {
		return
	}
	delete(weeks, key)
	if len(weeks) == 0 {
		delete(l.originals, id)
	}
}

// ForgetVariants drops every entry of the given variants.
func (l *ChangeLedger) ForgetVariants(ids ...VariantID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		delete(l.originals, id)
	}
}

// ChangedWeeks returns the changed cells of a variant in chronological order.
func (l *ChangeLedger) ChangedWeeks(id VariantID) []WeekKey {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedKeys(l.originals[id])
}

// Originals returns a copy of a variant's entries.
func (l *ChangeLedger) Originals(id VariantID) map[WeekKey]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[WeekKey]int, len(l.originals[id]))
	for k, v := range l.originals[id] {
		out[k] = v
	}
	return out
}

// State exports the ledger in its persisted shape.
func (l *ChangeLedger) State() LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := LedgerState{
		OriginalValues: make(map[VariantID]map[WeekKey]int, len(l.originals)),
		ChangedWeeks:   make(map[VariantID][]WeekKey, len(l.originals)),
	}
	for id, weeks := range l.originals {
		copied := make(map[WeekKey]int, len(weeks))
		for k, v := range weeks {
			copied[k] = v
		}
		st.OriginalValues[id] = copied
		st.ChangedWeeks[id] = sortedKeys(weeks)
	}
	return st
}

// Restore replaces the ledger's content with st. Entries without a changed
// marker and markers without an entry are dropped, so a state written by an
// older client cannot break the entry-iff-changed invariant. It returns the
// number of dropped keys.
func (l *ChangeLedger) Restore(st LedgerState) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	l.originals = make(map[VariantID]map[WeekKey]int)
	for id, weeks := range st.OriginalValues {
		marked := make(map[WeekKey]bool, len(st.ChangedWeeks[id]))
		for _, k := range st.ChangedWeeks[id] {
			marked[k] = true
		}
		for k, v := range weeks {
			if !marked[k] {
				dropped++
				continue
			}
			delete(marked, k)
			if l.originals[id] == nil {
				l.originals[id] = make(map[WeekKey]int)
			}
			l.originals[id][k] = v
		}
		dropped += len(marked)
	}
	for id, keys := range st.ChangedWeeks {
		if _, ok := st.OriginalValues[id]; !ok {
			dropped += len(keys)
		}
	}
	return dropped
}

func sortedKeys(weeks map[WeekKey]int) []WeekKey {
	keys := make([]WeekKey, 0, len(weeks))
	for k := range weeks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// =============================================================================
// LEDGER SET - The three field ledgers plus bulk snapshots
// =============================================================================

type Ledgers struct {
	GrowthRate    *ChangeLedger
	ExpectedSales *ChangeLedger
	MinStock      *ChangeLedger
	Snapshots     *SnapshotLedger
}

func NewLedgers() *Ledgers {
	return &Ledgers{
		GrowthRate:    NewChangeLedger(FieldGrowthRate),
		ExpectedSales: NewChangeLedger(FieldExpectedSales),
		MinStock:      NewChangeLedger(FieldMinStock),
		Snapshots:     NewSnapshotLedger(),
	}
}

// For returns the ledger tracking field, or nil.
func (l *Ledgers) For(field Field) *ChangeLedger {
	switch field {
	case FieldGrowthRate:
		return l.GrowthRate
	case FieldExpectedSales:
		return l.ExpectedSales
	case FieldMinStock:
		return l.MinStock
	}
	return nil
}

// ForgetVariants clears all three field ledgers for the variants. Snapshots
// are left alone.
func (l *Ledgers) ForgetVariants(ids ...VariantID) {
	l.GrowthRate.ForgetVariants(ids...)
	l.ExpectedSales.ForgetVariants(ids...)
	l.MinStock.ForgetVariants(ids...)
}

// Save writes every ledger and the snapshots to store.
func (l *Ledgers) Save(ctx context.Context, store StateStore) error {
	for _, f := range Fields {
		if err := store.SaveLedger(ctx, f, l.For(f).State()); err != nil {
			return err
		}
	}
	return store.SaveSnapshots(ctx, l.Snapshots.All())
}

// Load replaces the in-memory ledgers with what store holds. It returns the
// number of inconsistent keys dropped while restoring.
func (l *Ledgers) Load(ctx context.Context, store StateStore) (int, error) {
	dropped := 0
	for _, f := range Fields {
		st, err := store.LoadLedger(ctx, f)
		if err != nil {
			return dropped, err
		}
		dropped += l.For(f).Restore(st)
	}
	snaps, err := store.LoadSnapshots(ctx)
	if err != nil {
		return dropped, err
	}
	l.Snapshots.Restore(snaps)
	return dropped, nil
}
