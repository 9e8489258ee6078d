package forecast

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// SNAPSHOT - Whole-variant state before a bulk edit
// =============================================================================

// Snapshot is a variant's forecast as it was before the first bulk edit that
// touched it. Bulk revert restores it in one step.
type Snapshot struct {
	VariantID         VariantID      `json:"variantId"`
	ForecastByYear    []YearForecast `json:"forecastByYear"`
	CurrentWeekStatus Status         `json:"currentWeekStatus"`
	TakenAt           time.Time      `json:"takenAt"`
}

// =============================================================================
// SNAPSHOT LEDGER
// =============================================================================

// SnapshotLedger keeps at most one snapshot per variant. The first capture
// wins, preserving the earliest known-good state across repeated bulk edits.
type SnapshotLedger struct {
	mu        sync.RWMutex
	snapshots map[VariantID]Snapshot
}

func NewSnapshotLedger() *SnapshotLedger {
	return &SnapshotLedger{snapshots: make(map[VariantID]Snapshot)}
}

// Capture stores a snapshot of v unless one already exists. It reports
// whether a new snapshot was taken.
func (s *SnapshotLedger) Capture(v Variant, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[v.VariantID]; ok {
		return false
	}
	s.snapshots[v.VariantID] = Snapshot{
		VariantID:         v.VariantID,
		ForecastByYear:    CloneForecast(v.Forecast),
		CurrentWeekStatus: v.CurrentWeekStatus,
		TakenAt:           at,
	}
	return true
}

// Get returns a copy of the variant's snapshot.
func (s *SnapshotLedger) Get(id VariantID) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if ok {
		snap.ForecastByYear = CloneForecast(snap.ForecastByYear)
	}
	return snap, ok
}

func (s *SnapshotLedger) Has(id VariantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snapshots[id]
	return ok
}

func (s *SnapshotLedger) Remove(ids ...VariantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.snapshots, id)
	}
}

// All returns every snapshot ordered by variant id.
func (s *SnapshotLedger) All() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snap.ForecastByYear = CloneForecast(snap.ForecastByYear)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}

// Restore replaces the ledger's content.
func (s *SnapshotLedger) Restore(snaps []Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[VariantID]Snapshot, len(snaps))
	for _, snap := range snaps {
		snap.ForecastByYear = CloneForecast(snap.ForecastByYear)
		s.snapshots[snap.VariantID] = snap
	}
}
