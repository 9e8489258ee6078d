// Package store provides in-memory StateStore and AuditLog implementations.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/warp/forecast-engine/forecast"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps ledger state as encoded JSON, so tests exercise the same
// array/set conversion the durable store goes through.
type Memory struct {
	mu        sync.RWMutex
	ledgers   map[forecast.Field][]byte
	snapshots []byte
	audit     []forecast.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{ledgers: make(map[forecast.Field][]byte)}
}

func (m *Memory) SaveLedger(_ context.Context, field forecast.Field, state forecast.LedgerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[field] = data
	return nil
}

func (m *Memory) LoadLedger(_ context.Context, field forecast.Field) (forecast.LedgerState, error) {
	m.mu.RLock()
	data, ok := m.ledgers[field]
	m.mu.RUnlock()

	st := forecast.EmptyLedgerState()
	if !ok {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return forecast.LedgerState{}, err
	}
	return st, nil
}

func (m *Memory) SaveSnapshots(_ context.Context, snaps []forecast.Snapshot) error {
	data, err := json.Marshal(snaps)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = data
	return nil
}

func (m *Memory) LoadSnapshots(_ context.Context) ([]forecast.Snapshot, error) {
	m.mu.RLock()
	data := m.snapshots
	m.mu.RUnlock()

	if data == nil {
		return nil, nil
	}
	var snaps []forecast.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Append adds an audit entry. Append-only.
func (m *Memory) Append(_ context.Context, entry forecast.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) Query(_ context.Context, filter forecast.AuditFilter) ([]forecast.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []forecast.AuditEntry
	for _, e := range m.audit {
		if !filter.Matches(e) {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}
