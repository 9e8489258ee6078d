package dashboard

import (
	"sort"
	"sync"

	"github.com/warp/forecast-engine/forecast"
)

// VariantLocks hands out one mutex per variant. Edits to the same variant
// are serialized in arrival order; edits to different variants run in
// parallel. Replacing the whole store (Exclusive) waits for every edit in
// flight and holds new ones back until it is done, so an edit never writes
// a variant it read from an older fetch generation.
type VariantLocks struct {
	store sync.RWMutex
	mu    sync.Mutex
	locks map[forecast.VariantID]*sync.Mutex
}

func NewVariantLocks() *VariantLocks {
	return &VariantLocks{locks: make(map[forecast.VariantID]*sync.Mutex)}
}

func (l *VariantLocks) get(id forecast.VariantID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// Lock acquires the variant's lock and returns its release func.
func (l *VariantLocks) Lock(id forecast.VariantID) func() {
	l.store.RLock()
	m := l.get(id)
	m.Lock()
	return func() {
		m.Unlock()
		l.store.RUnlock()
	}
}

// LockMany acquires several variant locks in id order, so two bulk
// operations over overlapping sets cannot deadlock.
func (l *VariantLocks) LockMany(ids []forecast.VariantID) func() {
	sorted := dedupe(ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	l.store.RLock()
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		m := l.get(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
		l.store.RUnlock()
	}
}

// Exclusive blocks until no variant lock is held and keeps new ones from
// being taken until the returned func is called. Must not be called while
// holding a variant lock.
func (l *VariantLocks) Exclusive() func() {
	l.store.Lock()
	return l.store.Unlock
}

func (l *VariantLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func dedupe(ids []forecast.VariantID) []forecast.VariantID {
	seen := make(map[forecast.VariantID]bool, len(ids))
	out := make([]forecast.VariantID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
