package dashboard

import (
	"encoding/json"
	"sync"

	"github.com/warp/forecast-engine/forecast"
)

// =============================================================================
// PAGINATION AND SUMMARY
// =============================================================================

type Pagination struct {
	TotalPages         int  `json:"totalPages"`
	CurrentPage        int  `json:"currentPage"`
	HasNextForThisPage bool `json:"hasNextForThisPage"`
	CurrentBatch       int  `json:"currentBatch"`
	CurrentBatchSize   int  `json:"currentBatchSize"`
}

// InventorySummary counts variants per stock status. The upstream API names
// the warning bucket "low" in some responses; both spellings decode.
type InventorySummary struct {
	Total      int `json:"total"`
	Sufficient int `json:"sufficient"`
	Warning    int `json:"warning"`
	Critical   int `json:"critical"`
}

func (s *InventorySummary) UnmarshalJSON(b []byte) error {
	var raw struct {
		Total      int  `json:"total"`
		Sufficient int  `json:"sufficient"`
		Warning    *int `json:"warning"`
		Low        *int `json:"low"`
		Critical   int  `json:"critical"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = InventorySummary{Total: raw.Total, Sufficient: raw.Sufficient, Critical: raw.Critical}
	switch {
	case raw.Warning != nil:
		s.Warning = *raw.Warning
	case raw.Low != nil:
		s.Warning = *raw.Low
	}
	return nil
}

// SummarizeVariants recomputes the summary from currentWeekStatus.
func SummarizeVariants(variants []forecast.Variant) InventorySummary {
	var s InventorySummary
	for _, v := range variants {
		s.Total++
		switch v.CurrentWeekStatus {
		case forecast.StatusCritical:
			s.Critical++
		case forecast.StatusWarning:
			s.Warning++
		default:
			s.Sufficient++
		}
	}
	return s
}

// =============================================================================
// PRODUCT STORE - The canonical live forecast
// =============================================================================

// ProductStore holds every fetched variant in display order plus selection
// state. It is mutated only by fetch completion (Apply), by edits writing
// back engine output (Put) and by reverts (Put).
//
// Reads and writes hand out copies; callers never share slices with the
// store.
type ProductStore struct {
	mu         sync.RWMutex
	order      []forecast.VariantID
	variants   map[forecast.VariantID]forecast.Variant
	pagination Pagination
	summary    *InventorySummary
	selected   map[forecast.VariantID]bool
	generation uint64
}

func NewProductStore() *ProductStore {
	return &ProductStore{
		variants: make(map[forecast.VariantID]forecast.Variant),
		selected: make(map[forecast.VariantID]bool),
	}
}

// Get returns a copy of the variant.
func (s *ProductStore) Get(id forecast.VariantID) (forecast.Variant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return forecast.Variant{}, false
	}
	return v.Clone(), true
}

// Put replaces a variant in place, or appends it when it is new.
func (s *ProductStore) Put(v forecast.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variants[v.VariantID]; !ok {
		s.order = append(s.order, v.VariantID)
	}
	s.variants[v.VariantID] = v.Clone()
}

// List returns all variants in display order.
func (s *ProductStore) List() []forecast.Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]forecast.Variant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.variants[id].Clone())
	}
	return out
}

func (s *ProductStore) IDs() []forecast.VariantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]forecast.VariantID{}, s.order...)
}

func (s *ProductStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *ProductStore) Pagination() Pagination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pagination
}

// Summary returns the upstream inventory summary when one was fetched and a
// local recomputation otherwise.
func (s *ProductStore) Summary() InventorySummary {
	s.mu.RLock()
	if s.summary != nil {
		sum := *s.summary
		s.mu.RUnlock()
		return sum
	}
	s.mu.RUnlock()
	return s.LocalSummary()
}

// LocalSummary recomputes the summary from the live variants.
func (s *ProductStore) LocalSummary() InventorySummary {
	return SummarizeVariants(s.List())
}

// SetSummary stores an upstream summary outside of a fetch.
func (s *ProductStore) SetSummary(sum InventorySummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &sum
}

// =============================================================================
// FETCH GENERATIONS
// =============================================================================

// Begin starts a new fetch generation. Results tagged with an older
// generation are refused by Apply.
func (s *ProductStore) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

func (s *ProductStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Apply replaces the store content with a fetch result. A nil summary keeps
// the previous one. Selection is pruned to variants still present.
func (s *ProductStore) Apply(gen uint64, variants []forecast.Variant, page Pagination, summary *InventorySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return &forecast.StaleFetchError{Generation: gen, Current: s.generation}
	}

	s.order = make([]forecast.VariantID, 0, len(variants))
	s.variants = make(map[forecast.VariantID]forecast.Variant, len(variants))
	for _, v := range variants {
		if _, dup := s.variants[v.VariantID]; !dup {
			s.order = append(s.order, v.VariantID)
		}
		s.variants[v.VariantID] = v.Clone()
	}
	s.pagination = page
	if summary != nil {
		sum := *summary
		s.summary = &sum
	}
	for id := range s.selected {
		if _, ok := s.variants[id]; !ok {
			delete(s.selected, id)
		}
	}
	return nil
}

// =============================================================================
// SELECTION
// =============================================================================

// Toggle flips a variant's selection and reports the new state.
func (s *ProductStore) Toggle(id forecast.VariantID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variants[id]; !ok {
		return false, forecast.ErrVariantNotFound
	}
	if s.selected[id] {
		delete(s.selected, id)
		return false, nil
	}
	s.selected[id] = true
	return true, nil
}

// Select replaces the selection. Unknown ids are ignored.
func (s *ProductStore) Select(ids ...forecast.VariantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[forecast.VariantID]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.variants[id]; ok {
			s.selected[id] = true
		}
	}
}

func (s *ProductStore) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		s.selected[id] = true
	}
}

func (s *ProductStore) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[forecast.VariantID]bool)
}

// Selected returns the selected ids in display order.
func (s *ProductStore) Selected() []forecast.VariantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]forecast.VariantID, 0, len(s.selected))
	for _, id := range s.order {
		if s.selected[id] {
			out = append(out, id)
		}
	}
	return out
}
