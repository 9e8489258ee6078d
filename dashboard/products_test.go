package dashboard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/forecast-engine/forecast"
)

func loadedStore(t *testing.T, ids ...forecast.VariantID) *ProductStore {
	t.Helper()
	s := NewProductStore()
	var vs []forecast.Variant
	for _, id := range ids {
		vs = append(vs, fixtureVariant(id))
	}
	require.NoError(t, s.Apply(s.Begin(), vs, Pagination{CurrentPage: 1}, nil))
	return s
}

func TestProductStore_GetReturnsCopy(t *testing.T) {
	s := loadedStore(t, "a")

	v, ok := s.Get("a")
	require.True(t, ok)
	v.Forecast[0].Weeks[0].MinStock = 9999

	again, _ := s.Get("a")
	assert.Equal(t, 20, again.Forecast[0].Weeks[0].MinStock)
}

func TestProductStore_ApplyDedupesAndKeepsOrder(t *testing.T) {
	s := loadedStore(t, "c", "a", "c", "b")

	assert.Equal(t, []forecast.VariantID{"c", "a", "b"}, s.IDs())
	assert.Equal(t, 3, s.Len())
}

func TestProductStore_PutAppendsNew(t *testing.T) {
	s := loadedStore(t, "a")

	s.Put(fixtureVariant("z"))
	s.Put(fixtureVariant("a"))

	assert.Equal(t, []forecast.VariantID{"a", "z"}, s.IDs())
}

func TestProductStore_Selection(t *testing.T) {
	s := loadedStore(t, "a", "b", "c")

	on, err := s.Toggle("c")
	require.NoError(t, err)
	assert.True(t, on)
	_, _ = s.Toggle("a")
	assert.Equal(t, []forecast.VariantID{"a", "c"}, s.Selected(), "display order")

	on, _ = s.Toggle("a")
	assert.False(t, on)

	_, err = s.Toggle("ghost")
	assert.ErrorIs(t, err, forecast.ErrVariantNotFound)

	s.Select("b", "ghost")
	assert.Equal(t, []forecast.VariantID{"b"}, s.Selected())

	s.SelectAll()
	assert.Len(t, s.Selected(), 3)

	s.ClearSelection()
	assert.Empty(t, s.Selected())
}

func TestProductStore_ApplyPrunesSelection(t *testing.T) {
	s := loadedStore(t, "a", "b")
	s.SelectAll()

	require.NoError(t, s.Apply(s.Begin(), []forecast.Variant{fixtureVariant("b")}, Pagination{}, nil))

	assert.Equal(t, []forecast.VariantID{"b"}, s.Selected())
}

func TestSummarizeVariants(t *testing.T) {
	vs := []forecast.Variant{
		{CurrentWeekStatus: forecast.StatusGood},
		{CurrentWeekStatus: forecast.StatusWarning},
		{CurrentWeekStatus: forecast.StatusCritical},
		{CurrentWeekStatus: forecast.StatusCritical},
		{},
	}

	assert.Equal(t, InventorySummary{Total: 5, Sufficient: 2, Warning: 1, Critical: 2}, SummarizeVariants(vs))
}

func TestNotifications_BoundedAndDrained(t *testing.T) {
	now := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	n := NewNotifications(2, func() time.Time { return now })

	n.Push(LevelInfo, "one")
	n.Push(LevelError, "two")
	n.Push(LevelError, "three")

	got := n.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Message)
	assert.Equal(t, "three", got[1].Message)
	assert.Equal(t, now, got[0].CreatedAt)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, []Notification{}, n.Drain())
}

func TestVariantLocks_LockManyNoDeadlock(t *testing.T) {
	l := NewVariantLocks()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 20; i++ {
		ids := []forecast.VariantID{"a", "b", "c"}
		if i%2 == 0 {
			ids = []forecast.VariantID{"c", "b", "a", "a"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.LockMany(ids)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
	assert.Equal(t, 3, l.Len())
}

func TestDeliveryTimeOptions(t *testing.T) {
	opts := DeliveryTimeOptions()

	assert.Len(t, opts, 13)
	assert.Equal(t, 7, opts[0])
	assert.Equal(t, 91, opts[len(opts)-1])
}
