package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/forecast-engine/forecast"
	"github.com/warp/forecast-engine/forecast/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// Wednesday of 2025 week 11.
var testToday = time.Date(2025, time.March, 12, 10, 0, 0, 0, time.UTC)

var (
	w10 = forecast.WeekKey{Year: 2025, Week: 10}
	w11 = forecast.WeekKey{Year: 2025, Week: 11}
	w12 = forecast.WeekKey{Year: 2025, Week: 12}
	w13 = forecast.WeekKey{Year: 2025, Week: 13}
)

// recordingPersister records pushes and fails while failing is set.
type recordingPersister struct {
	mu      sync.Mutex
	single  []Payload
	bulk    [][]Payload
	failing bool
}

func (p *recordingPersister) UpsertForecast(_ context.Context, pl Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("backend unavailable")
	}
	p.single = append(p.single, pl)
	return nil
}

func (p *recordingPersister) UpdateBulk(_ context.Context, ps []Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("backend unavailable")
	}
	p.bulk = append(p.bulk, ps)
	return nil
}

func (p *recordingPersister) setFailing(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = v
}

func (p *recordingPersister) singles() []Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Payload{}, p.single...)
}

func (p *recordingPersister) bulks() [][]Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]Payload{}, p.bulk...)
}

// fixtureVariant: inventory 150, last year's sales 100 for weeks 10-14,
// minStock 20. Week 10 is in the past.
func fixtureVariant(id forecast.VariantID) forecast.Variant {
	return forecast.Variant{
		VariantID:         id,
		InventoryQuantity: 150,
		DeliveryTime:      7,
		Sales: []forecast.YearSales{{
			Year: 2024,
			Weeks: []forecast.WeekSales{
				{Week: 10, Sales: 100}, {Week: 11, Sales: 100}, {Week: 12, Sales: 100},
				{Week: 13, Sales: 100}, {Week: 14, Sales: 100},
			},
		}},
		Forecast: []forecast.YearForecast{{
			Year: 2025,
			Weeks: []forecast.WeekForecast{
				{Week: 10, MinStock: 20, Inventory: 999, CalculatedStock: 999, Status: forecast.StatusGood},
				{Week: 11, MinStock: 20},
				{Week: 12, MinStock: 20},
				{Week: 13, MinStock: 20},
			},
		}},
	}
}

type fixture struct {
	app   *App
	push  *recordingPersister
	state *store.Memory
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, variants ...forecast.Variant) *fixture {
	t.Helper()
	engine := forecast.NewEngine(func() time.Time { return testToday })
	engine.Strict = true

	f := &fixture{push: &recordingPersister{}, state: store.NewMemory(), reg: prometheus.NewRegistry()}
	f.app = New(Options{
		Engine:    engine,
		Persister: f.push,
		State:     f.state,
		Audit:     f.state,
		Registry:  f.reg,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(f.app.Close)

	if len(variants) == 0 {
		variants = []forecast.Variant{fixtureVariant("v-1")}
	}
	f.app.Load(variants)
	return f
}

func (f *fixture) cell(t *testing.T, id forecast.VariantID, key forecast.WeekKey) forecast.WeekForecast {
	t.Helper()
	v, err := f.app.Variant(id)
	require.NoError(t, err)
	c := v.Week(key)
	require.NotNil(t, c)
	return *c
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestLoad_ProjectsBaseline(t *testing.T) {
	f := newFixture(t)

	c := f.cell(t, "v-1", w11)
	assert.Equal(t, 100, c.ExpectedSales)
	assert.Equal(t, 50, c.Inventory)
	assert.Equal(t, forecast.StatusGood, c.Status)
}

func TestEditGrowthRate_RecomputesForwardWindow(t *testing.T) {
	f := newFixture(t)

	out, err := f.app.EditGrowthRate(context.Background(), "v-1", w11, 10)
	require.NoError(t, err)

	assert.Equal(t, 110, out.Week(w11).ExpectedSales)
	assert.Equal(t, 40, out.Week(w11).Inventory)
	assert.Equal(t, forecast.StatusGood, out.Week(w11).Status)
	assert.Equal(t, 0, f.cell(t, "v-1", w12).Inventory)

	orig, ok := f.app.Ledgers.GrowthRate.Original("v-1", w11)
	require.True(t, ok)
	assert.Equal(t, 0, orig)
	assert.False(t, f.app.Ledgers.ExpectedSales.IsChanged("v-1", w11))
}

func TestEditExpectedSales_BackDerivesGrowthRate(t *testing.T) {
	f := newFixture(t)

	// WHEN: the user types 200 with last year at 100
	out, err := f.app.EditExpectedSales(context.Background(), "v-1", w11, 200)
	require.NoError(t, err)

	// THEN: growth 100, inventory 0, critical
	c := out.Week(w11)
	assert.Equal(t, 100, c.GrowthRate)
	assert.Equal(t, 200, c.ExpectedSales)
	assert.Equal(t, 0, c.Inventory)
	assert.Equal(t, forecast.StatusCritical, c.Status)
	assert.Equal(t, forecast.StatusCritical, out.CurrentWeekStatus)

	// AND: both ledgers captured the originals
	g, _ := f.app.Ledgers.GrowthRate.Original("v-1", w11)
	es, _ := f.app.Ledgers.ExpectedSales.Original("v-1", w11)
	assert.Equal(t, 0, g)
	assert.Equal(t, 100, es)
}

func TestAddReorder_AfterExpectedSalesEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.EditExpectedSales(ctx, "v-1", w11, 200)
	require.NoError(t, err)

	out, err := f.app.AddReorder(ctx, "v-1", w11, 60, "")
	require.NoError(t, err)

	// max(0, 150 - 200 + 60) = 10, below minStock 20
	c := out.Week(w11)
	assert.Equal(t, 10, c.Inventory)
	assert.Equal(t, forecast.StatusWarning, c.Status)
	assert.Equal(t, []forecast.Reorder{{Amount: 60, Status: forecast.ReorderHPL}}, c.Reorders)
	assert.Equal(t, []string{forecast.ReorderHPL}, out.ReorderStatus)
}

func TestRevertExpectedSales_RestoresBothFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.EditExpectedSales(ctx, "v-1", w11, 200)
	require.NoError(t, err)

	out, changed, err := f.app.Revert(ctx, "v-1", w11, forecast.FieldExpectedSales)
	require.NoError(t, err)
	require.True(t, changed)

	c := out.Week(w11)
	assert.Equal(t, 0, c.GrowthRate)
	assert.Equal(t, 100, c.ExpectedSales)
	assert.Equal(t, 50, c.Inventory)
	assert.Equal(t, 0, out.Week(w12).Inventory)
	assert.False(t, f.app.Ledgers.GrowthRate.IsChanged("v-1", w11))
	assert.False(t, f.app.Ledgers.ExpectedSales.IsChanged("v-1", w11))
}

func TestEditExpectedSales_ZeroPriorSalesRejected(t *testing.T) {
	v := fixtureVariant("v-1")
	v.Sales = nil
	f := newFixture(t, v)
	before, _ := f.app.Variant("v-1")

	_, err := f.app.EditExpectedSales(context.Background(), "v-1", w11, 50)

	require.Error(t, err)
	assert.True(t, errors.Is(err, forecast.ErrNoPriorSales))
	var invalid *forecast.InvalidEditError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, forecast.VariantID("v-1"), invalid.VariantID)
	assert.Equal(t, w11, invalid.Week)

	after, _ := f.app.Variant("v-1")
	assert.Equal(t, before, after)
	assert.Empty(t, f.app.Ledgers.GrowthRate.ChangedWeeks("v-1"))
	assert.Empty(t, f.app.Ledgers.ExpectedSales.ChangedWeeks("v-1"))
	assert.NotEmpty(t, f.app.Notes.Peek(), "refused edit is surfaced to the user")
}

// =============================================================================
// EDIT RULES
// =============================================================================

func TestEdit_PastWeekRefused(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.EditGrowthRate(context.Background(), "v-1", w10, 10)

	assert.True(t, errors.Is(err, forecast.ErrPastWeek))
	assert.True(t, forecast.IsClientError(err))
	assert.Equal(t, 999, f.cell(t, "v-1", w10).Inventory)
}

func TestEdit_LockedYearRefused(t *testing.T) {
	v := fixtureVariant("v-1")
	v.Forecast = append([]forecast.YearForecast{{Year: 2023, Weeks: []forecast.WeekForecast{{Week: 40}}}}, v.Forecast...)
	f := newFixture(t, v)

	_, err := f.app.EditMinStock(context.Background(), "v-1", forecast.WeekKey{Year: 2023, Week: 40}, 5)

	assert.True(t, errors.Is(err, forecast.ErrYearLocked))
}

func TestEdit_UnknownVariantOrWeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.EditGrowthRate(ctx, "nope", w11, 10)
	assert.True(t, errors.Is(err, forecast.ErrVariantNotFound))

	_, err = f.app.EditGrowthRate(ctx, "v-1", forecast.WeekKey{Year: 2025, Week: 40}, 10)
	assert.True(t, errors.Is(err, forecast.ErrWeekNotFound))
	assert.True(t, forecast.IsNotFound(err))
}

func TestEdit_RoundTripLeavesNoChangeMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.EditGrowthRate(ctx, "v-1", w11, 25)
	require.NoError(t, err)
	_, err = f.app.EditGrowthRate(ctx, "v-1", w11, 0)
	require.NoError(t, err)

	assert.False(t, f.app.Ledgers.GrowthRate.IsChanged("v-1", w11))
}

func TestEditMinStock_StatusFollows(t *testing.T) {
	f := newFixture(t)

	out, err := f.app.EditMinStock(context.Background(), "v-1", w11, 60)
	require.NoError(t, err)

	assert.Equal(t, forecast.StatusWarning, out.Week(w11).Status)
	assert.Equal(t, 50, out.Week(w11).Inventory)
	assert.True(t, f.app.Ledgers.MinStock.IsChanged("v-1", w11))

	_, err = f.app.EditMinStock(context.Background(), "v-1", w11, -1)
	assert.True(t, errors.Is(err, forecast.ErrOutOfRange))
}

func TestChangeDeliveryTime_SupersedesMinStockEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.EditMinStock(ctx, "v-1", w12, 5)
	require.NoError(t, err)

	out, err := f.app.ChangeDeliveryTime(ctx, "v-1", 14)
	require.NoError(t, err)

	assert.Equal(t, 14, out.DeliveryTime)
	assert.Equal(t, 200, out.Week(w11).MinStock)
	assert.Equal(t, 200, out.Week(w12).MinStock)
	assert.Equal(t, 20, out.Week(w10).MinStock)
	assert.Equal(t, forecast.StatusWarning, out.CurrentWeekStatus)
	assert.Empty(t, f.app.Ledgers.MinStock.ChangedWeeks("v-1"))

	f.app.Outbox.Flush()
	pushed := f.push.singles()
	require.NotEmpty(t, pushed)
	last := pushed[len(pushed)-1]
	require.NotNil(t, last.DeliveryTime)
	assert.Equal(t, 14, *last.DeliveryTime)

	_, err = f.app.ChangeDeliveryTime(ctx, "v-1", 400)
	assert.True(t, errors.Is(err, forecast.ErrOutOfRange))
}

// =============================================================================
// REORDERS
// =============================================================================

func TestReorders_AddRelabelRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.AddReorder(ctx, "v-1", w12, 80, forecast.ReorderMA)
	require.NoError(t, err)
	_, err = f.app.AddReorder(ctx, "v-1", w12, 20, forecast.ReorderS)
	require.NoError(t, err)
	// 50 - 100 + 100
	assert.Equal(t, 50, f.cell(t, "v-1", w12).Inventory)

	out, err := f.app.SetReorderStatus(ctx, "v-1", w12, 0, forecast.ReorderVA)
	require.NoError(t, err)
	assert.Equal(t, []string{forecast.ReorderVA, forecast.ReorderS}, out.ReorderStatus)
	assert.Equal(t, 50, out.Week(w12).Inventory, "labels never change quantities")

	out, err = f.app.RemoveReorder(ctx, "v-1", w12, 0)
	require.NoError(t, err)
	assert.Equal(t, []forecast.Reorder{{Amount: 20, Status: forecast.ReorderS}}, out.Week(w12).Reorders)
	assert.Equal(t, 0, out.Week(w12).Inventory)
}

func TestReorders_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.AddReorder(ctx, "v-1", w12, 0, forecast.ReorderHPL)
	assert.True(t, errors.Is(err, forecast.ErrOutOfRange))

	_, err = f.app.AddReorder(ctx, "v-1", w12, 10, "XYZ")
	assert.True(t, errors.Is(err, forecast.ErrOutOfRange))

	_, err = f.app.AddReorder(ctx, "v-1", w10, 10, forecast.ReorderHPL)
	assert.True(t, errors.Is(err, forecast.ErrPastWeek))

	_, err = f.app.RemoveReorder(ctx, "v-1", w12, 3)
	assert.True(t, errors.Is(err, forecast.ErrOutOfRange))

	assert.Empty(t, f.cell(t, "v-1", w12).Reorders)
}

// =============================================================================
// REVERT
// =============================================================================

func TestRevert_NoEntryIsNoOp(t *testing.T) {
	f := newFixture(t)
	before, _ := f.app.Variant("v-1")

	out, changed, err := f.app.Revert(context.Background(), "v-1", w11, forecast.FieldGrowthRate)

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, out)
	f.app.Outbox.Flush()
	assert.Empty(t, f.push.singles(), "no-op revert pushes nothing")
}

func TestRevert_TwiceEqualsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.EditGrowthRate(ctx, "v-1", w12, 50)
	require.NoError(t, err)

	once, changed, err := f.app.Revert(ctx, "v-1", w12, forecast.FieldGrowthRate)
	require.NoError(t, err)
	assert.True(t, changed)

	twice, changed, err := f.app.Revert(ctx, "v-1", w12, forecast.FieldGrowthRate)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

func TestRevertGrowthRate_KeepsExpectedSalesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.EditExpectedSales(ctx, "v-1", w11, 150)
	require.NoError(t, err)

	out, _, err := f.app.Revert(ctx, "v-1", w11, forecast.FieldGrowthRate)
	require.NoError(t, err)

	assert.Equal(t, 0, out.Week(w11).GrowthRate)
	assert.Equal(t, 100, out.Week(w11).ExpectedSales)
	assert.False(t, f.app.Ledgers.GrowthRate.IsChanged("v-1", w11))
	assert.True(t, f.app.Ledgers.ExpectedSales.IsChanged("v-1", w11), "growth revert does not touch the expected-sales ledger")

	// Reverting expected sales afterwards still lands on the original.
	out, changed, err := f.app.Revert(ctx, "v-1", w11, forecast.FieldExpectedSales)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 100, out.Week(w11).ExpectedSales)
	assert.False(t, f.app.Ledgers.ExpectedSales.IsChanged("v-1", w11))
}

func TestRevertMinStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.EditMinStock(ctx, "v-1", w13, 500)
	require.NoError(t, err)
	_, err = f.app.EditMinStock(ctx, "v-1", w13, 700)
	require.NoError(t, err)

	out, changed, err := f.app.Revert(ctx, "v-1", w13, forecast.FieldMinStock)

	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 20, out.Week(w13).MinStock, "first write wins")
}

func TestRevert_UnknownField(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.app.Revert(context.Background(), "v-1", w11, "inventory")

	assert.True(t, errors.Is(err, forecast.ErrUnknownField))
}

func TestRevert_WeekSettledSinceEditIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.EditGrowthRate(ctx, "v-1", w11, 10)
	require.NoError(t, err)

	// GIVEN: a week later, week 11 is history
	f.app.Engine.Now = func() time.Time { return testToday.AddDate(0, 0, 7) }

	// WHEN: the pending growth edit is reverted
	_, changed, err := f.app.Revert(ctx, "v-1", w11, forecast.FieldGrowthRate)

	// THEN: the revert is refused like an edit and the cell keeps its values
	require.Error(t, err)
	assert.True(t, errors.Is(err, forecast.ErrPastWeek))
	assert.True(t, forecast.IsClientError(err))
	assert.False(t, changed)

	c := f.cell(t, "v-1", w11)
	assert.Equal(t, 10, c.GrowthRate)
	assert.Equal(t, 110, c.ExpectedSales)
	assert.True(t, f.app.Ledgers.GrowthRate.IsChanged("v-1", w11))

	_, _, err = f.app.Revert(ctx, "v-1", w11, forecast.FieldExpectedSales)
	assert.True(t, errors.Is(err, forecast.ErrPastWeek))

	f.app.Outbox.Flush()
	assert.Len(t, f.push.singles(), 1, "only the edit was pushed")
}

func TestRevertExpectedSales_NoPriorSalesKeepsRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.EditExpectedSales(ctx, "v-1", w12, 150)
	require.NoError(t, err)
	_, _, err = f.app.Revert(ctx, "v-1", w12, forecast.FieldGrowthRate)
	require.NoError(t, err)

	// GIVEN: last year's sales for week 12 disappeared on a refetch
	v, err := f.app.Variant("v-1")
	require.NoError(t, err)
	v.Sales[0].Weeks = v.Sales[0].Weeks[:2] // weeks 10-11 only
	f.app.Products.Put(v)

	// WHEN: expected sales is reverted with no growth entry left
	out, changed, err := f.app.Revert(ctx, "v-1", w12, forecast.FieldExpectedSales)

	// THEN: the entry is consumed and the cell is re-derived from its rate
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, out.Week(w12).GrowthRate)
	assert.Equal(t, 0, out.Week(w12).ExpectedSales)
	assert.False(t, f.app.Ledgers.ExpectedSales.IsChanged("v-1", w12))
}

func TestLoad_WaitsForEditsInFlight(t *testing.T) {
	f := newFixture(t)

	// GIVEN: an edit holds v-1
	unlock := f.app.locks.Lock("v-1")

	replaced := make(chan struct{})
	go func() {
		f.app.Load([]forecast.Variant{fixtureVariant("v-2")})
		close(replaced)
	}()

	isReplaced := func() bool {
		select {
		case <-replaced:
			return true
		default:
			return false
		}
	}
	assert.Never(t, isReplaced, 50*time.Millisecond, 5*time.Millisecond)

	// WHEN: the edit commits its stale read and releases
	stale, err := f.app.Variant("v-1")
	require.NoError(t, err)
	f.app.Products.Put(stale)
	unlock()

	// THEN: the new content lands after it and wins
	require.Eventually(t, isReplaced, time.Second, 5*time.Millisecond)
	_, err = f.app.Variant("v-1")
	assert.True(t, errors.Is(err, forecast.ErrVariantNotFound))
	assert.Equal(t, []forecast.VariantID{"v-2"}, f.app.Products.IDs())
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestEdits_PushedInRequestOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, g := range []int{10, 20, 30, 40} {
		_, err := f.app.EditGrowthRate(ctx, "v-1", w11, g)
		require.NoError(t, err)
	}
	f.app.Outbox.Flush()

	pushed := f.push.singles()
	require.Len(t, pushed, 4)
	for i, g := range []int{10, 20, 30, 40} {
		wk := pushed[i].Forecast[0].Weeks[1]
		require.Equal(t, 11, wk.Week)
		assert.Equal(t, g, wk.GrowthRate)
	}
}

func TestPersistFailure_KeepsStateAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.push.setFailing(true)

	// GIVEN: an edit whose push fails
	_, err := f.app.EditGrowthRate(ctx, "v-1", w11, 10)
	require.NoError(t, err, "the edit itself succeeds optimistically")
	f.app.Outbox.Flush()

	// THEN: local state is kept, the variant is dirty and the user is told
	assert.Equal(t, 110, f.cell(t, "v-1", w11).ExpectedSales)
	assert.True(t, f.app.Outbox.IsDirty("v-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.app.Metrics.PersistFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.app.Metrics.DirtyVariants))
	notes := f.app.Notes.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, LevelError, notes[0].Level)

	// WHEN: a later edit happens and the backend recovers
	_, err = f.app.EditGrowthRate(ctx, "v-1", w12, 5)
	require.NoError(t, err)
	f.app.Outbox.Flush()
	f.push.setFailing(false)

	res := f.app.Outbox.RetryDirty(ctx)

	// THEN: the latest state is pushed and the flag clears
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.False(t, f.app.Outbox.IsDirty("v-1"))
	pushed := f.push.singles()
	require.Len(t, pushed, 1)
	assert.Equal(t, 105, pushed[0].Forecast[0].Weeks[2].ExpectedSales)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.app.Metrics.DirtyVariants))
}

func TestRetryDirty_NothingDirty(t *testing.T) {
	f := newFixture(t)

	res := f.app.Outbox.RetryDirty(context.Background())

	assert.NoError(t, res.Err)
	assert.Zero(t, res.Attempted)
}

// =============================================================================
// AUDIT AND CHECKPOINTS
// =============================================================================

func TestEdits_AuditedAndCheckpointed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.EditGrowthRate(ctx, "v-1", w11, 10)
	require.NoError(t, err)
	_, _, err = f.app.Revert(ctx, "v-1", w11, forecast.FieldGrowthRate)
	require.NoError(t, err)
	_, err = f.app.EditMinStock(ctx, "v-1", w12, 30)
	require.NoError(t, err)

	entries, err := f.app.Audit(ctx, forecast.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, forecast.AuditGrowthRateEdited, entries[0].Action)
	assert.Equal(t, forecast.AuditCellReverted, entries[1].Action)
	assert.Equal(t, forecast.AuditMinStockEdited, entries[2].Action)
	assert.Equal(t, "2025-12", entries[2].Week)
	assert.NotEmpty(t, entries[0].ID)
	assert.True(t, entries[0].Timestamp.Equal(testToday))

	// A new App over the same store sees the pending min-stock edit.
	restarted := New(Options{State: f.state, Audit: f.state, Logger: zerolog.Nop()})
	t.Cleanup(restarted.Close)
	require.NoError(t, restarted.Restore(ctx))
	orig, ok := restarted.Ledgers.MinStock.Original("v-1", w12)
	require.True(t, ok)
	assert.Equal(t, 20, orig)
	assert.False(t, restarted.Ledgers.GrowthRate.IsChanged("v-1", w11))
}

func TestMetrics_CountEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.app.EditGrowthRate(ctx, "v-1", w11, 10)
	_, _ = f.app.EditGrowthRate(ctx, "v-1", w12, 10)
	_, _, _ = f.app.Revert(ctx, "v-1", w12, forecast.FieldGrowthRate)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.app.Metrics.Edits.WithLabelValues("growthRate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.app.Metrics.Reverts.WithLabelValues("growthRate")))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentEdits_DifferentVariants(t *testing.T) {
	var variants []forecast.Variant
	ids := []forecast.VariantID{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		variants = append(variants, fixtureVariant(id))
	}
	f := newFixture(t, variants...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := 1; g <= 10; g++ {
				_, err := f.app.EditGrowthRate(ctx, id, w11, g*(i+1))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for i, id := range ids {
		assert.Equal(t, 10*(i+1), f.cell(t, id, w11).GrowthRate)
	}
}
