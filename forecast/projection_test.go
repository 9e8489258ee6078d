package forecast_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/forecast-engine/forecast"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// Wednesday of 2025 week 11 (Mar 10 - Mar 16).
var today = date(2025, time.March, 12)

func newTestEngine() *forecast.Engine {
	e := forecast.NewEngine(func() time.Time { return today })
	e.Strict = true
	return e
}

// testVariant has one past week (10), the current week (11) and two future
// weeks. Last year's sales are 100 for weeks 10-14.
func testVariant() forecast.Variant {
	return forecast.Variant{
		VariantID:         "v-1",
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
				{Week: 12, MinStock: 20},
				{Week: 10, GrowthRate: 50, ExpectedSales: 7, MinStock: 20, Inventory: 999, CalculatedStock: 999, Status: forecast.StatusWarning},
				{Week: 11, MinStock: 20},
				{Week: 13, MinStock: 20},
			},
		}},
	}
}

func week(t *testing.T, v forecast.Variant, year, w int) forecast.WeekForecast {
	t.Helper()
	cell := v.Week(forecast.WeekKey{Year: year, Week: w})
	require.NotNil(t, cell, "week %d-%d missing", year, w)
	return *cell
}

func setWeek(t *testing.T, v *forecast.Variant, year, w int, fn func(*forecast.WeekForecast)) {
	t.Helper()
	cell := v.Week(forecast.WeekKey{Year: year, Week: w})
	require.NotNil(t, cell)
	fn(cell)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestProject_BaselineCurrentWeek(t *testing.T) {
	// GIVEN: inventory 150, growth 0, last year 100, minStock 20
	// WHEN: projecting
	out := newTestEngine().ProjectVariant(testVariant())

	// THEN: expected 100, inventory 50, good
	cur := week(t, out, 2025, 11)
	assert.Equal(t, 100, cur.ExpectedSales)
	assert.Equal(t, 50, cur.Inventory)
	assert.Equal(t, 50, cur.CalculatedStock)
	assert.Equal(t, forecast.StatusGood, cur.Status)
	assert.Equal(t, forecast.StatusGood, out.CurrentWeekStatus)

	// Downstream weeks run out of stock and clamp at zero.
	assert.Equal(t, 0, week(t, out, 2025, 12).Inventory)
	assert.Equal(t, forecast.StatusCritical, week(t, out, 2025, 12).Status)
	assert.Equal(t, 0, week(t, out, 2025, 13).Inventory)
}

func TestProject_GrowthRateTen(t *testing.T) {
	v := testVariant()
	setWeek(t, &v, 2025, 11, func(w *forecast.WeekForecast) { w.GrowthRate = 10 })

	out := newTestEngine().ProjectVariant(v)

	cur := week(t, out, 2025, 11)
	assert.Equal(t, 110, cur.ExpectedSales)
	assert.Equal(t, 40, cur.Inventory)
	assert.Equal(t, forecast.StatusGood, cur.Status)
}

func TestProject_GrowthRateHundredIsCritical(t *testing.T) {
	v := testVariant()
	setWeek(t, &v, 2025, 11, func(w *forecast.WeekForecast) { w.GrowthRate = 100 })

	out := newTestEngine().ProjectVariant(v)

	cur := week(t, out, 2025, 11)
	assert.Equal(t, 200, cur.ExpectedSales)
	assert.Equal(t, 0, cur.Inventory)
	assert.Equal(t, forecast.StatusCritical, cur.Status)
	assert.Equal(t, forecast.StatusCritical, out.CurrentWeekStatus)
}

func TestProject_ReordersSumRegardlessOfLabel(t *testing.T) {
	// GIVEN: growth 100 (expected 200) and a reorder of 60 in the same week
	v := testVariant()
	setWeek(t, &v, 2025, 11, func(w *forecast.WeekForecast) {
		w.GrowthRate = 100
		w.Reorders = []forecast.Reorder{{Amount: 60, Status: forecast.ReorderHPL}}
	})

	out := newTestEngine().ProjectVariant(v)

	// THEN: max(0, 150 - 200 + 60) = 10, below minStock 20
	cur := week(t, out, 2025, 11)
	assert.Equal(t, 10, cur.Inventory)
	assert.Equal(t, forecast.StatusWarning, cur.Status)
	assert.Equal(t, []string{forecast.ReorderHPL}, out.ReorderStatus)

	// AND: two reorders with different labels add up
	setWeek(t, &v, 2025, 11, func(w *forecast.WeekForecast) {
		w.Reorders = append(w.Reorders, forecast.Reorder{Amount: 40, Status: forecast.ReorderS})
	})
	out = newTestEngine().ProjectVariant(v)
	assert.Equal(t, 50, week(t, out, 2025, 11).Inventory)
	assert.Equal(t, []string{forecast.ReorderHPL, forecast.ReorderS}, out.ReorderStatus)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestProject_PastWeeksUntouched(t *testing.T) {
	in := testVariant()
	past := week(t, in.Clone(), 2025, 10)

	out := newTestEngine().ProjectVariant(in)

	assert.Equal(t, past, week(t, out, 2025, 10))
}

func TestProject_PastReordersIgnoredForReorderStatus(t *testing.T) {
	v := testVariant()
	setWeek(t, &v, 2025, 10, func(w *forecast.WeekForecast) {
		w.Reorders = []forecast.Reorder{{Amount: 5, Status: forecast.ReorderVA}}
	})

	out := newTestEngine().ProjectVariant(v)

	assert.Empty(t, out.ReorderStatus)
	assert.NotNil(t, out.ReorderStatus)
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	in := testVariant()

	newTestEngine().Project([]forecast.Variant{in})

	assert.Equal(t, testVariant(), in)
}

func TestProject_Deterministic(t *testing.T) {
	e := newTestEngine()
	in := []forecast.Variant{testVariant()}

	assert.Equal(t, e.Project(in), e.Project(in))
	assert.Equal(t, e.Project(in), e.Project(e.Project(in)), "projection must be idempotent")
}

func TestProject_RunningBalanceInvariant(t *testing.T) {
	v := testVariant()
	v.InventoryQuantity = 500
	setWeek(t, &v, 2025, 11, func(w *forecast.WeekForecast) { w.GrowthRate = -25 })
	setWeek(t, &v, 2025, 12, func(w *forecast.WeekForecast) {
		w.GrowthRate = 33
		w.Reorders = []forecast.Reorder{{Amount: 80, Status: forecast.ReorderMA}}
	})
	setWeek(t, &v, 2025, 13, func(w *forecast.WeekForecast) { w.GrowthRate = 250 })

	out := newTestEngine().ProjectVariant(v)

	balance := out.InventoryQuantity
	for _, w := range out.Forecast[0].Weeks {
		if w.Week < 11 {
			continue
		}
		balance = max(0, balance-w.ExpectedSales+w.ReorderTotal())
		assert.Equal(t, balance, w.Inventory, "week %d", w.Week)
		assert.Equal(t, w.Inventory, w.CalculatedStock, "week %d", w.Week)
	}
}

func TestProject_SortsWeeksWithinYear(t *testing.T) {
	out := newTestEngine().ProjectVariant(testVariant())

	var got []int
	for _, w := range out.Forecast[0].Weeks {
		got = append(got, w.Week)
	}
	assert.Equal(t, []int{10, 11, 12, 13}, got)
}

func TestProject_MissingPriorYearSalesMeansZero(t *testing.T) {
	v := testVariant()
	v.Sales = nil
	setWeek(t, &v, 2025, 11, func(w *forecast.WeekForecast) { w.GrowthRate = 40 })

	out := newTestEngine().ProjectVariant(v)

	assert.Equal(t, 0, week(t, out, 2025, 11).ExpectedSales)
	assert.Equal(t, 150, week(t, out, 2025, 11).Inventory)
}

func TestProject_FutureYearContinuesBalance(t *testing.T) {
	v := testVariant()
	v.InventoryQuantity = 1000
	v.Sales = append(v.Sales, forecast.YearSales{Year: 2025, Weeks: []forecast.WeekSales{{Week: 1, Sales: 30}}})
	v.Forecast = append(v.Forecast, forecast.YearForecast{Year: 2026, Weeks: []forecast.WeekForecast{{Week: 1, MinStock: 10}}})

	out := newTestEngine().ProjectVariant(v)

	// 1000 - 100 - 100 - 100 = 700 after 2025, then 700 - 30
	assert.Equal(t, 670, week(t, out, 2026, 1).Inventory)
}

func TestProject_BatchedAccumulationMatchesFullSet(t *testing.T) {
	e := newTestEngine()
	var all []forecast.Variant
	for i := 0; i < 7; i++ {
		v := testVariant()
		v.VariantID = forecast.VariantID(string(rune('a' + i)))
		v.InventoryQuantity = 100 + i*50
		all = append(all, v)
	}
	full := e.Project(all)

	var acc, projected []forecast.Variant
	for _, batch := range [][]forecast.Variant{all[:1], all[1:3], all[3:6], all[6:]} {
		acc = append(acc, batch...)
		projected = e.Project(acc)
	}

	assert.Equal(t, full, projected)
}

func TestProjectParallel_MatchesProject(t *testing.T) {
	e := newTestEngine()
	var all []forecast.Variant
	for i := 0; i < 20; i++ {
		v := testVariant()
		v.InventoryQuantity = i * 37
		all = append(all, v)
	}

	got, err := e.ProjectParallel(context.Background(), all, 4)
	require.NoError(t, err)
	assert.Equal(t, e.Project(all), got)
}

func TestProject_UnorderedYears(t *testing.T) {
	v := testVariant()
	v.Forecast = append([]forecast.YearForecast{{Year: 2026}}, v.Forecast...)

	err := forecast.Validate(v)
	assert.True(t, errors.Is(err, forecast.ErrPreconditionViolation))

	assert.Panics(t, func() { newTestEngine().ProjectVariant(v) })

	lenient := forecast.NewEngine(func() time.Time { return today })
	assert.Equal(t, v.Clone(), lenient.ProjectVariant(v))
}

// =============================================================================
// GROWTH RATE / EXPECTED SALES
// =============================================================================

func TestExpectedSales_RoundsIncrementHalfUp(t *testing.T) {
	assert.Equal(t, 110, forecast.ExpectedSales(100, 10))
	assert.Equal(t, 6, forecast.ExpectedSales(5, 10))    // 0.5 -> 1
	assert.Equal(t, 5, forecast.ExpectedSales(5, -10))   // -0.5 -> 0
	assert.Equal(t, 4, forecast.ExpectedSales(3, 33))    // 0.99 -> 1
	assert.Equal(t, 112, forecast.ExpectedSales(105, 7)) // 7.35 -> 7
	assert.Equal(t, 0, forecast.ExpectedSales(0, 500))
}

func TestBackDeriveGrowthRate(t *testing.T) {
	g, err := forecast.BackDeriveGrowthRate(100, 200)
	require.NoError(t, err)
	assert.Equal(t, 100, g)

	g, err = forecast.BackDeriveGrowthRate(3, 4)
	require.NoError(t, err)
	assert.Equal(t, 33, g)

	g, err = forecast.BackDeriveGrowthRate(100, 95)
	require.NoError(t, err)
	assert.Equal(t, -5, g)
}

func TestBackDeriveGrowthRate_ZeroPriorSalesFails(t *testing.T) {
	_, err := forecast.BackDeriveGrowthRate(0, 50)

	require.Error(t, err)
	assert.True(t, errors.Is(err, forecast.ErrNoPriorSales))
	assert.True(t, errors.Is(err, forecast.ErrInvalidEdit))
	var invalid *forecast.InvalidEditError
	assert.True(t, errors.As(err, &invalid))
}

func TestGrowthSalesDuality_RoundTripWithinOne(t *testing.T) {
	for prev := 50; prev <= 400; prev += 7 {
		for g := -50; g <= 150; g += 3 {
			es := forecast.ExpectedSales(prev, g)
			back, err := forecast.BackDeriveGrowthRate(prev, es)
			require.NoError(t, err)
			assert.InDelta(t, g, back, 1, "prev=%d g=%d es=%d", prev, g, es)
		}
	}
}

// =============================================================================
// DELIVERY TIME
// =============================================================================

func TestApplyDeliveryTime_RecomputesMinStockFromLastYear(t *testing.T) {
	e := newTestEngine()
	v := e.ProjectVariant(testVariant())

	out := e.ApplyDeliveryTime(v, 14)

	assert.Equal(t, 14, out.DeliveryTime)
	assert.Equal(t, 20, week(t, out, 2025, 10).MinStock, "past week untouched")
	assert.Equal(t, 200, week(t, out, 2025, 11).MinStock)
	assert.Equal(t, 200, week(t, out, 2025, 12).MinStock)
	assert.Equal(t, 200, week(t, out, 2025, 13).MinStock)

	// Inventory and expected sales are not touched; statuses follow.
	assert.Equal(t, week(t, v, 2025, 11).Inventory, week(t, out, 2025, 11).Inventory)
	assert.Equal(t, week(t, v, 2025, 11).ExpectedSales, week(t, out, 2025, 11).ExpectedSales)
	assert.Equal(t, forecast.StatusWarning, week(t, out, 2025, 11).Status)
	assert.Equal(t, forecast.StatusWarning, out.CurrentWeekStatus)
}

func TestMinStockForLeadTime(t *testing.T) {
	sales := testVariant().Sales

	assert.Equal(t, 0, forecast.LeadTimeWeeks(0))
	assert.Equal(t, 1, forecast.LeadTimeWeeks(7))
	assert.Equal(t, 2, forecast.LeadTimeWeeks(8))
	assert.Equal(t, 13, forecast.LeadTimeWeeks(91))

	assert.Equal(t, 100, forecast.MinStockForLeadTime(sales, 2024, 11, 7))
	assert.Equal(t, 300, forecast.MinStockForLeadTime(sales, 2024, 12, 21))
	// Only weeks 13 and 14 have sales.
	assert.Equal(t, 200, forecast.MinStockForLeadTime(sales, 2024, 13, 28))
	assert.Equal(t, 0, forecast.MinStockForLeadTime(sales, 2023, 11, 28))
}
