/*
projection.go - Rolling weekly stock projection

PURPOSE:
  Recomputes expected sales, running inventory and stock status for every
  week from the current week forward. Past weeks are settled history and are
  returned untouched.

KEY INSIGHT:
  Inventory is a running balance. A week's ending inventory depends only on
  the previous in-scope week's ending inventory (or inventory_quantity for the
  first in-scope week), its own expected sales and its own reorders. Editing
  one week therefore invalidates every later week, so the engine always
  re-runs the whole forward window.

PROJECTION STEPS (per in-scope week, chronological):
  1. prev     = last year's actual sales for the same week number (or 0)
  2. expected = prev + roundHalfUp(prev * growthRate / 100)
  3. balance  = max(0, balance - expected + sum(reorders.amount))
  4. inventory = calculatedStock = balance
  5. status   = critical if balance <= 0, warning if balance < minStock, else good

EXAMPLE:
  engine := forecast.NewEngine(func() time.Time { return today })
  projected := engine.Project(variants)

SEE ALSO:
  - calendar.go: CurrentWeek decides which weeks are in scope
  - minstock.go: Delivery-time driven minimum stock
  - dashboard/editor.go: Re-runs the engine after every edit
*/
package forecast

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.New(5, -1)
)

// =============================================================================
// PROJECTION ENGINE
// =============================================================================

// Engine projects variants against an injectable "now".
//
// With Strict set, malformed input panics; otherwise the variant is returned
// unchanged. Use Validate to surface the problem as an error.
type Engine struct {
	Now    func() time.Time
	Strict bool
}

func NewEngine(now func() time.Time) *Engine {
	return &Engine{Now: now}
}

func (e *Engine) Today() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// CurrentWeek is the first in-scope week.
func (e *Engine) CurrentWeek() WeekKey { return CurrentWeek(e.Today()) }

// Project recomputes every variant. The input is not modified.
func (e *Engine) Project(variants []Variant) []Variant {
	cur := e.CurrentWeek()
	out := make([]Variant, len(variants))
	for i, v := range variants {
		out[i] = e.projectAt(v, cur)
	}
	return out
}

// ProjectVariant recomputes a single variant.
func (e *Engine) ProjectVariant(v Variant) Variant {
	return e.projectAt(v, e.CurrentWeek())
}

// ProjectParallel is Project spread over at most limit goroutines. Variants
// share no state, so the result is identical to Project.
func (e *Engine) ProjectParallel(ctx context.Context, variants []Variant, limit int) ([]Variant, error) {
	cur := e.CurrentWeek()
	out := make([]Variant, len(variants))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range variants {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = e.projectAt(variants[i], cur)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) projectAt(v Variant, cur WeekKey) Variant {
	if err := Validate(v); err != nil {
		if e.Strict {
			panic(err)
		}
		return v.Clone()
	}

	p := v.Clone()
	balance := p.InventoryQuantity
	current := p.CurrentWeekStatus
	if current == "" {
		current = StatusGood
	}
	labels := make([]string, 0)
	seen := make(map[string]bool)

	for yi := range p.Forecast {
		yf := &p.Forecast[yi]
		sort.SliceStable(yf.Weeks, func(a, b int) bool { return yf.Weeks[a].Week < yf.Weeks[b].Week })

		for wi := range yf.Weeks {
			w := &yf.Weeks[wi]
			key := WeekKey{Year: yf.Year, Week: w.Week}
			if key.Before(cur) {
				continue
			}

			w.ExpectedSales = ExpectedSales(p.PrevYearSales(yf.Year, w.Week), w.GrowthRate)
			balance = max(0, balance-w.ExpectedSales+w.ReorderTotal())
			w.Inventory = balance
			w.CalculatedStock = balance
			w.Status = StatusFor(balance, w.MinStock)

			if key == cur {
				current = w.Status
			}
			for _, r := range w.Reorders {
				if r.Status != "" && !seen[r.Status] {
					seen[r.Status] = true
					labels = append(labels, r.Status)
				}
			}
		}
	}

	p.CurrentWeekStatus = current
	p.ReorderStatus = labels
	return p
}

// Validate checks the engine's input precondition: forecast years strictly
// ascending.
func Validate(v Variant) error {
	for i := 1; i < len(v.Forecast); i++ {
		if v.Forecast[i].Year <= v.Forecast[i-1].Year {
			return fmt.Errorf("%w: variant %s forecast years not ascending (%d after %d)",
				ErrPreconditionViolation, v.VariantID, v.Forecast[i].Year, v.Forecast[i-1].Year)
		}
	}
	return nil
}

// =============================================================================
// GROWTH RATE / EXPECTED SALES DUALITY
// =============================================================================

// ExpectedSales applies growthRate percent to prev. Only the growth increment
// is rounded (half up), so the result is always prev plus an integer.
func ExpectedSales(prev, growthRate int) int {
	inc := decimal.NewFromInt(int64(prev)).
		Mul(decimal.NewFromInt(int64(growthRate))).
		Div(hundred)
	return prev + int(roundHalfUp(inc).IntPart())
}

// BackDeriveGrowthRate is the inverse of ExpectedSales. It refuses when prev
// is not positive instead of producing 0 or an infinite rate.
func BackDeriveGrowthRate(prev, expected int) (int, error) {
	if prev <= 0 {
		return 0, &InvalidEditError{Field: FieldExpectedSales, Reason: ErrNoPriorSales}
	}
	rate := decimal.NewFromInt(int64(expected - prev)).
		Div(decimal.NewFromInt(int64(prev))).
		Mul(hundred)
	return int(roundHalfUp(rate).IntPart()), nil
}

// roundHalfUp rounds toward +Inf on ties (-2.5 -> -2, 2.5 -> 3).
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).Floor()
}
