/*
Package forecast provides the stock projection engine and its change ledgers.

PURPOSE:
  This package contains the pure, I/O-free core of the forecasting dashboard.
  Given a variant's historical sales and its editable weekly forecast, the
  engine recomputes expected sales, the running inventory balance and the
  stock status for every week from the current week forward. The ledgers
  record pre-edit values so individual cells (or whole variants after a bulk
  edit) can be reverted.

KEY CONCEPTS IN THIS FILE (types.go):
  - Variant: one sellable SKU configuration, the unit of forecasting
  - WeekForecast: one (year, week) projection cell of a variant
  - Reorder: a scheduled inbound stock event
  - Status: derived stock health (good / warning / critical)

DESIGN PRINCIPLES:
  1. Past weeks are settled history and are never recomputed
  2. growthRate is the canonical value; expectedSales is derived from it
  3. Every slice is non-nil after Clone, so JSON never carries null arrays

SEE ALSO:
  - calendar.go: Week numbering and week keys
  - projection.go: The projection engine
  - ledger.go: Per-field change ledgers
  - snapshot.go: Whole-variant snapshots for bulk revert
*/
package forecast

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// VariantID identifies a product variant. The upstream API sends it either as
// a JSON string or as a JSON number; both decode to the same VariantID.
type VariantID string

func (id *VariantID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = VariantID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("variant id: %w", err)
	}
	*id = VariantID(n.String())
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusGood     Status = "good"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// StatusFor classifies an ending balance against the week's minimum stock.
func StatusFor(balance, minStock int) Status {
	switch {
	case balance <= 0:
		return StatusCritical
	case balance < minStock:
		return StatusWarning
	default:
		return StatusGood
	}
}

// =============================================================================
// REORDERS
// =============================================================================

// Reorder status labels. They are display and workflow labels only and never
// affect quantity math.
const (
	ReorderNone = "-"
	ReorderHPL  = "HPL"
	ReorderMA   = "MA"
	ReorderVA   = "VA"
	ReorderS    = "S"
)

// ReorderStatuses lists the labels in the order the dashboard offers them.
var ReorderStatuses = []string{ReorderNone, ReorderHPL, ReorderMA, ReorderVA, ReorderS}

func IsReorderStatus(label string) bool {
	for _, s := range ReorderStatuses {
		if s == label {
			return true
		}
	}
	return false
}

type Reorder struct {
	Amount int    `json:"amount"`
	Status string `json:"status"`
}

// =============================================================================
// FORECAST AND SALES
// =============================================================================

// WeekForecast is one projection cell. Inventory and CalculatedStock always
// carry the same value.
type WeekForecast struct {
	Week            int       `json:"week"`
	GrowthRate      int       `json:"growthRate"`
	ExpectedSales   int       `json:"expectedSales"`
	MinStock        int       `json:"minStock"`
	Inventory       int       `json:"inventory"`
	CalculatedStock int       `json:"calculatedStock"`
	Status          Status    `json:"status"`
	Reorders        []Reorder `json:"reorders"`
}

// ReorderTotal sums reorder amounts regardless of label.
func (w WeekForecast) ReorderTotal() int {
	total := 0
	for _, r := range w.Reorders {
		total += r.Amount
	}
	return total
}

type YearForecast struct {
	Year  int            `json:"year"`
	Weeks []WeekForecast `json:"weeks"`
}

type WeekSales struct {
	Week  int `json:"week"`
	Sales int `json:"sales"`
}

type YearSales struct {
	Year  int         `json:"year"`
	Weeks []WeekSales `json:"weeks"`
}

// SalesAt returns the actual sales recorded for (year, week), or 0.
func SalesAt(sales []YearSales, year, week int) int {
	for _, ys := range sales {
		if ys.Year != year {
			continue
		}
		for _, ws := range ys.Weeks {
			if ws.Week == week {
				return ws.Sales
			}
		}
	}
	return 0
}

// =============================================================================
// VARIANT
// =============================================================================

type Variant struct {
	VariantID         VariantID      `json:"variantId"`
	ProductName       string         `json:"productName,omitempty"`
	SKU               string         `json:"sku,omitempty"`
	Vendor            string         `json:"vendor,omitempty"`
	InventoryQuantity int            `json:"inventory_quantity"`
	DeliveryTime      int            `json:"deliveryTime"`
	Sales             []YearSales    `json:"sales"`
	Forecast          []YearForecast `json:"forecast"`
	CurrentWeekStatus Status         `json:"currentWeekStatus"`
	ReorderStatus     []string       `json:"reorderStatus"`
}

// PrevYearSales returns last year's actual sales for the same week number.
func (v Variant) PrevYearSales(year, week int) int {
	return SalesAt(v.Sales, year-1, week)
}

// Week returns a pointer into v's own forecast, or nil.
func (v *Variant) Week(key WeekKey) *WeekForecast {
	for yi := range v.Forecast {
		if v.Forecast[yi].Year != key.Year {
			continue
		}
		for wi := range v.Forecast[yi].Weeks {
			if v.Forecast[yi].Weeks[wi].Week == key.Week {
				return &v.Forecast[yi].Weeks[wi]
			}
		}
	}
	return nil
}

// Clone returns a deep copy. Sales are shared read-only history but are
// copied too so callers may hand the clone to another goroutine.
func (v Variant) Clone() Variant {
	out := v
	out.Sales = make([]YearSales, len(v.Sales))
	for i, ys := range v.Sales {
		out.Sales[i] = YearSales{Year: ys.Year, Weeks: append([]WeekSales{}, ys.Weeks...)}
	}
	out.Forecast = CloneForecast(v.Forecast)
	out.ReorderStatus = append([]string{}, v.ReorderStatus...)
	return out
}

// CloneForecast deep-copies a forecast, normalizing nil reorder lists.
func CloneForecast(f []YearForecast) []YearForecast {
	out := make([]YearForecast, len(f))
	for i, yf := range f {
		weeks := make([]WeekForecast, len(yf.Weeks))
		for j, w := range yf.Weeks {
			w.Reorders = append([]Reorder{}, w.Reorders...)
			weeks[j] = w
		}
		out[i] = YearForecast{Year: yf.Year, Weeks: weeks}
	}
	return out
}
