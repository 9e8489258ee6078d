package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/forecast-engine/forecast"
)

// Delivery time bounds in days. The dashboard offers 7..91 in steps of 7.
const (
	MinDeliveryTime = 0
	MaxDeliveryTime = 365
)

// DeliveryTimeOptions are the choices the dashboard offers.
func DeliveryTimeOptions() []int {
	out := make([]int, 0, 13)
	for d := 7; d <= 91; d += 7 {
		out = append(out, d)
	}
	return out
}

// =============================================================================
// SINGLE-CELL EDITS
// =============================================================================

// EditGrowthRate sets a week's growth rate. Expected sales follow from it
// when the engine re-runs.
func (a *App) EditGrowthRate(ctx context.Context, id forecast.VariantID, key forecast.WeekKey, value int) (forecast.Variant, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	v, cell, err := a.editableCell(id, key, forecast.FieldGrowthRate)
	if err != nil {
		return forecast.Variant{}, err
	}

	before := cell.GrowthRate
	a.Ledgers.GrowthRate.Track(id, key, before, value)
	cell.GrowthRate = value

	out := a.Engine.ProjectVariant(v)
	a.Metrics.Edits.WithLabelValues(string(forecast.FieldGrowthRate)).Inc()
	a.commit(ctx, out, PayloadFor(out), forecast.AuditEntry{
		Action:    forecast.AuditGrowthRateEdited,
		VariantID: id,
		Week:      key.String(),
		Payload:   map[string]any{"before": before, "after": value},
	})
	return out, nil
}

// EditExpectedSales sets a week's expected sales by back-deriving the growth
// rate, which stays the canonical value. The stored expected sales is the
// value the derived rate reproduces, so it can differ from the request by
// rounding. Fails without any change when last year's sales are zero.
func (a *App) EditExpectedSales(ctx context.Context, id forecast.VariantID, key forecast.WeekKey, value int) (forecast.Variant, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	v, cell, err := a.editableCell(id, key, forecast.FieldExpectedSales)
	if err != nil {
		return forecast.Variant{}, err
	}
	if value < 0 {
		return forecast.Variant{}, a.invalid(&forecast.InvalidEditError{
			VariantID: id, Week: key, Field: forecast.FieldExpectedSales,
			Reason: fmt.Errorf("%w: expected sales %d", forecast.ErrOutOfRange, value),
		})
	}

	prev := v.PrevYearSales(key.Year, key.Week)
	rate, err := forecast.BackDeriveGrowthRate(prev, value)
	if err != nil {
		var invalid *forecast.InvalidEditError
		if errors.As(err, &invalid) {
			invalid.VariantID, invalid.Week = id, key
		}
		return forecast.Variant{}, a.invalid(err)
	}
	expected := forecast.ExpectedSales(prev, rate)

	beforeRate, beforeSales := cell.GrowthRate, cell.ExpectedSales
	a.Ledgers.GrowthRate.Track(id, key, beforeRate, rate)
	a.Ledgers.ExpectedSales.Track(id, key, beforeSales, expected)
	cell.GrowthRate = rate
	cell.ExpectedSales = expected

	out := a.Engine.ProjectVariant(v)
	a.Metrics.Edits.WithLabelValues(string(forecast.FieldExpectedSales)).Inc()
	a.commit(ctx, out, PayloadFor(out), forecast.AuditEntry{
		Action:    forecast.AuditExpectedSalesEdited,
		VariantID: id,
		Week:      key.String(),
		Payload: map[string]any{
			"requested":        value,
			"before":           beforeSales,
			"after":            expected,
			"growthRateBefore": beforeRate,
			"growthRateAfter":  rate,
		},
	})
	return out, nil
}

// EditMinStock sets a week's minimum stock threshold.
func (a *App) EditMinStock(ctx context.Context, id forecast.VariantID, key forecast.WeekKey, value int) (forecast.Variant, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	v, cell, err := a.editableCell(id, key, forecast.FieldMinStock)
	if err != nil {
		return forecast.Variant{}, err
	}
	if value < 0 {
		return forecast.Variant{}, a.invalid(&forecast.InvalidEditError{
			VariantID: id, Week: key, Field: forecast.FieldMinStock,
			Reason: fmt.Errorf("%w: min stock %d", forecast.ErrOutOfRange, value),
		})
	}

	before := cell.MinStock
	a.Ledgers.MinStock.Track(id, key, before, value)
	cell.MinStock = value

	out := a.Engine.ProjectVariant(v)
	a.Metrics.Edits.WithLabelValues(string(forecast.FieldMinStock)).Inc()
	a.commit(ctx, out, PayloadFor(out), forecast.AuditEntry{
		Action:    forecast.AuditMinStockEdited,
		VariantID: id,
		Week:      key.String(),
		Payload:   map[string]any{"before": before, "after": value},
	})
	return out, nil
}

// ChangeDeliveryTime sets the variant's lead time and recomputes minStock
// for every in-scope week. Pending manual min-stock edits of the variant are
// superseded and dropped from the ledger.
func (a *App) ChangeDeliveryTime(ctx context.Context, id forecast.VariantID, days int) (forecast.Variant, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	v, err := a.Variant(id)
	if err != nil {
		return forecast.Variant{}, err
	}
	if days < MinDeliveryTime || days > MaxDeliveryTime {
		return forecast.Variant{}, a.invalid(&forecast.InvalidEditError{
			VariantID: id, Field: forecast.FieldDeliveryTime,
			Reason: fmt.Errorf("%w: delivery time %d days", forecast.ErrOutOfRange, days),
		})
	}

	before := v.DeliveryTime
	out := a.Engine.ApplyDeliveryTime(v, days)
	a.Ledgers.MinStock.ForgetVariants(id)

	a.Metrics.Edits.WithLabelValues(string(forecast.FieldDeliveryTime)).Inc()
	a.commit(ctx, out, PayloadFor(out).WithDeliveryTime(days), forecast.AuditEntry{
		Action:    forecast.AuditDeliveryTimeChanged,
		VariantID: id,
		Payload:   map[string]any{"before": before, "after": days},
	})
	return out, nil
}

// editableCell loads the variant and returns a pointer to the cell inside
// that copy, after the year-lock and past-week checks.
func (a *App) editableCell(id forecast.VariantID, key forecast.WeekKey, field forecast.Field) (forecast.Variant, *forecast.WeekForecast, error) {
	v, err := a.Variant(id)
	if err != nil {
		return forecast.Variant{}, nil, err
	}
	if err := a.checkEditable(id, key, field); err != nil {
		return forecast.Variant{}, nil, a.invalid(err)
	}
	return a.cellOf(v, key)
}

// cellOf returns v together with a pointer to one of its cells. The copy of
// v shares its forecast backing array with the pointer, so writes through
// the pointer land in the returned variant.
func (a *App) cellOf(v forecast.Variant, key forecast.WeekKey) (forecast.Variant, *forecast.WeekForecast, error) {
	cell := v.Week(key)
	if cell == nil {
		return forecast.Variant{}, nil, fmt.Errorf("%w: variant %s week %s", forecast.ErrWeekNotFound, v.VariantID, key)
	}
	return v, cell, nil
}
