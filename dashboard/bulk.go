package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/forecast-engine/forecast"
)

// =============================================================================
// BULK EDIT
// =============================================================================

// BulkEdit applies one value per field to every week in [FromWeek, ToWeek]
// of Year across a set of variants. Growth rate and expected sales are
// mutually exclusive; min stock combines with either.
type BulkEdit struct {
	VariantIDs    []forecast.VariantID `json:"variantIds"`
	Year          int                  `json:"year"`
	FromWeek      int                  `json:"fromWeek"`
	ToWeek        int                  `json:"toWeek"`
	GrowthRate    *int                 `json:"growthRate,omitempty"`
	ExpectedSales *int                 `json:"expectedSales,omitempty"`
	MinStock      *int                 `json:"minStock,omitempty"`
}

var (
	errNoVariants    = errors.New("no variants selected")
	errNoFields      = errors.New("set at least one of growthRate, expectedSales, minStock")
	errBothRateSales = errors.New("growthRate and expectedSales cannot be combined")
)

// Validate checks the request shape. Year may be zero (current year).
func (b BulkEdit) Validate() error {
	fail := func(field forecast.Field, reason error) error {
		return &forecast.InvalidEditError{Field: field, Reason: reason}
	}
	switch {
	case len(b.VariantIDs) == 0:
		return fail("", errNoVariants)
	case b.FromWeek < 1 || b.FromWeek > 53 || b.ToWeek < 1 || b.ToWeek > 53:
		return fail("", fmt.Errorf("%w: weeks %d..%d", forecast.ErrOutOfRange, b.FromWeek, b.ToWeek))
	case b.ToWeek < b.FromWeek:
		return fail("", fmt.Errorf("%w: toWeek %d before fromWeek %d", forecast.ErrOutOfRange, b.ToWeek, b.FromWeek))
	case b.GrowthRate == nil && b.ExpectedSales == nil && b.MinStock == nil:
		return fail("", errNoFields)
	case b.GrowthRate != nil && b.ExpectedSales != nil:
		return fail(forecast.FieldExpectedSales, errBothRateSales)
	case b.ExpectedSales != nil && *b.ExpectedSales < 0:
		return fail(forecast.FieldExpectedSales, fmt.Errorf("%w: expected sales %d", forecast.ErrOutOfRange, *b.ExpectedSales))
	case b.MinStock != nil && *b.MinStock < 0:
		return fail(forecast.FieldMinStock, fmt.Errorf("%w: min stock %d", forecast.ErrOutOfRange, *b.MinStock))
	}
	return nil
}

// BulkResult summarizes an applied bulk edit.
type BulkResult struct {
	Updated   []forecast.VariantID `json:"updated"`
	Missing   []forecast.VariantID `json:"missing"`
	// Untouched variants have no forecast weeks in the range.
	Untouched []forecast.VariantID `json:"untouched"`
	Cells     int                  `json:"cells"`
	Weeks     [2]int               `json:"weeks"`
}

// BulkEdit applies b. The start week is clamped to the current week. An
// expected-sales edit is all or nothing: if any targeted cell has no prior
// year sales, nothing changes.
func (a *App) BulkEdit(ctx context.Context, b BulkEdit) (BulkResult, error) {
	if err := b.Validate(); err != nil {
		return BulkResult{}, a.invalid(err)
	}

	cur := a.Engine.CurrentWeek()
	if b.Year == 0 {
		b.Year = cur.Year
	}
	if cur.Year-b.Year >= 2 {
		return BulkResult{}, a.invalid(&forecast.InvalidEditError{Reason: forecast.ErrYearLocked})
	}
	from := b.FromWeek
	if b.Year == cur.Year {
		from = max(from, cur.Week)
	}
	if b.Year < cur.Year || from > b.ToWeek {
		return BulkResult{}, a.invalid(&forecast.InvalidEditError{
			Week: forecast.WeekKey{Year: b.Year, Week: b.ToWeek}, Reason: forecast.ErrPastWeek,
		})
	}
	inRange := func(w int) bool { return w >= from && w <= b.ToWeek }

	ids := dedupe(b.VariantIDs)
	unlock := a.locks.LockMany(ids)
	defer unlock()

	// Pass 1: load and validate without touching anything.
	res := BulkResult{
		Updated:   []forecast.VariantID{},
		Missing:   []forecast.VariantID{},
		Untouched: []forecast.VariantID{},
		Weeks:     [2]int{from, b.ToWeek},
	}
	var targets []forecast.Variant
	for _, id := range ids {
		v, ok := a.Products.Get(id)
		if !ok {
			res.Missing = append(res.Missing, id)
			continue
		}
		if b.ExpectedSales != nil {
			for _, w := range yearWeeks(v, b.Year) {
				if inRange(w.Week) && v.PrevYearSales(b.Year, w.Week) <= 0 {
					return BulkResult{}, a.invalid(&forecast.InvalidEditError{
						VariantID: id,
						Week:      forecast.WeekKey{Year: b.Year, Week: w.Week},
						Field:     forecast.FieldExpectedSales,
						Reason:    forecast.ErrNoPriorSales,
					})
				}
			}
		}
		targets = append(targets, v)
	}
	if len(targets) == 0 {
		return res, forecast.ErrVariantNotFound
	}

	// Pass 2: snapshot, mutate, project.
	now := a.Engine.Today()
	payloads := make([]Payload, 0, len(targets))
	for _, v := range targets {
		var cells []*forecast.WeekForecast
		for yi := range v.Forecast {
			if v.Forecast[yi].Year != b.Year {
				continue
			}
			for wi := range v.Forecast[yi].Weeks {
				if w := &v.Forecast[yi].Weeks[wi]; inRange(w.Week) {
					cells = append(cells, w)
				}
			}
		}
		if len(cells) == 0 {
			res.Untouched = append(res.Untouched, v.VariantID)
			continue
		}

		a.Ledgers.Snapshots.Capture(v, now)
		for _, w := range cells {
			a.applyBulkCell(v, w, b)
		}

		out := a.Engine.ProjectVariant(v)
		a.Products.Put(out)
		a.record(ctx, forecast.AuditEntry{
			Action:    forecast.AuditBulkEdited,
			VariantID: v.VariantID,
			Payload:   bulkAuditPayload(b, from, len(cells)),
		})
		payloads = append(payloads, PayloadFor(out))
		res.Updated = append(res.Updated, v.VariantID)
		res.Cells += len(cells)
	}

	if len(payloads) == 0 {
		return res, nil
	}
	a.Metrics.Edits.WithLabelValues("bulk").Add(float64(len(payloads)))
	a.checkpoint(ctx)
	a.Outbox.EnqueueBulk(payloads)
	return res, nil
}

// applyBulkCell writes b's fields into one cell, recording per-cell ledger
// entries so each touched cell can still be reverted on its own.
func (a *App) applyBulkCell(v forecast.Variant, w *forecast.WeekForecast, b BulkEdit) {
	key := forecast.WeekKey{Year: b.Year, Week: w.Week}
	switch {
	case b.GrowthRate != nil:
		a.Ledgers.GrowthRate.Track(v.VariantID, key, w.GrowthRate, *b.GrowthRate)
		w.GrowthRate = *b.GrowthRate
	case b.ExpectedSales != nil:
		prev := v.PrevYearSales(b.Year, w.Week)
		rate, err := forecast.BackDeriveGrowthRate(prev, *b.ExpectedSales)
		if err != nil {
			// Ruled out by the validation pass.
			return
		}
		expected := forecast.ExpectedSales(prev, rate)
		a.Ledgers.GrowthRate.Track(v.VariantID, key, w.GrowthRate, rate)
		a.Ledgers.ExpectedSales.Track(v.VariantID, key, w.ExpectedSales, expected)
		w.GrowthRate = rate
		w.ExpectedSales = expected
	}
	if b.MinStock != nil {
		a.Ledgers.MinStock.Track(v.VariantID, key, w.MinStock, *b.MinStock)
		w.MinStock = *b.MinStock
	}
}

func yearWeeks(v forecast.Variant, year int) []forecast.WeekForecast {
	for _, yf := range v.Forecast {
		if yf.Year == year {
			return yf.Weeks
		}
	}
	return nil
}

func bulkAuditPayload(b BulkEdit, from, cells int) map[string]any {
	p := map[string]any{"year": b.Year, "fromWeek": from, "toWeek": b.ToWeek, "cells": cells}
	if b.GrowthRate != nil {
		p["growthRate"] = *b.GrowthRate
	}
	if b.ExpectedSales != nil {
		p["expectedSales"] = *b.ExpectedSales
	}
	if b.MinStock != nil {
		p["minStock"] = *b.MinStock
	}
	return p
}
