/*
revert.go - Per-cell and bulk revert

PER-CELL REVERT:
  growthRate:    restore the growth ledger's original; forget that entry only
  expectedSales: restore the growth original AND the expected-sales original,
                 then forget both entries (the expected-sales edit path always
                 writes both)
  minStock:      restore the min-stock ledger's original; forget that entry

  A cell with no ledger entry is left exactly as it is (true no-op, no
  re-projection and no push). Reverting twice equals reverting once.
  Weeks before the current week are settled: a revert there is refused
  like an edit, and its ledger entry stays until a delivery-time change or
  bulk revert drops it.

BULK REVERT:
  For each variant with a snapshot: replace the whole forecast with the
  snapshot, re-project, drop the snapshot and every per-cell ledger entry
  of the variant. Variants without a snapshot are skipped.

SEE ALSO:
  - forecast/ledger.go: ChangeLedger
  - forecast/snapshot.go: SnapshotLedger
*/
package dashboard

import (
	"context"

	"github.com/warp/forecast-engine/forecast"
)

// Revert restores one field of one cell to its pre-edit value. The boolean
// reports whether anything was restored.
func (a *App) Revert(ctx context.Context, id forecast.VariantID, key forecast.WeekKey, field forecast.Field) (forecast.Variant, bool, error) {
	if !field.Valid() {
		return forecast.Variant{}, false, a.invalid(&forecast.InvalidEditError{
			VariantID: id, Week: key, Field: field, Reason: forecast.ErrUnknownField,
		})
	}

	unlock := a.locks.Lock(id)
	defer unlock()

	live, err := a.Variant(id)
	if err != nil {
		return forecast.Variant{}, false, err
	}
	v, cell, err := a.cellOf(live.Clone(), key)
	if err != nil {
		return forecast.Variant{}, false, err
	}
	if err := a.checkEditable(id, key, field); err != nil {
		return forecast.Variant{}, false, a.invalid(err)
	}

	restored := map[string]any{"field": string(field)}
	switch field {
	case forecast.FieldGrowthRate:
		orig, ok := a.Ledgers.GrowthRate.Original(id, key)
		if !ok {
			return live, false, nil
		}
		cell.GrowthRate = orig
		restored["growthRate"] = orig
		a.Ledgers.GrowthRate.Forget(id, key)

	case forecast.FieldExpectedSales:
		origRate, hasRate := a.Ledgers.GrowthRate.Original(id, key)
		origSales, hasSales := a.Ledgers.ExpectedSales.Original(id, key)
		if !hasRate && !hasSales {
			return live, false, nil
		}
		if hasRate {
			cell.GrowthRate = origRate
			restored["growthRate"] = origRate
		} else {
			// The growth entry was reverted on its own earlier; derive the
			// rate that reproduces the original expected sales. Without
			// prior-year sales no rate can, so the cell keeps its current
			// rate and the projection re-derives expected sales from it.
			rate, err := forecast.BackDeriveGrowthRate(v.PrevYearSales(key.Year, key.Week), origSales)
			if err != nil {
				a.log.Debug().Err(err).
					Str("variant", string(id)).
					Str("week", key.String()).
					Msg("expected sales original not restorable, keeping growth rate")
			} else {
				cell.GrowthRate = rate
				restored["growthRate"] = rate
			}
		}
		if hasSales {
			cell.ExpectedSales = origSales
			restored["expectedSales"] = origSales
		}
		a.Ledgers.GrowthRate.Forget(id, key)
		a.Ledgers.ExpectedSales.Forget(id, key)

	case forecast.FieldMinStock:
		orig, ok := a.Ledgers.MinStock.Original(id, key)
		if !ok {
			return live, false, nil
		}
		cell.MinStock = orig
		restored["minStock"] = orig
		a.Ledgers.MinStock.Forget(id, key)
	}

	out := a.Engine.ProjectVariant(v)
	a.Metrics.Reverts.WithLabelValues(string(field)).Inc()
	a.commit(ctx, out, PayloadFor(out), forecast.AuditEntry{
		Action:    forecast.AuditCellReverted,
		VariantID: id,
		Week:      key.String(),
		Payload:   restored,
	})
	return out, true, nil
}

// BulkRevertResult lists which variants were restored from a snapshot.
type BulkRevertResult struct {
	Reverted []forecast.VariantID `json:"reverted"`
	Skipped  []forecast.VariantID `json:"skipped"`
}

// BulkRevert restores every given variant from its pre-bulk-edit snapshot.
func (a *App) BulkRevert(ctx context.Context, ids []forecast.VariantID) (BulkRevertResult, error) {
	ids = dedupe(ids)
	unlock := a.locks.LockMany(ids)
	defer unlock()

	res := BulkRevertResult{Reverted: []forecast.VariantID{}, Skipped: []forecast.VariantID{}}
	var payloads []Payload
	for _, id := range ids {
		snap, ok := a.Ledgers.Snapshots.Get(id)
		if !ok {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		v, ok := a.Products.Get(id)
		if !ok {
			res.Skipped = append(res.Skipped, id)
			continue
		}

		v.Forecast = snap.ForecastByYear
		v.CurrentWeekStatus = snap.CurrentWeekStatus
		out := a.Engine.ProjectVariant(v)
		a.Products.Put(out)

		a.Ledgers.Snapshots.Remove(id)
		a.Ledgers.ForgetVariants(id)
		a.record(ctx, forecast.AuditEntry{
			Action:    forecast.AuditBulkReverted,
			VariantID: id,
			Payload:   map[string]any{"snapshotTakenAt": snap.TakenAt},
		})
		payloads = append(payloads, PayloadFor(out))
		res.Reverted = append(res.Reverted, id)
	}

	if len(payloads) == 0 {
		return res, nil
	}
	a.Metrics.Reverts.WithLabelValues("bulk").Add(float64(len(payloads)))
	a.checkpoint(ctx)
	a.Outbox.EnqueueBulk(payloads)
	return res, nil
}
