package dashboard

import (
	"context"
	"fmt"

	"github.com/warp/forecast-engine/forecast"
)

// =============================================================================
// REORDERS
// =============================================================================

// AddReorder schedules inbound stock into a week. An empty status defaults
// to HPL.
func (a *App) AddReorder(ctx context.Context, id forecast.VariantID, key forecast.WeekKey, amount int, status string) (forecast.Variant, error) {
	if status == "" {
		status = forecast.ReorderHPL
	}

	unlock := a.locks.Lock(id)
	defer unlock()

	v, cell, err := a.editableCell(id, key, forecast.FieldReorders)
	if err != nil {
		return forecast.Variant{}, err
	}
	if amount <= 0 {
		return forecast.Variant{}, a.invalid(reorderError(id, key, fmt.Errorf("%w: reorder amount %d", forecast.ErrOutOfRange, amount)))
	}
	if !forecast.IsReorderStatus(status) {
		return forecast.Variant{}, a.invalid(reorderError(id, key, fmt.Errorf("%w: reorder status %q", forecast.ErrOutOfRange, status)))
	}

	cell.Reorders = append(cell.Reorders, forecast.Reorder{Amount: amount, Status: status})

	out := a.Engine.ProjectVariant(v)
	a.Metrics.Edits.WithLabelValues("reorder_added").Inc()
	a.commit(ctx, out, PayloadFor(out), forecast.AuditEntry{
		Action:    forecast.AuditReorderAdded,
		VariantID: id,
		Week:      key.String(),
		Payload:   map[string]any{"amount": amount, "status": status},
	})
	return out, nil
}

// RemoveReorder deletes the index-th reorder of a week.
func (a *App) RemoveReorder(ctx context.Context, id forecast.VariantID, key forecast.WeekKey, index int) (forecast.Variant, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	v, cell, err := a.editableCell(id, key, forecast.FieldReorders)
	if err != nil {
		return forecast.Variant{}, err
	}
	if index < 0 || index >= len(cell.Reorders) {
		return forecast.Variant{}, a.invalid(reorderError(id, key, fmt.Errorf("%w: reorder index %d", forecast.ErrOutOfRange, index)))
	}

	removed := cell.Reorders[index]
	cell.Reorders = append(cell.Reorders[:index:index], cell.Reorders[index+1:]...)

	out := a.Engine.ProjectVariant(v)
	a.Metrics.Edits.WithLabelValues("reorder_removed").Inc()
	a.commit(ctx, out, PayloadFor(out), forecast.AuditEntry{
		Action:    forecast.AuditReorderRemoved,
		VariantID: id,
		Week:      key.String(),
		Payload:   map[string]any{"index": index, "amount": removed.Amount, "status": removed.Status},
	})
	return out, nil
}

// SetReorderStatus relabels a reorder. Labels never change quantities, but
// the variant's reorderStatus set may change.
func (a *App) SetReorderStatus(ctx context.Context, id forecast.VariantID, key forecast.WeekKey, index int, status string) (forecast.Variant, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	v, cell, err := a.editableCell(id, key, forecast.FieldReorders)
	if err != nil {
		return forecast.Variant{}, err
	}
	if index < 0 || index >= len(cell.Reorders) {
		return forecast.Variant{}, a.invalid(reorderError(id, key, fmt.Errorf("%w: reorder index %d", forecast.ErrOutOfRange, index)))
	}
	if !forecast.IsReorderStatus(status) {
		return forecast.Variant{}, a.invalid(reorderError(id, key, fmt.Errorf("%w: reorder status %q", forecast.ErrOutOfRange, status)))
	}

	before := cell.Reorders[index].Status
	cell.Reorders[index].Status = status

	out := a.Engine.ProjectVariant(v)
	a.Metrics.Edits.WithLabelValues("reorder_relabeled").Inc()
	a.commit(ctx, out, PayloadFor(out), forecast.AuditEntry{
		Action:    forecast.AuditReorderRelabeled,
		VariantID: id,
		Week:      key.String(),
		Payload:   map[string]any{"index": index, "before": before, "after": status},
	})
	return out, nil
}

func reorderError(id forecast.VariantID, key forecast.WeekKey, reason error) error {
	return &forecast.InvalidEditError{VariantID: id, Week: key, Field: forecast.FieldReorders, Reason: reason}
}
