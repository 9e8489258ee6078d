/*
Package dashboard is the edit orchestration around the forecast core.

PURPOSE:
  App is the application-state object the HTTP layer and the CLI talk to.
  It owns the Product Store, the change ledgers, the projection engine and
  the push Dispatcher, and exposes every user operation as a method:
  single-cell edits, reorders, delivery time, reverts, bulk edit and bulk
  revert, selection and batched fetch.

EDIT SEQUENCE (every operation follows it):
  1. Lock the variant (edits to one variant apply in request order)
  2. Read a copy from the Product Store
  3. Validate (year lock, past week, field rules); on failure nothing changes
  4. Record originals into the ledgers
  5. Mutate the copy and re-run the engine for the whole forward window
  6. Write the result back to the Product Store
  7. Audit, checkpoint ledgers, enqueue the push (fire-and-forget)

SEE ALSO:
  - editor.go: Single-cell edits
  - bulk.go: Bulk edit
  - revert.go: Per-cell and bulk revert
  - persist.go: The push Dispatcher
  - fetch.go: Batched fetch into the Product Store
*/
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/warp/forecast-engine/forecast"
	"github.com/warp/forecast-engine/forecast/store"
)

// =============================================================================
// APP
// =============================================================================

type Options struct {
	Engine    *forecast.Engine
	Persister Persister
	Fetcher   Fetcher
	State     forecast.StateStore
	Audit     forecast.AuditLog
	Registry  prometheus.Registerer
	Logger    zerolog.Logger

	RetryConcurrency int
	NotifyCapacity   int
}

type App struct {
	Engine   *forecast.Engine
	Products *ProductStore
	Ledgers  *forecast.Ledgers
	Notes    *Notifications
	Metrics  *Metrics
	Outbox   *Dispatcher
	Loader   *Loader

	state forecast.StateStore
	audit forecast.AuditLog
	locks *VariantLocks
	log   zerolog.Logger

	checkpointMu sync.Mutex
}

// New wires an App. Missing stores default to in-memory ones; a missing
// registry gets a private one.
func New(opts Options) *App {
	if opts.Engine == nil {
		opts.Engine = forecast.NewEngine(time.Now)
	}
	if opts.State == nil || opts.Audit == nil {
		mem := store.NewMemory()
		if opts.State == nil {
			opts.State = mem
		}
		if opts.Audit == nil {
			opts.Audit = mem
		}
	}
	if opts.Persister == nil {
		opts.Persister = NopPersister{}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	a := &App{
		Engine:   opts.Engine,
		Products: NewProductStore(),
		Ledgers:  forecast.NewLedgers(),
		Notes:    NewNotifications(opts.NotifyCapacity, opts.Engine.Today),
		Metrics:  NewMetrics(opts.Registry),
		state:    opts.State,
		audit:    opts.Audit,
		locks:    NewVariantLocks(),
		log:      opts.Logger.With().Str("component", "dashboard").Logger(),
	}
	a.Outbox = NewDispatcher(opts.Persister, DispatcherOptions{
		Resolve:          a.resolvePayload,
		Notes:            a.Notes,
		Metrics:          a.Metrics,
		Logger:           a.log,
		RetryConcurrency: opts.RetryConcurrency,
	})
	if opts.Fetcher != nil {
		a.Loader = NewLoader(a, opts.Fetcher)
	}
	return a
}

// Restore loads persisted ledger state. Inconsistent keys are dropped and
// logged.
func (a *App) Restore(ctx context.Context) error {
	dropped, err := a.Ledgers.Load(ctx, a.state)
	if err != nil {
		return err
	}
	if dropped > 0 {
		a.log.Warn().Int("dropped", dropped).Msg("dropped inconsistent ledger keys on restore")
	}
	return nil
}

// Close drains pending pushes.
func (a *App) Close() {
	a.Outbox.Close()
}

// Variant returns the live variant.
func (a *App) Variant(id forecast.VariantID) (forecast.Variant, error) {
	v, ok := a.Products.Get(id)
	if !ok {
		return forecast.Variant{}, forecast.ErrVariantNotFound
	}
	return v, nil
}

// Load projects variants and replaces the store content outside of a
// batched fetch. Used by the CLI and tests.
func (a *App) Load(variants []forecast.Variant) {
	gen := a.Products.Begin()
	_ = a.apply(gen, a.Engine.Project(variants), Pagination{CurrentPage: 1}, nil)
}

// apply replaces the store content once no edit is in flight.
func (a *App) apply(gen uint64, variants []forecast.Variant, page Pagination, summary *InventorySummary) error {
	unlock := a.locks.Exclusive()
	defer unlock()
	return a.Products.Apply(gen, variants, page, summary)
}

// Audit returns audit entries matching filter.
func (a *App) Audit(ctx context.Context, filter forecast.AuditFilter) ([]forecast.AuditEntry, error) {
	return a.audit.Query(ctx, filter)
}

// =============================================================================
// SHARED STEPS
// =============================================================================

// commit writes the projected variant back, records the audit entry,
// checkpoints the ledgers and schedules the push.
func (a *App) commit(ctx context.Context, v forecast.Variant, p Payload, entry forecast.AuditEntry) {
	a.Products.Put(v)
	a.record(ctx, entry)
	a.checkpoint(ctx)
	a.Outbox.Enqueue(p)
}

func (a *App) record(ctx context.Context, entry forecast.AuditEntry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = a.Engine.Today()
	if err := a.audit.Append(ctx, entry); err != nil {
		a.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("audit append failed")
	}
}

// checkpoint persists the ledgers. Failure leaves the in-memory ledgers
// authoritative for this session.
func (a *App) checkpoint(ctx context.Context) {
	a.checkpointMu.Lock()
	defer a.checkpointMu.Unlock()
	if err := a.Ledgers.Save(ctx, a.state); err != nil {
		a.log.Warn().Err(err).Msg("ledger checkpoint failed")
	}
}

func (a *App) resolvePayload(id forecast.VariantID) (Payload, bool) {
	v, ok := a.Products.Get(id)
	if !ok {
		return Payload{}, false
	}
	return PayloadFor(v).WithDeliveryTime(v.DeliveryTime), true
}

// checkEditable refuses edits to locked years and past weeks.
func (a *App) checkEditable(id forecast.VariantID, key forecast.WeekKey, field forecast.Field) error {
	cur := a.Engine.CurrentWeek()
	if cur.Year-key.Year >= 2 {
		return &forecast.InvalidEditError{VariantID: id, Week: key, Field: field, Reason: forecast.ErrYearLocked}
	}
	if key.Before(cur) {
		return &forecast.InvalidEditError{VariantID: id, Week: key, Field: field, Reason: forecast.ErrPastWeek}
	}
	return nil
}

// invalid raises the user-visible notification for a refused edit.
func (a *App) invalid(err error) error {
	a.Notes.Push(LevelError, err.Error())
	a.log.Debug().Err(err).Msg("edit refused")
	return err
}
