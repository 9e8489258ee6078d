/*
persist.go - Pushing edits to the forecast backend

PURPOSE:
  Every edit updates the Product Store optimistically and then hands a
  payload to the Dispatcher. The Dispatcher pushes payloads to the backend
  on a single worker goroutine, strictly in the order they were enqueued,
  so edits to one variant reach the backend in request order. Callers never
  wait for the push.

FAILURE POLICY (keep and flag dirty):
  A failed push does not roll back local state. The variants are marked
  dirty, a notification is raised and the failure is counted. RetryDirty
  re-pushes the LATEST state of every dirty variant (resolved from the
  Product Store when the retry runs, not the payload that failed). Any later
  successful push for a variant clears its flag.

PAYLOADS:
  single: {variantId, forecast, currentWeekStatus, reorderStatus, deliveryTime?}
  bulk:   [{variantId, forecast, currentWeekStatus, reorderStatus}, ...]

SEE ALSO:
  - backend/client.go: The HTTP Persister
  - api/scheduler.go: Periodic RetryDirty
*/
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/forecast-engine/forecast"
)

// =============================================================================
// PAYLOAD
// =============================================================================

type Payload struct {
	VariantID         forecast.VariantID      `json:"variantId"`
	Forecast          []forecast.YearForecast `json:"forecast"`
	CurrentWeekStatus forecast.Status         `json:"currentWeekStatus"`
	ReorderStatus     []string                `json:"reorderStatus"`
	DeliveryTime      *int                    `json:"deliveryTime,omitempty"`
}

// PayloadFor builds the push payload of a projected variant.
func PayloadFor(v forecast.Variant) Payload {
	return Payload{
		VariantID:         v.VariantID,
		Forecast:          forecast.CloneForecast(v.Forecast),
		CurrentWeekStatus: v.CurrentWeekStatus,
		ReorderStatus:     append([]string{}, v.ReorderStatus...),
	}
}

// WithDeliveryTime returns p carrying the variant's delivery time.
func (p Payload) WithDeliveryTime(days int) Payload {
	p.DeliveryTime = &days
	return p
}

// Persister is the backend the Dispatcher pushes to.
type Persister interface {
	UpsertForecast(ctx context.Context, p Payload) error
	UpdateBulk(ctx context.Context, ps []Payload) error
}

// NopPersister discards every push. Used when no backend is configured.
type NopPersister struct{}

func (NopPersister) UpsertForecast(context.Context, Payload) error { return nil }
func (NopPersister) UpdateBulk(context.Context, []Payload) error    { return nil }

// =============================================================================
// DISPATCHER
// =============================================================================

type jobKind int

const (
	jobSingle jobKind = iota
	jobBulk
	jobRetry
)

type job struct {
	kind     jobKind
	payloads []Payload
	result   chan RetryResult
}

// RetryResult reports one RetryDirty pass.
type RetryResult struct {
	Attempted int
	Succeeded int
	Err       error
}

type DispatcherOptions struct {
	// Resolve returns the current payload of a variant for retries.
	Resolve          func(id forecast.VariantID) (Payload, bool)
	Notes            *Notifications
	Metrics          *Metrics
	Logger           zerolog.Logger
	RetryConcurrency int
}

type Dispatcher struct {
	persister Persister
	opts      DispatcherOptions

	mu      sync.Mutex
	queue   []job
	dirty   map[forecast.VariantID]bool
	closed  bool
	signal  chan struct{}
	stopped chan struct{}
	pending sync.WaitGroup
}

func NewDispatcher(p Persister, opts DispatcherOptions) *Dispatcher {
	if opts.RetryConcurrency <= 0 {
		opts.RetryConcurrency = 4
	}
	d := &Dispatcher{
		persister: p,
		opts:      opts,
		dirty:     make(map[forecast.VariantID]bool),
		signal:    make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue schedules a single-variant push.
func (d *Dispatcher) Enqueue(p Payload) {
	d.push(job{kind: jobSingle, payloads: []Payload{p}})
}

// EnqueueBulk schedules one bulk push for several variants.
func (d *Dispatcher) EnqueueBulk(ps []Payload) {
	if len(ps) == 0 {
		return
	}
	d.push(job{kind: jobBulk, payloads: ps})
}

func (d *Dispatcher) push(j job) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.pending.Add(1)
	d.queue = append(d.queue, j)
	select {
	case d.signal <- struct{}{}:
	default:
	}
	d.mu.Unlock()
	return true
}

// RetryDirty re-pushes the latest state of every dirty variant. It runs in
// queue order with the other pushes and blocks until done or ctx ends.
func (d *Dispatcher) RetryDirty(ctx context.Context) RetryResult {
	result := make(chan RetryResult, 1)
	if !d.push(job{kind: jobRetry, result: result}) {
		return RetryResult{Err: errors.New("dispatcher closed")}
	}
	select {
	case r := <-result:
		return r
	case <-ctx.Done():
		return RetryResult{Err: ctx.Err()}
	}
}

// Flush blocks until every job enqueued so far has been processed.
func (d *Dispatcher) Flush() {
	d.pending.Wait()
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.pending.Wait()
	d.mu.Lock()
	close(d.signal)
	d.mu.Unlock()
	<-d.stopped
}

// Dirty lists the variants whose latest state failed to reach the backend.
func (d *Dispatcher) Dirty() []forecast.VariantID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]forecast.VariantID, 0, len(d.dirty))
	for id := range d.dirty {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Dispatcher) IsDirty(id forecast.VariantID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty[id]
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for range d.signal {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			j := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()

			d.process(j)
			d.pending.Done()
		}
	}
}

func (d *Dispatcher) process(j job) {
	ctx := context.Background()
	switch j.kind {
	case jobSingle:
		err := d.persister.UpsertForecast(ctx, j.payloads[0])
		d.settle(ids(j.payloads), err)
	case jobBulk:
		err := d.persister.UpdateBulk(ctx, j.payloads)
		d.settle(ids(j.payloads), err)
	case jobRetry:
		j.result <- d.retry(ctx)
	}
}

func (d *Dispatcher) retry(ctx context.Context) RetryResult {
	targets := d.Dirty()
	res := RetryResult{Attempted: len(targets)}
	if len(targets) == 0 {
		return res
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.RetryConcurrency)
	for _, id := range targets {
		g.Go(func() error {
			p, ok := d.resolve(id)
			if !ok {
				// Gone from the store; nothing left to push.
				d.clear(id)
				return nil
			}
			err := d.persister.UpsertForecast(gctx, p)
			d.settle([]forecast.VariantID{id}, err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				res.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		res.Err = errors.Join(errs...)
	}
	d.opts.Logger.Info().
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Msg("retried dirty variants")
	return res
}

func (d *Dispatcher) resolve(id forecast.VariantID) (Payload, bool) {
	if d.opts.Resolve == nil {
		return Payload{}, false
	}
	return d.opts.Resolve(id)
}

func (d *Dispatcher) settle(variantIDs []forecast.VariantID, err error) {
	if err == nil {
		d.observe("ok")
		d.clear(variantIDs...)
		return
	}

	perr := &forecast.PersistenceError{VariantIDs: variantIDs, Err: err}
	d.mu.Lock()
	for _, id := range variantIDs {
		d.dirty[id] = true
	}
	dirty := len(d.dirty)
	d.mu.Unlock()

	d.opts.Logger.Warn().Err(err).Int("variants", len(variantIDs)).Msg("push failed, keeping local state")
	if d.opts.Notes != nil {
		d.opts.Notes.Push(LevelError, fmt.Sprintf("Saving failed: %v", perr))
	}
	d.observe("failed")
	if m := d.opts.Metrics; m != nil {
		m.PersistFailures.Inc()
		m.DirtyVariants.Set(float64(dirty))
	}
}

func (d *Dispatcher) clear(variantIDs ...forecast.VariantID) {
	d.mu.Lock()
	for _, id := range variantIDs {
		delete(d.dirty, id)
	}
	dirty := len(d.dirty)
	d.mu.Unlock()
	if m := d.opts.Metrics; m != nil {
		m.DirtyVariants.Set(float64(dirty))
	}
}

func (d *Dispatcher) observe(outcome string) {
	if m := d.opts.Metrics; m != nil {
		m.Pushes.WithLabelValues(outcome).Inc()
	}
}

func ids(ps []Payload) []forecast.VariantID {
	out := make([]forecast.VariantID, len(ps))
	for i, p := range ps {
		out[i] = p.VariantID
	}
	return out
}
