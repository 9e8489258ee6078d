/*
fetch.go - Batched product fetch into the Product Store

PURPOSE:
  Loads one dashboard page from the backend in growing batches so the first
  rows show up quickly. After every batch the accumulated set is projected
  and applied, so the store always shows a consistent, fully projected
  prefix of the page.

BATCHES:
  {1: 30} {2: 100} {3: 200} {4: 670}, requested in order while the
  backend reports hasNextForThisPage.

CANCELLATION:
  Starting a fetch cancels the previous one and bumps the store's
  generation. A batch that still arrives for an older generation is refused
  by ProductStore.Apply with a StaleFetchError and dropped quietly.

SEE ALSO:
  - products.go: ProductStore.Begin / Apply
  - backend/client.go: The HTTP Fetcher
*/
package dashboard

import (
	"context"
	"errors"
	"sync"

	"github.com/warp/forecast-engine/forecast"
)

// Query selects a page of the dashboard.
type Query struct {
	Page            int      `json:"page"`
	Year            int      `json:"year"`
	Search          string   `json:"search,omitempty"`
	Products        []string `json:"products,omitempty"`
	Providers       []string `json:"selectedProviders,omitempty"`
	StatusFilters   []string `json:"statusFilters,omitempty"`
	InventoryStatus []string `json:"inventoryStatus,omitempty"`
}

type Batch struct {
	Number int `json:"batch"`
	Size   int `json:"batchSize"`
}

var DefaultBatches = []Batch{{1, 30}, {2, 100}, {3, 200}, {4, 670}}

// Page is one batch response.
type Page struct {
	Products        []forecast.Variant `json:"products"`
	Pagination      *Pagination        `json:"pagination"`
	InventoryStatus *InventorySummary  `json:"inventoryStatus"`
}

type Fetcher interface {
	FetchBatch(ctx context.Context, q Query, b Batch) (Page, error)
	VariantsCount(ctx context.Context, q Query) (InventorySummary, error)
}

// FetchResult describes a completed fetch.
type FetchResult struct {
	Generation uint64     `json:"generation"`
	Batches    int        `json:"batches"`
	Variants   int        `json:"variants"`
	Pagination Pagination `json:"pagination"`
}

// =============================================================================
// LOADER
// =============================================================================

type Loader struct {
	app     *App
	fetcher Fetcher
	Batches []Batch

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLoader(app *App, f Fetcher) *Loader {
	return &Loader{app: app, fetcher: f, Batches: DefaultBatches}
}

// Load cancels any running fetch and fetches q synchronously.
func (l *Loader) Load(ctx context.Context, q Query) (FetchResult, error) {
	ctx, gen, done := l.begin(ctx)
	defer done()
	return l.run(ctx, gen, q)
}

// Start cancels any running fetch and fetches q in the background. It
// returns the generation the fetch will apply under.
func (l *Loader) Start(q Query) uint64 {
	ctx, gen, done := l.begin(context.Background())
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer done()
		if _, err := l.run(ctx, gen, q); err != nil && !errors.Is(err, forecast.ErrStaleFetch) {
			l.app.log.Warn().Err(err).Uint64("generation", gen).Msg("fetch failed")
			l.app.Notes.Push(LevelError, "Loading products failed: "+err.Error())
		}
	}()
	return gen
}

// Wait blocks until background fetches have finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}

// Cancel stops the running fetch, if any.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *Loader) begin(parent context.Context) (context.Context, uint64, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	return ctx, l.app.Products.Begin(), cancel
}

func (l *Loader) run(ctx context.Context, gen uint64, q Query) (FetchResult, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	res := FetchResult{Generation: gen}
	page := Pagination{CurrentPage: q.Page, HasNextForThisPage: true}
	var (
		acc     []forecast.Variant
		summary *InventorySummary
	)

	for _, b := range l.Batches {
		if !page.HasNextForThisPage {
			break
		}
		resp, err := l.fetcher.FetchBatch(ctx, q, b)
		if err != nil {
			if ctx.Err() != nil {
				return res, l.stale(gen)
			}
			return res, err
		}

		acc = append(acc, resp.Products...)
		if resp.Pagination != nil {
			page = *resp.Pagination
			page.CurrentPage = q.Page
		}
		if resp.InventoryStatus != nil {
			summary = resp.InventoryStatus
		}

		projected := l.app.Engine.Project(acc)
		if err := l.app.apply(gen, projected, page, summary); err != nil {
			l.app.Metrics.StaleFetches.Inc()
			l.app.log.Debug().Err(err).Msg("discarding stale batch")
			return res, err
		}
		l.app.Metrics.FetchedBatches.Inc()
		res.Batches++
		res.Variants = len(acc)
		res.Pagination = page
	}

	if summary == nil {
		l.fillSummary(ctx, gen, q)
	}
	return res, nil
}

// fillSummary asks the variants-count endpoint when no batch carried an
// inventory summary. Failure leaves the local recomputation in place.
func (l *Loader) fillSummary(ctx context.Context, gen uint64, q Query) {
	sum, err := l.fetcher.VariantsCount(ctx, q)
	if err != nil {
		l.app.log.Debug().Err(err).Msg("variants count unavailable")
		return
	}
	if l.app.Products.Generation() != gen {
		return
	}
	l.app.Products.SetSummary(sum)
}

func (l *Loader) stale(gen uint64) error {
	l.app.Metrics.StaleFetches.Inc()
	return &forecast.StaleFetchError{Generation: gen, Current: l.app.Products.Generation()}
}
