package backend

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/warp/forecast-engine/cache"
	"github.com/warp/forecast-engine/dashboard"
)

// Upstream is everything the dashboard needs from the backend.
type Upstream interface {
	dashboard.Fetcher
	dashboard.Persister
}

// CachedClient serves repeated page and count reads from a PageCache.
// Cache failures are logged and fall through to the backend. A successful
// push drops every cached page.
type CachedClient struct {
	next  Upstream
	cache cache.PageCache
	log   zerolog.Logger
}

func NewCachedClient(next Upstream, c cache.PageCache, log zerolog.Logger) *CachedClient {
	return &CachedClient{next: next, cache: c, log: log.With().Str("component", "page_cache").Logger()}
}

func (c *CachedClient) FetchBatch(ctx context.Context, q dashboard.Query, b dashboard.Batch) (dashboard.Page, error) {
	page, ok, err := c.cache.GetPage(ctx, q, b)
	if err != nil {
		c.log.Warn().Err(err).Msg("page cache read failed")
	}
	if ok {
		return page, nil
	}

	page, err = c.next.FetchBatch(ctx, q, b)
	if err != nil {
		return dashboard.Page{}, err
	}
	if err := c.cache.SetPage(ctx, q, b, page); err != nil {
		c.log.Warn().Err(err).Msg("page cache write failed")
	}
	return page, nil
}

func (c *CachedClient) VariantsCount(ctx context.Context, q dashboard.Query) (dashboard.InventorySummary, error) {
	sum, ok, err := c.cache.GetCount(ctx, q)
	if err != nil {
		c.log.Warn().Err(err).Msg("count cache read failed")
	}
	if ok {
		return sum, nil
	}

	sum, err = c.next.VariantsCount(ctx, q)
	if err != nil {
		return dashboard.InventorySummary{}, err
	}
	if err := c.cache.SetCount(ctx, q, sum); err != nil {
		c.log.Warn().Err(err).Msg("count cache write failed")
	}
	return sum, nil
}

func (c *CachedClient) UpsertForecast(ctx context.Context, p dashboard.Payload) error {
	if err := c.next.UpsertForecast(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *CachedClient) UpdateBulk(ctx context.Context, ps []dashboard.Payload) error {
	if err := c.next.UpdateBulk(ctx, ps); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *CachedClient) invalidate(ctx context.Context) {
	if err := c.cache.InvalidateAll(ctx); err != nil {
		c.log.Warn().Err(err).Msg("page cache invalidation failed")
	}
}
