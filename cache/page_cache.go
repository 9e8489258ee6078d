/*
page_cache.go - Short-lived cache of upstream forecast pages

PURPOSE:
  Repeated dashboard loads of the same query hit the forecast backend for
  every batch. With CACHE_ENABLED the raw batch responses and variant
  counts are kept in redis for CACHE_TTL_SECONDS. Any successful push
  invalidates everything, so an edit is never hidden behind a stale page.

KEYS:
  forecast:page:<sha1(query)>:<batch>
  forecast:count:<sha1(query)>
*/
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/forecast-engine/config"
	"github.com/warp/forecast-engine/dashboard"
)

const (
	keyPrefix      = "forecast:"
	pageKeyPrefix  = keyPrefix + "page"
	countKeyPrefix = keyPrefix + "count"
	scanBatchSize  = 100
)

type PageCache interface {
	GetPage(ctx context.Context, q dashboard.Query, b dashboard.Batch) (dashboard.Page, bool, error)
	SetPage(ctx context.Context, q dashboard.Query, b dashboard.Batch, page dashboard.Page) error
	GetCount(ctx context.Context, q dashboard.Query) (dashboard.InventorySummary, bool, error)
	SetCount(ctx context.Context, q dashboard.Query, sum dashboard.InventorySummary) error
	InvalidateAll(ctx context.Context) error
}

type redisPageCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopPageCache struct{}

func NewPageCache(cfg config.CacheConfig) (PageCache, error) {
	if !cfg.Enabled {
		return &noopPageCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisPageCache(client, ttl), nil
}

// NewRedisPageCache wraps an existing client.
func NewRedisPageCache(client *redis.Client, ttl time.Duration) PageCache {
	return &redisPageCache{client: client, ttl: ttl}
}

func NewNoopPageCache() PageCache {
	return &noopPageCache{}
}

func (c *redisPageCache) GetPage(ctx context.Context, q dashboard.Query, b dashboard.Batch) (dashboard.Page, bool, error) {
	var page dashboard.Page
	ok, err := c.get(ctx, PageKey(q, b), &page)
	return page, ok, err
}

func (c *redisPageCache) SetPage(ctx context.Context, q dashboard.Query, b dashboard.Batch, page dashboard.Page) error {
	return c.set(ctx, PageKey(q, b), page)
}

func (c *redisPageCache) GetCount(ctx context.Context, q dashboard.Query) (dashboard.InventorySummary, bool, error) {
	var sum dashboard.InventorySummary
	ok, err := c.get(ctx, CountKey(q), &sum)
	return sum, ok, err
}

func (c *redisPageCache) SetCount(ctx context.Context, q dashboard.Query, sum dashboard.InventorySummary) error {
	return c.set(ctx, CountKey(q), sum)
}

func (c *redisPageCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, keyPrefix, scanBatchSize)
}

func (c *redisPageCache) get(ctx context.Context, key string, dst any) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return false, fmt.Errorf("decode page cache %s: %w", key, err)
	}
	return true, nil
}

func (c *redisPageCache) set(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode page cache %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (n *noopPageCache) GetPage(context.Context, dashboard.Query, dashboard.Batch) (dashboard.Page, bool, error) {
	return dashboard.Page{}, false, nil
}

func (n *noopPageCache) SetPage(context.Context, dashboard.Query, dashboard.Batch, dashboard.Page) error {
	return nil
}

func (n *noopPageCache) GetCount(context.Context, dashboard.Query) (dashboard.InventorySummary, bool, error) {
	return dashboard.InventorySummary{}, false, nil
}

func (n *noopPageCache) SetCount(context.Context, dashboard.Query, dashboard.InventorySummary) error {
	return nil
}

func (n *noopPageCache) InvalidateAll(context.Context) error {
	return nil
}

// =============================================================================
// KEYS
// =============================================================================

func PageKey(q dashboard.Query, b dashboard.Batch) string {
	return fmt.Sprintf("%s:%s:%d", pageKeyPrefix, queryHash(q), b.Number)
}

func CountKey(q dashboard.Query) string {
	return fmt.Sprintf("%s:%s", countKeyPrefix, queryHash(q))
}

// queryHash is stable under reordering and case of list filters. Page is
// part of the key; batch size is implied by the batch number.
func queryHash(q dashboard.Query) string {
	parts := []string{fmt.Sprintf("page=%d", max(q.Page, 1))}

	if q.Year != 0 {
		parts = append(parts, fmt.Sprintf("year=%d", q.Year))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		parts = append(parts, "search="+strings.ToLower(s))
	}
	if len(q.Products) > 0 {
		parts = append(parts, "products="+joinStrings(q.Products))
	}
	if len(q.Providers) > 0 {
		parts = append(parts, "providers="+joinStrings(q.Providers))
	}
	if len(q.StatusFilters) > 0 {
		parts = append(parts, "status="+joinStrings(q.StatusFilters))
	}
	if len(q.InventoryStatus) > 0 {
		parts = append(parts, "inventory="+joinStrings(q.InventoryStatus))
	}

	sort.Strings(parts)
	raw := strings.Join(parts, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func joinStrings(values []string) string {
	c := append([]string(nil), values...)
	for i := range c {
		c[i] = strings.TrimSpace(strings.ToLower(c[i]))
	}
	sort.Strings(c)
	return strings.Join(c, ",")
}
