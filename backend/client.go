/*
client.go - HTTP client for the forecast REST backend

PURPOSE:
  The backend owns the authoritative forecast data. This client implements
  dashboard.Fetcher (batched product pages and the variants count) and
  dashboard.Persister (single upsert and bulk update).

ENDPOINTS:
  GET  /v1/forecast/get-forecast          ?page&batch&batchSize&year&...
  GET  /v1/forecast/get-variants-count    same filters
  POST /v1/forecast/upsert-forecast       {variantId, forecast, currentWeekStatus, reorderStatus, deliveryTime?}
  POST /v1/forecast/update-bulk-data      {forecastsData: [...]}

  Every response is wrapped as {statusCode, success, data, error}.

RETRIES:
  GETs are retried with exponential backoff on transport errors, 429 and
  5xx. Pushes are not retried here; a failed push marks the variant dirty
  and the retry scheduler re-sends its latest state.
*/
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/warp/forecast-engine/config"
	"github.com/warp/forecast-engine/dashboard"
)

const (
	PathProducts      = "/v1/forecast/get-forecast"
	PathUpsert        = "/v1/forecast/upsert-forecast"
	PathBulkUpdate    = "/v1/forecast/update-bulk-data"
	PathVariantsCount = "/v1/forecast/get-variants-count"
)

// ErrNotConfigured is returned when no backend base URL is set.
var ErrNotConfigured = errors.New("forecast backend not configured")

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Msg)
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type envelope[T any] struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Data       T      `json:"data"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// =============================================================================
// CLIENT
// =============================================================================

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	// MaxTries bounds GET attempts, including the first.
	MaxTries uint
	// Backoff builds the retry schedule; tests shorten it.
	Backoff func() backoff.BackOff
}

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RequestsPerSecond caps outgoing requests; zero means unlimited.
	RequestsPerSecond float64
	Logger            zerolog.Logger
}

// OptionsFromConfig maps the service configuration onto client options.
func OptionsFromConfig(cfg config.BackendConfig, log zerolog.Logger) Options {
	return Options{
		BaseURL: cfg.BaseURL,
		Token:   cfg.APIToken,
		Timeout: cfg.Timeout(),
		Logger:  log,
	}
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.Token,
		http:     &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		log:      opts.Logger.With().Str("component", "backend").Logger(),
		MaxTries: 3,
		Backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, nil
}

// fetchParams mirrors the query string the backend expects. List filters
// use bracket notation (products[]=a&products[]=b).
type fetchParams struct {
	Page            int      `url:"page"`
	Batch           int      `url:"batch,omitempty"`
	BatchSize       int      `url:"batchSize,omitempty"`
	Year            int      `url:"year,omitempty"`
	Search          string   `url:"search,omitempty"`
	Products        []string `url:"products,omitempty,brackets"`
	Providers       []string `url:"selectedProviders,omitempty,brackets"`
	StatusFilters   []string `url:"statusFilters,omitempty,brackets"`
	InventoryStatus []string `url:"inventoryStatus,omitempty,brackets"`
}

func paramsFor(q dashboard.Query, b dashboard.Batch) (url.Values, error) {
	page := q.Page
	if page <= 0 {
		page = 1
	}
	return query.Values(fetchParams{
		Page:            page,
		Batch:           b.Number,
		BatchSize:       b.Size,
		Year:            q.Year,
		Search:          q.Search,
		Products:        q.Products,
		Providers:       q.Providers,
		StatusFilters:   q.StatusFilters,
		InventoryStatus: q.InventoryStatus,
	})
}

// FetchBatch loads one batch of a dashboard page.
func (c *Client) FetchBatch(ctx context.Context, q dashboard.Query, b dashboard.Batch) (dashboard.Page, error) {
	params, err := paramsFor(q, b)
	if err != nil {
		return dashboard.Page{}, err
	}
	var env envelope[dashboard.Page]
	if err := c.get(ctx, PathProducts, params, &env); err != nil {
		return dashboard.Page{}, err
	}
	return env.Data, nil
}

// VariantsCount loads the inventory status summary for a query.
func (c *Client) VariantsCount(ctx context.Context, q dashboard.Query) (dashboard.InventorySummary, error) {
	params, err := paramsFor(q, dashboard.Batch{})
	if err != nil {
		return dashboard.InventorySummary{}, err
	}
	var env envelope[dashboard.InventorySummary]
	if err := c.get(ctx, PathVariantsCount, params, &env); err != nil {
		return dashboard.InventorySummary{}, err
	}
	return env.Data, nil
}

func (c *Client) UpsertForecast(ctx context.Context, p dashboard.Payload) error {
	return c.do(ctx, http.MethodPost, PathUpsert, nil, p, nil)
}

func (c *Client) UpdateBulk(ctx context.Context, ps []dashboard.Payload) error {
	body := struct {
		ForecastsData []dashboard.Payload `json:"forecastsData"`
	}{ForecastsData: ps}
	return c.do(ctx, http.MethodPost, PathBulkUpdate, nil, body, nil)
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	op := func() (struct{}, error) {
		err := c.do(ctx, http.MethodGet, path, params, nil, out)
		if err == nil || retryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.Backoff()),
		backoff.WithMaxTries(c.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Debug().Err(err).Str("path", path).Dur("wait", wait).Msg("retrying backend request")
		}),
	)
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var de *decodeError
	return !errors.As(err, &de)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode backend response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: path, Code: resp.StatusCode}
		var env envelope[json.RawMessage]
		if json.Unmarshal(raw, &env) == nil {
			se.Msg = firstNonEmpty(env.Error, env.Message)
		}
		return se
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
