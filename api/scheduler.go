/*
scheduler.go - Background retry of failed upstream pushes

PURPOSE:
  Edits are applied locally first and pushed afterwards. A failed push
  leaves the variant dirty; this scheduler periodically re-pushes the latest
  state of every dirty variant until the backend accepts it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Skips a tick when nothing is dirty
  - RetryDirty itself runs the pushes concurrently (errgroup, bounded)
  - RunNow triggers a pass outside the ticker (POST /api/outbox/retry)

CONFIGURATION:
  - Interval: How often to check (RETRY_INTERVAL_SECONDS, default 30s)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRetryScheduler(app.Outbox, logger.Log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - dashboard/persist.go: Dispatcher.RetryDirty
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/forecast-engine/dashboard"
	"github.com/warp/forecast-engine/forecast"
)

// Retrier is the part of the push Dispatcher the scheduler needs.
type Retrier interface {
	Dirty() []forecast.VariantID
	RetryDirty(ctx context.Context) dashboard.RetryResult
}

// RetryScheduler re-pushes dirty variants on an interval.
type RetryScheduler struct {
	Outbox   Retrier
	Interval time.Duration
	Enabled  bool
	// Timeout bounds one pass.
	Timeout time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRetryScheduler creates a new scheduler.
func NewRetryScheduler(outbox Retrier, log zerolog.Logger) *RetryScheduler {
	return &RetryScheduler{
		Outbox:   outbox,
		Interval: 30 * time.Second,
		Enabled:  true,
		Timeout:  time.Minute,
		log:      log.With().Str("component", "retry_scheduler").Logger(),
	}
}

// Start begins the scheduler.
func (rs *RetryScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info().Msg("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.log.Info().Dur("interval", rs.Interval).Msg("started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *RetryScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info().Msg("stopped")
	}
}

func (rs *RetryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	for {
		select {
		case <-ticker.C:
			rs.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one retry pass. It returns a zero result without calling
// the backend when nothing is dirty.
func (rs *RetryScheduler) RunNow(ctx context.Context) dashboard.RetryResult {
	dirty := rs.Outbox.Dirty()
	if len(dirty) == 0 {
		return dashboard.RetryResult{}
	}

	if rs.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.Timeout)
		defer cancel()
	}

	res := rs.Outbox.RetryDirty(ctx)
	ev := rs.log.Info()
	if res.Err != nil {
		ev = rs.log.Warn().Err(res.Err)
	}
	ev.Int("dirty", len(dirty)).
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Msg("retry pass")
	return res
}
