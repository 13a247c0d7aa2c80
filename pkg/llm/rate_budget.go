package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateBudget enforces the outbound generation budget: at most Limit calls in
// any rolling Window, with at least MinInterval between consecutive calls.
// Waiters are serialized so bursts of concurrent questions drain in arrival
// order instead of stampeding the upstream quota.
type RateBudget struct {
	mu sync.Mutex

	limit       int
	window      time.Duration
	minInterval time.Duration

	calls []time.Time
	last  time.Time

	metrics *Metrics
	logger  *slog.Logger

	// nowFn is a test hook; production code uses time.Now.
	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewRateBudget creates a budget. limit <= 0 disables the rolling-window cap;
// minInterval <= 0 disables call spacing. metrics may be nil.
func NewRateBudget(limit int, window, minInterval time.Duration, metrics *Metrics) *RateBudget {
	if window <= 0 {
		window = time.Minute
	}
	return &RateBudget{
		limit:       limit,
		window:      window,
		minInterval: minInterval,
		metrics:     metrics,
		logger:      slog.Default().With("component", "rate-budget"),
		nowFn:       time.Now,
		sleepFn:     sleepCtx,
	}
}

// Wait blocks until the next call fits the budget, then records it. It
// returns early with the context error on cancellation; a cancelled wait
// consumes no budget.
func (b *RateBudget) Wait(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.nowFn()
	for {
		now := b.nowFn()
		cutoff := now.Add(-b.window)
		pruned := 0
		for pruned < len(b.calls) && !b.calls[pruned].After(cutoff) {
			pruned++
		}
		b.calls = b.calls[pruned:]

		var wait time.Duration
		if b.minInterval > 0 && !b.last.IsZero() {
			if d := b.minInterval - now.Sub(b.last); d > wait {
				wait = d
			}
		}
		if b.limit > 0 && len(b.calls) >= b.limit {
			if d := b.calls[0].Add(b.window).Sub(now); d > wait {
				wait = d
			}
		}

		if wait <= 0 {
			b.calls = append(b.calls, now)
			b.last = now
			if b.metrics != nil {
				b.metrics.RateBudgetWait.Observe(now.Sub(start).Seconds())
			}
			return nil
		}

		b.logger.Debug("Waiting on rate budget",
			slog.Duration("wait", wait),
			slog.Int("calls_in_window", len(b.calls)))
		if err := b.sleepFn(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
