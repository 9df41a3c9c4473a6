package app

import (
	"context"
	"log"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Reaper sweeps attempts whose deadline passed without any finalize
// arriving (client closed the tab and never polled again) and finalizes
// them with the timeout trigger. Finalize's compare-and-set makes the
// sweep safe to race against a late manual submit or another instance.
type Reaper struct {
	coordinator *SessionCoordinator
	attempts    AttemptStore
	interval    time.Duration
	batchSize   int
	now         func() time.Time
}

// ReaperOption tweaks reaper construction.
type ReaperOption func(*Reaper)

// WithReaperClock replaces the wall clock for tests.
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

func NewReaper(coordinator *SessionCoordinator, attempts AttemptStore, interval time.Duration, batchSize int, opts ...ReaperOption) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	r := &Reaper{
		coordinator: coordinator,
		attempts:    attempts,
		interval:    interval,
		batchSize:   batchSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps on a fixed interval until the context is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept, err := r.Sweep(ctx); err != nil {
				log.Printf("reaper sweep failed: %v", err)
			} else if swept > 0 {
				log.Printf("reaper finalized %d overdue attempts", swept)
			}
		}
	}
}

// Sweep finalizes one batch of overdue attempts and reports how many
// transitions this call performed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	overdue, err := r.attempts.ListOverdue(ctx, r.now(), r.batchSize)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, attempt := range overdue {
		if _, err := r.coordinator.Finalize(ctx, attempt.ID, domain.TriggerTimeout, nil); err != nil {
			// Keep sweeping; the attempt stays overdue and the next pass retries it.
			log.Printf("reaper finalize %s: %v", attempt.ID, err)
			continue
		}
		swept++
	}
	return swept, nil
}
