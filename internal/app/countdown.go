package app

import (
	"context"
	"log"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// RemainingTimeFunc polls the coordinator for authoritative remaining time.
type RemainingTimeFunc func(ctx context.Context) (int64, error)

// TimeoutFunc fires the timeout finalize path exactly once per attempt.
type TimeoutFunc func(ctx context.Context) (domain.SubmissionResult, error)

// CountdownSync reconciles a locally ticking display countdown against
// the server's authoritative remaining time. The local per-second tick is
// display smoothing only; every reconcile interval the counter is
// overwritten with the polled value, and a failed poll just leaves the
// local tick running. When the displayed counter reaches zero the
// timeout finalize fires once and the synchronizer stops.
type CountdownSync struct {
	remaining RemainingTimeFunc
	timeout   TimeoutFunc

	reconcileEvery time.Duration
	tickEvery      time.Duration

	onTick   func(seconds int64)
	onResult func(domain.SubmissionResult)

	fired sync.Once
}

// SyncOption tweaks synchronizer construction.
type SyncOption func(*CountdownSync)

// WithIntervals overrides the display tick and reconcile poll intervals;
// tests shrink these to milliseconds.
func WithIntervals(tick, reconcile time.Duration) SyncOption {
	return func(s *CountdownSync) {
		s.tickEvery = tick
		s.reconcileEvery = reconcile
	}
}

// WithOnTick registers the display callback, invoked with the current
// counter after every local tick and every reconcile.
func WithOnTick(fn func(seconds int64)) SyncOption {
	return func(s *CountdownSync) { s.onTick = fn }
}

// WithOnResult registers the callback receiving the timeout submission result.
func WithOnResult(fn func(domain.SubmissionResult)) SyncOption {
	return func(s *CountdownSync) { s.onResult = fn }
}

func NewCountdownSync(remaining RemainingTimeFunc, timeout TimeoutFunc, opts ...SyncOption) *CountdownSync {
	s := &CountdownSync{
		remaining:      remaining,
		timeout:        timeout,
		reconcileEvery: 10 * time.Second,
		tickEvery:      time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run seeds the counter with one authoritative poll and then ticks until
// the counter reaches zero, the context is canceled, or a reconcile poll
// reports the attempt gone. Tearing Run down early is harmless: the
// server-side deadline exists independently and the reaper will finalize
// an abandoned attempt.
func (s *CountdownSync) Run(ctx context.Context) error {
	counter, err := s.remaining(ctx)
	if err != nil {
		return err
	}
	s.notifyTick(counter)
	if counter == 0 {
		return s.fire(ctx)
	}

	tick := time.NewTicker(s.tickEvery)
	defer tick.Stop()
	reconcile := time.NewTicker(s.reconcileEvery)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if counter > 0 {
				counter--
			}
			s.notifyTick(counter)
			if counter == 0 {
				return s.fire(ctx)
			}
		case <-reconcile.C:
			authoritative, err := s.remaining(ctx)
			if err != nil {
				// A single missed poll is not surfaced to the user; the
				// local tick keeps the display moving.
				log.Printf("countdown reconcile poll failed: %v", err)
				continue
			}
			counter = authoritative
			s.notifyTick(counter)
			if counter == 0 {
				return s.fire(ctx)
			}
		}
	}
}

// fire triggers the timeout finalize, guarded so repeated zero readings
// cannot double-submit from this process.
func (s *CountdownSync) fire(ctx context.Context) error {
	var err error
	s.fired.Do(func() {
		var result domain.SubmissionResult
		result, err = s.timeout(ctx)
		if err == nil && s.onResult != nil {
			s.onResult(result)
		}
	})
	return err
}

func (s *CountdownSync) notifyTick(seconds int64) {
	if s.onTick != nil {
		s.onTick(seconds)
	}
}
