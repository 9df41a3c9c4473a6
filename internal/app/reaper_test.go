package app_test

import (
	"context"
	"testing"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

func TestReaperSweepsOverdueAttempts(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(testBase)
	coord, store := newTestCoordinator(clock)

	overdue, err := coord.Start(ctx, student("u1"), "quiz-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := coord.RecordAnswer(ctx, student("u1"), overdue.ID, "q1", "4"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// A second student starts later and is still inside their window when
	// the sweep runs.
	clock.Advance(25 * time.Minute)
	live, err := coord.Start(ctx, student("u2"), "quiz-1")
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	clock.Advance(10 * time.Minute)
	reaper := app.NewReaper(coord, store, time.Minute, 10, app.WithReaperClock(clock.Now))
	swept, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 attempt swept, got %d", swept)
	}

	reaped, _ := store.Get(ctx, overdue.ID)
	if reaped.State != domain.AttemptExpired {
		t.Fatalf("expected overdue attempt expired, got %s", reaped.State)
	}
	if reaped.Result == nil || reaped.Result.Trigger != domain.TriggerTimeout {
		t.Fatalf("expected timeout trigger, got %+v", reaped.Result)
	}
	// Journaled answers survive into the graded result.
	if reaped.Result.CorrectAnswers != 1 {
		t.Fatalf("expected journal graded, got %d correct", reaped.Result.CorrectAnswers)
	}

	untouched, _ := store.Get(ctx, live.ID)
	if untouched.State != domain.AttemptInProgress {
		t.Fatalf("sweep touched a live attempt: %s", untouched.State)
	}
}

func TestReaperSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(testBase)
	coord, store := newTestCoordinator(clock)

	if _, err := coord.Start(ctx, student("u1"), "quiz-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	clock.Advance(31 * time.Minute)

	reaper := app.NewReaper(coord, store, time.Minute, 10, app.WithReaperClock(clock.Now))
	if swept, err := reaper.Sweep(ctx); err != nil || swept != 1 {
		t.Fatalf("first sweep: swept=%d err=%v", swept, err)
	}
	if swept, err := reaper.Sweep(ctx); err != nil || swept != 0 {
		t.Fatalf("second sweep should find nothing: swept=%d err=%v", swept, err)
	}
}
