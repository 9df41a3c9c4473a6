package app_test

import (
	"testing"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

func TestEvaluateNonLiveQuiz(t *testing.T) {
	quiz := domain.Quiz{ID: "quiz-1", DurationMinutes: 45}

	result := app.Evaluate(student("u1"), quiz, testBase)
	if !result.Eligible {
		t.Fatalf("expected eligible, got %+v", result)
	}
	if result.DurationMinutes != 45 {
		t.Fatalf("expected nominal duration 45, got %d", result.DurationMinutes)
	}
}

func TestEvaluateLiveWindow(t *testing.T) {
	start := testBase
	end := testBase.Add(30 * time.Minute)
	quiz := domain.Quiz{
		ID:              "quiz-live",
		DurationMinutes: 30,
		IsLiveSession:   true,
		LiveStartTime:   &start,
		LiveEndTime:     &end,
	}

	cases := []struct {
		name         string
		now          time.Time
		wantEligible bool
		wantDuration int
	}{
		{"before start", start.Add(-time.Second), false, 0},
		{"at start", start, true, 30},
		{"ten minutes in", start.Add(10 * time.Minute), true, 20},
		{"partial minute rounds up", start.Add(10*time.Minute + 30*time.Second), true, 20},
		{"at end", end, false, 0},
		{"after end", end.Add(time.Hour), false, 0},
	}
	for _, tc := range cases {
		result := app.Evaluate(student("u1"), quiz, tc.now)
		if result.Eligible != tc.wantEligible {
			t.Fatalf("%s: expected eligible=%v, got %+v", tc.name, tc.wantEligible, result)
		}
		if result.DurationMinutes != tc.wantDuration {
			t.Fatalf("%s: expected duration %d, got %d", tc.name, tc.wantDuration, result.DurationMinutes)
		}
	}
}

func TestEvaluateLiveWindowReasons(t *testing.T) {
	start := testBase
	end := testBase.Add(30 * time.Minute)
	quiz := domain.Quiz{IsLiveSession: true, LiveStartTime: &start, LiveEndTime: &end}

	if got := app.Evaluate(student("u1"), quiz, start.Add(-time.Minute)).Reason; got != "quiz has not started yet" {
		t.Fatalf("unexpected reason before window: %q", got)
	}
	if got := app.Evaluate(student("u1"), quiz, end).Reason; got != "quiz session has ended" {
		t.Fatalf("unexpected reason after window: %q", got)
	}
}

func TestEvaluateMisconfiguredLiveSession(t *testing.T) {
	quiz := domain.Quiz{IsLiveSession: true, DurationMinutes: 30}

	result := app.Evaluate(student("u1"), quiz, testBase)
	if result.Eligible {
		t.Fatalf("expected ineligible without a window, got %+v", result)
	}
}

func TestEvaluatePrivilegedBypass(t *testing.T) {
	start := testBase
	end := testBase.Add(30 * time.Minute)
	quiz := domain.Quiz{
		DurationMinutes: 30,
		IsLiveSession:   true,
		LiveStartTime:   &start,
		LiveEndTime:     &end,
	}

	for _, role := range []domain.Role{domain.RoleTeacher, domain.RoleAdmin} {
		result := app.Evaluate(domain.Identity{ID: "p1", Role: role}, quiz, end.Add(time.Hour))
		if !result.Eligible || result.DurationMinutes != 30 {
			t.Fatalf("%s: expected bypass with nominal duration, got %+v", role, result)
		}
	}
}
