package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

func TestAttemptLifecycleOverREST(t *testing.T) {
	clock := newTestClock()
	server := newTestServer(t, clock)
	defer server.Close()

	attempt := startAttempt(t, server, "u1", "quiz-1")
	if attempt.State != domain.AttemptInProgress {
		t.Fatalf("expected in_progress, got %s", attempt.State)
	}

	// Autosave an answer.
	resp := doJSON(t, server, "POST", "/api/attempts/"+attempt.ID+"/answers", "u1", "",
		map[string]string{"questionId": "q1", "answerText": "4"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save answer: status %d", resp.StatusCode)
	}

	// Remaining time is derived from the server deadline.
	var remaining struct {
		RemainingSeconds int64 `json:"remainingSeconds"`
	}
	decode(t, doJSON(t, server, "GET", "/api/attempts/"+attempt.ID+"/time", "u1", "", nil), &remaining)
	if remaining.RemainingSeconds != 1800 {
		t.Fatalf("expected 1800 seconds, got %d", remaining.RemainingSeconds)
	}

	// The answered count backs the submit confirmation dialog.
	var answers struct {
		Answered   int `json:"answered"`
		Unanswered int `json:"unanswered"`
	}
	decode(t, doJSON(t, server, "GET", "/api/attempts/"+attempt.ID+"/answers", "u1", "", nil), &answers)
	if answers.Answered != 1 || answers.Unanswered != 1 {
		t.Fatalf("expected 1 answered and 1 unanswered, got %+v", answers)
	}

	var result domain.SubmissionResult
	decode(t, doJSON(t, server, "POST", "/api/attempts/"+attempt.ID+"/submit", "u1", "",
		map[string]any{"answers": []map[string]string{{"questionId": "q2", "answerText": "true"}}}), &result)
	if result.CorrectAnswers != 2 {
		t.Fatalf("expected merged grading with 2 correct, got %+v", result)
	}
	if result.Trigger != domain.TriggerManual {
		t.Fatalf("expected manual trigger, got %s", result.Trigger)
	}

	// A repeated submit returns the persisted result, not an error.
	var again domain.SubmissionResult
	decode(t, doJSON(t, server, "POST", "/api/attempts/"+attempt.ID+"/submit", "u1", "",
		map[string]any{"answers": []map[string]string{}}), &again)
	if again.Score != result.Score || again.Trigger != result.Trigger {
		t.Fatalf("repeated submit diverged: %+v vs %+v", again, result)
	}
}

func TestIdentityHeaderRequired(t *testing.T) {
	server := newTestServer(t, newTestClock())
	defer server.Close()

	resp := doJSON(t, server, "POST", "/api/attempts/start", "", "", map[string]string{"quizId": "quiz-1"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", resp.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	clock := newTestClock()
	server := newTestServer(t, clock)
	defer server.Close()

	if resp := doJSON(t, server, "POST", "/api/attempts/start", "u1", "", map[string]string{"quizId": "ghost"}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown quiz: expected 404, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, server, "GET", "/api/attempts/ghost/time", "u1", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown attempt: expected 404, got %d", resp.StatusCode)
	}

	attempt := startAttempt(t, server, "u1", "quiz-1")

	if resp := doJSON(t, server, "GET", "/api/attempts/"+attempt.ID+"/answers", "u2", "", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign attempt: expected 403, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, server, "POST", "/api/attempts/"+attempt.ID+"/answers", "u1", "",
		map[string]string{"questionId": "nope", "answerText": "x"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown question: expected 400, got %d", resp.StatusCode)
	}

	// Past the deadline the journal is closed.
	clock.Advance(31 * time.Minute)
	if resp := doJSON(t, server, "POST", "/api/attempts/"+attempt.ID+"/answers", "u1", "",
		map[string]string{"questionId": "q1", "answerText": "4"}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("late answer: expected 409, got %d", resp.StatusCode)
	}
}

func TestEligibilityEndpoint(t *testing.T) {
	server := newTestServer(t, newTestClock())
	defer server.Close()

	var result domain.EligibilityResult
	decode(t, doJSON(t, server, "GET", "/api/quizzes/quiz-1/eligibility", "u1", "", nil), &result)
	if !result.Eligible || result.DurationMinutes != 30 {
		t.Fatalf("expected eligible with 30 minutes, got %+v", result)
	}
}

func TestQuizAttemptsRequiresPrivilege(t *testing.T) {
	server := newTestServer(t, newTestClock())
	defer server.Close()

	startAttempt(t, server, "u1", "quiz-1")

	if resp := doJSON(t, server, "GET", "/api/quizzes/quiz-1/attempts", "u1", "", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student listing: expected 403, got %d", resp.StatusCode)
	}

	var attempts []domain.Attempt
	decode(t, doJSON(t, server, "GET", "/api/quizzes/quiz-1/attempts", "t1", "teacher", nil), &attempts)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt for teacher view, got %d", len(attempts))
	}
}

func newTestServer(t *testing.T, clock *testClock) *httptest.Server {
	t.Helper()
	coordinator := newTestCoordinator(clock)
	mux := http.NewServeMux()
	NewHandler(coordinator, nil).Register(mux)
	return httptest.NewServer(mux)
}

func newTestCoordinator(clock *testClock) *app.SessionCoordinator {
	store := memory.NewAttemptStore(memory.WithClock(clock.Now))
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": {
			ID:              "quiz-1",
			Title:           "Arithmetic",
			DurationMinutes: 30,
			Questions: []domain.Question{
				{ID: "q1", Type: "mcq", Text: "What is 2 + 2?", Options: []string{"3", "4"}, CorrectAnswer: "4", Marks: 1},
				{ID: "q2", Type: "true_false", Text: "2 is even", CorrectAnswer: "true", Marks: 1},
			},
		},
	}), 5*time.Minute)
	grader := app.NewSchemeGrader(app.DefaultMarkingScheme())
	return app.NewSessionCoordinator(store, store, repo, grader, app.WithClock(clock.Now))
}

func startAttempt(t *testing.T, server *httptest.Server, userID, quizID string) domain.Attempt {
	t.Helper()
	var attempt domain.Attempt
	resp := doJSON(t, server, "POST", "/api/attempts/start", userID, "", map[string]string{"quizId": quizID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	decode(t, resp, &attempt)
	return attempt
}

func doJSON(t *testing.T, server *httptest.Server, method, path, userID, role string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
