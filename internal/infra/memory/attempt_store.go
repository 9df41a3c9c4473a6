package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// AttemptStore keeps attempts and their answer journal in process memory
// behind one mutex, so the finalize compare-and-set and the journal
// snapshot it grades from are a single atomic unit. It backs tests and
// single-node runs without Postgres.
type AttemptStore struct {
	clock func() time.Time

	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	answers  map[string]map[string]domain.AnswerRecord // attemptID -> questionID -> record
}

// StoreOption tweaks store construction.
type StoreOption func(*AttemptStore)

// WithClock replaces the wall clock used for submitted_at stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *AttemptStore) { s.clock = now }
}

func NewAttemptStore(opts ...StoreOption) *AttemptStore {
	s := &AttemptStore{
		clock:    time.Now,
		attempts: make(map[string]domain.Attempt),
		answers:  make(map[string]map[string]domain.AnswerRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AttemptStore) Create(_ context.Context, a domain.Attempt) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Create-if-absent: a racing second Start lands on the first attempt.
	for _, existing := range s.attempts {
		if existing.QuizID == a.QuizID && existing.StudentID == a.StudentID && !existing.State.Terminal() {
			return existing, nil
		}
	}
	s.attempts[a.ID] = a
	return a, nil
}

func (s *AttemptStore) Get(_ context.Context, id string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return a, nil
}

func (s *AttemptStore) FindActive(_ context.Context, quizID, studentID string) (domain.Attempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.QuizID == quizID && a.StudentID == studentID && !a.State.Terminal() {
			return a, true, nil
		}
	}
	return domain.Attempt{}, false, nil
}

func (s *AttemptStore) FindLatest(_ context.Context, quizID, studentID string) (domain.Attempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest domain.Attempt
	found := false
	for _, a := range s.attempts {
		if a.QuizID != quizID || a.StudentID != studentID {
			continue
		}
		if !found || a.StartedAt.After(latest.StartedAt) {
			latest = a
			found = true
		}
	}
	return latest, found, nil
}

func (s *AttemptStore) Finalize(_ context.Context, id string, grade app.GradeFunc) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return domain.Attempt{}, false, domain.ErrAttemptNotFound
	}
	if a.State.Terminal() {
		return a, false, nil
	}

	result, state, err := grade(a, s.journalLocked(id))
	if err != nil {
		// The attempt stays InProgress; a retried finalize is safe.
		return domain.Attempt{}, false, err
	}

	now := s.clock()
	a.State = state
	a.SubmittedAt = &now
	a.Result = &result
	s.attempts[id] = a
	return a, true, nil
}

func (s *AttemptStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var overdue []domain.Attempt
	for _, a := range s.attempts {
		if !a.State.Terminal() && !now.Before(a.DeadlineAt) {
			overdue = append(overdue, a)
			if limit > 0 && len(overdue) == limit {
				break
			}
		}
	}
	return overdue, nil
}

func (s *AttemptStore) ListByStudent(_ context.Context, studentID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if a.StudentID == studentID {
			out = append(out, a)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *AttemptStore) ListByQuiz(_ context.Context, quizID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if a.QuizID == quizID {
			out = append(out, a)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Save upserts one journal record; last write wins per question.
func (s *AttemptStore) Save(_ context.Context, rec domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[rec.AttemptID]; !ok {
		return domain.ErrAttemptNotFound
	}
	byQuestion, ok := s.answers[rec.AttemptID]
	if !ok {
		byQuestion = make(map[string]domain.AnswerRecord)
		s.answers[rec.AttemptID] = byQuestion
	}
	byQuestion[rec.QuestionID] = rec
	return nil
}

func (s *AttemptStore) LoadAll(_ context.Context, attemptID string) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.journalLocked(attemptID), nil
}

func (s *AttemptStore) journalLocked(attemptID string) []domain.AnswerRecord {
	byQuestion := s.answers[attemptID]
	records := make([]domain.AnswerRecord, 0, len(byQuestion))
	for _, rec := range byQuestion {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].QuestionID < records[j].QuestionID })
	return records
}

func sortNewestFirst(attempts []domain.Attempt) {
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].StartedAt.After(attempts[j].StartedAt) })
}
