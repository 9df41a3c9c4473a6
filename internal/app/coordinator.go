package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
)

// GradeFunc is invoked by an AttemptStore inside the finalize transaction,
// after the store has confirmed the attempt is still InProgress and has
// re-read the answer journal. The store persists the returned result and
// state atomically with the CAS on Attempt.State.
type GradeFunc func(attempt domain.Attempt, journal []domain.AnswerRecord) (domain.SubmissionResult, domain.AttemptState, error)

// AttemptStore abstracts durable attempt records (in-memory, Postgres).
type AttemptStore interface {
	// Create inserts the attempt unless a non-terminal attempt already
	// exists for the same (quiz, student); in that case the existing
	// attempt is returned unchanged.
	Create(ctx context.Context, a domain.Attempt) (domain.Attempt, error)
	Get(ctx context.Context, id string) (domain.Attempt, error)
	// FindActive returns the non-terminal attempt for (quiz, student), if any.
	FindActive(ctx context.Context, quizID, studentID string) (domain.Attempt, bool, error)
	// FindLatest returns the most recently started attempt regardless of state.
	FindLatest(ctx context.Context, quizID, studentID string) (domain.Attempt, bool, error)
	// Finalize runs grade under the store's transaction. The bool reports
	// whether this call performed the transition; when false the attempt
	// was already terminal and is returned with its persisted result.
	Finalize(ctx context.Context, id string, grade GradeFunc) (domain.Attempt, bool, error)
	// ListOverdue returns InProgress attempts whose deadline passed before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Attempt, error)
	ListByStudent(ctx context.Context, studentID string) ([]domain.Attempt, error)
	ListByQuiz(ctx context.Context, quizID string) ([]domain.Attempt, error)
}

// AnswerJournal stores the latest answer per (attempt, question).
type AnswerJournal interface {
	Save(ctx context.Context, rec domain.AnswerRecord) error
	LoadAll(ctx context.Context, attemptID string) ([]domain.AnswerRecord, error)
}

// QuizRepository loads quiz metadata (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Grader scores a merged answer set against a quiz. Implementations fill
// the score fields; the coordinator fills attempt-level fields.
type Grader interface {
	Grade(quiz domain.Quiz, answers []domain.AnswerRecord) (domain.SubmissionResult, error)
}

// ResumeState is what a reconnecting client needs to repopulate its view.
type ResumeState struct {
	Attempt          domain.Attempt        `json:"attempt"`
	Answers          []domain.AnswerRecord `json:"answers"`
	RemainingSeconds int64                 `json:"remainingSeconds"`
	// ExpiredWhileAway is set when the deadline passed while the client
	// was disconnected, so the UI can distinguish it from a live timeout.
	ExpiredWhileAway bool `json:"expiredWhileAway"`
}

// SessionCoordinator owns the attempt lifecycle: it is the only component
// that transitions Attempt.State, and every mutation funnels through the
// store's compare-and-set.
type SessionCoordinator struct {
	attempts     AttemptStore
	journal      AnswerJournal
	quizzes      QuizRepository
	grader       Grader
	allowRetakes bool
	now          func() time.Time
}

// CoordinatorOption tweaks coordinator construction.
type CoordinatorOption func(*SessionCoordinator)

// WithClock replaces the wall clock; tests use this for determinism.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *SessionCoordinator) { c.now = now }
}

// WithRetakes allows students to start a fresh attempt after a terminal one.
func WithRetakes(allow bool) CoordinatorOption {
	return func(c *SessionCoordinator) { c.allowRetakes = allow }
}

func NewSessionCoordinator(attempts AttemptStore, journal AnswerJournal, quizzes QuizRepository, grader Grader, opts ...CoordinatorOption) *SessionCoordinator {
	c := &SessionCoordinator{
		attempts: attempts,
		journal:  journal,
		quizzes:  quizzes,
		grader:   grader,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Eligibility reports whether the identity may begin the quiz now, and
// with what duration. Pure read; nothing is persisted.
func (c *SessionCoordinator) Eligibility(ctx context.Context, identity domain.Identity, quizID string) (domain.EligibilityResult, error) {
	quiz, err := c.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.EligibilityResult{}, err
	}
	return c.evaluate(ctx, identity, quiz)
}

func (c *SessionCoordinator) evaluate(ctx context.Context, identity domain.Identity, quiz domain.Quiz) (domain.EligibilityResult, error) {
	result := Evaluate(identity, quiz, c.now())
	if !result.Eligible || identity.Role.Privileged() {
		return result, nil
	}
	// Retake policy: a terminal attempt blocks a fresh start unless
	// retakes are enabled. A non-terminal attempt never blocks: Start
	// resumes it.
	latest, ok, err := c.attempts.FindLatest(ctx, quiz.ID, identity.ID)
	if err != nil {
		return domain.EligibilityResult{}, err
	}
	if ok && latest.State.Terminal() && !c.allowRetakes {
		return domain.EligibilityResult{Reason: "quiz already completed"}, nil
	}
	return result, nil
}

// Start begins or resumes an attempt. Resuming an existing non-terminal
// attempt returns it unchanged, so a reconnect after a crash lands on the
// same deadline. This is the single point where a wall-clock duration is
// converted into an absolute server-side deadline.
func (c *SessionCoordinator) Start(ctx context.Context, identity domain.Identity, quizID string) (domain.Attempt, error) {
	if existing, ok, err := c.attempts.FindActive(ctx, quizID, identity.ID); err != nil {
		return domain.Attempt{}, err
	} else if ok {
		return existing, nil
	}

	quiz, err := c.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}
	eligibility, err := c.evaluate(ctx, identity, quiz)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !eligibility.Eligible {
		return domain.Attempt{}, fmt.Errorf("%w: %s", domain.ErrNotEligible, eligibility.Reason)
	}

	now := c.now()
	deadline := now.Add(time.Duration(eligibility.DurationMinutes) * time.Minute)
	if quiz.IsLiveSession && !identity.Role.Privileged() && quiz.LiveEndTime != nil && deadline.After(*quiz.LiveEndTime) {
		// A live attempt can never outlive the session window.
		deadline = *quiz.LiveEndTime
	}
	attempt := domain.Attempt{
		ID:         uuid.NewString(),
		QuizID:     quizID,
		StudentID:  identity.ID,
		State:      domain.AttemptInProgress,
		StartedAt:  now,
		DeadlineAt: deadline,
	}
	return c.attempts.Create(ctx, attempt)
}

// RemainingTime returns max(0, deadline-now) in whole seconds, rounded up
// so the value hits zero exactly when the deadline passes. Cheap read;
// safe to poll at any frequency.
func (c *SessionCoordinator) RemainingTime(ctx context.Context, attemptID string) (int64, error) {
	attempt, err := c.attempts.Get(ctx, attemptID)
	if err != nil {
		return 0, err
	}
	return remainingSeconds(attempt, c.now()), nil
}

// RecordAnswer upserts one answer into the journal. Writes are rejected
// once the attempt is terminal or its clock has run out, even if the
// finalize transition has not run yet.
func (c *SessionCoordinator) RecordAnswer(ctx context.Context, identity domain.Identity, attemptID, questionID, answerText string) error {
	attempt, err := c.attempts.Get(ctx, attemptID)
	if err != nil {
		return err
	}
	if attempt.StudentID != identity.ID {
		return domain.ErrAttemptForbidden
	}
	now := c.now()
	if attempt.State.Terminal() || !now.Before(attempt.DeadlineAt) {
		return domain.ErrAttemptNotActive
	}
	quiz, err := c.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return err
	}
	if !quizHasQuestion(quiz, questionID) {
		return domain.ErrQuestionNotFound
	}
	return c.journal.Save(ctx, domain.AnswerRecord{
		AttemptID:  attemptID,
		QuestionID: questionID,
		AnswerText: answerText,
		UpdatedAt:  now,
	})
}

// Answers returns the journal for an attempt, for resume repopulation and
// the answered/unanswered confirmation before a manual submit.
func (c *SessionCoordinator) Answers(ctx context.Context, identity domain.Identity, attemptID string) ([]domain.AnswerRecord, error) {
	attempt, err := c.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != identity.ID && !identity.Role.Privileged() {
		return nil, domain.ErrAttemptForbidden
	}
	return c.journal.LoadAll(ctx, attemptID)
}

// AnswerProgress pairs the journal with the quiz size so a client can
// confirm how many questions are still unanswered before a manual
// submit.
func (c *SessionCoordinator) AnswerProgress(ctx context.Context, identity domain.Identity, attemptID string) ([]domain.AnswerRecord, int, error) {
	attempt, err := c.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, 0, err
	}
	if attempt.StudentID != identity.ID && !identity.Role.Privileged() {
		return nil, 0, domain.ErrAttemptForbidden
	}
	quiz, err := c.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return nil, 0, err
	}
	answers, err := c.journal.LoadAll(ctx, attemptID)
	if err != nil {
		return nil, 0, err
	}
	return answers, len(quiz.Questions), nil
}

// Submit is the manual finalize path: the owning student commits their
// in-session answers.
func (c *SessionCoordinator) Submit(ctx context.Context, identity domain.Identity, attemptID string, payload []domain.AnswerSubmission) (domain.SubmissionResult, error) {
	attempt, err := c.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if attempt.StudentID != identity.ID {
		return domain.SubmissionResult{}, domain.ErrAttemptForbidden
	}
	return c.Finalize(ctx, attemptID, domain.TriggerManual, payload)
}

// Finalize drives the only transition into a terminal state. It is safe
// to call concurrently from independent triggers: whichever call wins the
// store's compare-and-set performs grading, and every other call gets the
// winner's persisted result back. Calling it on an already-terminal
// attempt is not an error.
func (c *SessionCoordinator) Finalize(ctx context.Context, attemptID string, trigger domain.FinalizeTrigger, payload []domain.AnswerSubmission) (domain.SubmissionResult, error) {
	attempt, err := c.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if attempt.State.Terminal() && attempt.Result != nil {
		return *attempt.Result, nil
	}

	quiz, err := c.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	final, _, err := c.attempts.Finalize(ctx, attemptID, func(a domain.Attempt, journal []domain.AnswerRecord) (domain.SubmissionResult, domain.AttemptState, error) {
		now := c.now()
		merged := mergeAnswers(journal, payload, now)
		result, err := c.grader.Grade(quiz, merged)
		if err != nil {
			return domain.SubmissionResult{}, "", fmt.Errorf("%w: %v", domain.ErrGradingFailure, err)
		}
		state := domain.AttemptSubmitted
		if trigger != domain.TriggerManual && !now.Before(a.DeadlineAt) {
			state = domain.AttemptExpired
		}
		result.AttemptID = a.ID
		result.Trigger = trigger
		result.TimeTakenMinutes = int(now.Sub(a.StartedAt) / time.Minute)
		return result, state, nil
	})
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if final.Result == nil {
		return domain.SubmissionResult{}, fmt.Errorf("attempt %s finalized without result", final.ID)
	}
	return *final.Result, nil
}

// Resume rebuilds session state after a reload or reconnect. If the
// deadline passed while the client was away, the attempt is finalized
// here with the reconnect trigger so the caller never re-enters a dead
// countdown.
func (c *SessionCoordinator) Resume(ctx context.Context, identity domain.Identity, attemptID string) (ResumeState, error) {
	attempt, err := c.attempts.Get(ctx, attemptID)
	if err != nil {
		return ResumeState{}, err
	}
	if attempt.StudentID != identity.ID && !identity.Role.Privileged() {
		return ResumeState{}, domain.ErrAttemptForbidden
	}

	expiredWhileAway := false
	if !attempt.State.Terminal() && remainingSeconds(attempt, c.now()) == 0 {
		if _, err := c.Finalize(ctx, attemptID, domain.TriggerReconnectExpiry, nil); err != nil {
			return ResumeState{}, err
		}
		expiredWhileAway = true
		attempt, err = c.attempts.Get(ctx, attemptID)
		if err != nil {
			return ResumeState{}, err
		}
	}

	answers, err := c.journal.LoadAll(ctx, attemptID)
	if err != nil {
		return ResumeState{}, err
	}
	return ResumeState{
		Attempt:          attempt,
		Answers:          answers,
		RemainingSeconds: remainingSeconds(attempt, c.now()),
		ExpiredWhileAway: expiredWhileAway,
	}, nil
}

// AttemptsByStudent lists a student's attempt history, newest first.
func (c *SessionCoordinator) AttemptsByStudent(ctx context.Context, studentID string) ([]domain.Attempt, error) {
	return c.attempts.ListByStudent(ctx, studentID)
}

// AttemptsByQuiz lists all attempts for a quiz; transport restricts this
// to privileged roles.
func (c *SessionCoordinator) AttemptsByQuiz(ctx context.Context, quizID string) ([]domain.Attempt, error) {
	return c.attempts.ListByQuiz(ctx, quizID)
}

func remainingSeconds(attempt domain.Attempt, now time.Time) int64 {
	if attempt.State.Terminal() {
		return 0
	}
	remaining := attempt.DeadlineAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	// Round up so the count only reads zero once the deadline has passed.
	return int64((remaining + time.Second - 1) / time.Second)
}

// mergeAnswers overlays the explicit submit payload onto the autosave
// journal. The payload wins per question: it is the user's final
// in-session intent.
func mergeAnswers(journal []domain.AnswerRecord, payload []domain.AnswerSubmission, now time.Time) []domain.AnswerRecord {
	byQuestion := make(map[string]domain.AnswerRecord, len(journal)+len(payload))
	order := make([]string, 0, len(journal)+len(payload))
	for _, rec := range journal {
		if _, ok := byQuestion[rec.QuestionID]; !ok {
			order = append(order, rec.QuestionID)
		}
		byQuestion[rec.QuestionID] = rec
	}
	for _, sub := range payload {
		if _, ok := byQuestion[sub.QuestionID]; !ok {
			order = append(order, sub.QuestionID)
		}
		byQuestion[sub.QuestionID] = domain.AnswerRecord{
			QuestionID: sub.QuestionID,
			AnswerText: sub.AnswerText,
			UpdatedAt:  now,
		}
	}
	merged := make([]domain.AnswerRecord, 0, len(order))
	for _, id := range order {
		merged = append(merged, byQuestion[id])
	}
	return merged
}

func quizHasQuestion(quiz domain.Quiz, questionID string) bool {
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == questionID {
			return true
		}
	}
	return false
}
