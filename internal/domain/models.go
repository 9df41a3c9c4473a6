package domain

import "time"

// Role classifies an authenticated identity. Authentication itself is
// handled upstream; this service only consumes the resolved identity.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Privileged reports whether the role may start a quiz outside its live
// window (content authors previewing their own material).
func (r Role) Privileged() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// Identity is the resolved caller.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Question carries the grading key alongside the prompt. Transport
// handlers strip the key before a question reaches a student client.
type Question struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"` // mcq, true_false, short_answer
	Text          string   `json:"text"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
	Marks         float64  `json:"marks"` // defaults to 1 if zero
}

// Quiz is the read-only metadata this service needs to run an attempt.
// Authoring lives elsewhere; we only load it.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"durationMinutes"`
	IsLiveSession   bool       `json:"isLiveSession"`
	LiveStartTime   *time.Time `json:"liveStartTime,omitempty"`
	LiveEndTime     *time.Time `json:"liveEndTime,omitempty"`
	Questions       []Question `json:"questions"`
}

// AttemptState is the lifecycle position of an attempt. There is no
// externally visible "created" state: creation and the first entry into
// InProgress are a single step.
type AttemptState string

const (
	AttemptInProgress AttemptState = "in_progress"
	AttemptSubmitted  AttemptState = "submitted"
	AttemptExpired    AttemptState = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s AttemptState) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptExpired
}

// FinalizeTrigger records which of the independent submission paths won
// the finalize race. Informational only; grading is identical.
type FinalizeTrigger string

const (
	TriggerManual          FinalizeTrigger = "manual"
	TriggerTimeout         FinalizeTrigger = "timeout"
	TriggerReconnectExpiry FinalizeTrigger = "reconnect_detected_expiry"
)

// Attempt is the single shared mutable record of a quiz sitting.
// DeadlineAt is computed once at creation from server time and never
// recomputed; all remaining-time math derives from it.
type Attempt struct {
	ID          string            `json:"id"`
	QuizID      string            `json:"quizId"`
	StudentID   string            `json:"studentId"`
	State       AttemptState      `json:"state"`
	StartedAt   time.Time         `json:"startedAt"`
	DeadlineAt  time.Time         `json:"deadlineAt"`
	SubmittedAt *time.Time        `json:"submittedAt,omitempty"`
	Result      *SubmissionResult `json:"result,omitempty"`
}

// AnswerRecord is the journaled latest answer for one question of one
// attempt. Last write wins; no history is kept.
type AnswerRecord struct {
	AttemptID  string    `json:"attemptId"`
	QuestionID string    `json:"questionId"`
	AnswerText string    `json:"answerText"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EligibilityResult is an ephemeral gate decision; it is never persisted.
type EligibilityResult struct {
	Eligible        bool   `json:"eligible"`
	Reason          string `json:"reason,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

// SubmissionResult is produced exactly once per attempt and persisted
// with the terminal state transition.
type SubmissionResult struct {
	AttemptID        string          `json:"attemptId"`
	Score            float64         `json:"score"`
	TotalMarks       float64         `json:"totalMarks"`
	Percentage       float64         `json:"percentage"`
	CorrectAnswers   int             `json:"correctAnswers"`
	TotalQuestions   int             `json:"totalQuestions"`
	TimeTakenMinutes int             `json:"timeTakenMinutes"`
	Trigger          FinalizeTrigger `json:"trigger"`
}

// AnswerSubmission is one entry of a manual-submit payload. The payload
// is merged over the autosave journal at finalize, payload winning.
type AnswerSubmission struct {
	QuestionID string `json:"questionId"`
	AnswerText string `json:"answerText"`
}
