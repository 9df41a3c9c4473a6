package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz metadata could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound is returned for an unknown attempt ID.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrNotEligible blocks a start; callers wrap it with a reason.
	ErrNotEligible = errors.New("not eligible to start quiz")
	// ErrAttemptNotActive rejects answer writes and late submits once the
	// attempt is terminal or its remaining time has reached zero.
	ErrAttemptNotActive = errors.New("attempt is not active")
	// ErrAttemptForbidden is returned when a caller touches an attempt
	// they do not own.
	ErrAttemptForbidden = errors.New("attempt belongs to another student")
	// ErrQuestionNotFound indicates a saved answer names an unknown question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrGradingFailure marks a finalize attempt whose grading step
	// failed; the attempt stays InProgress and finalize may be retried.
	ErrGradingFailure = errors.New("grading failed")
)
