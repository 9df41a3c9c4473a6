package app

import (
	"time"

	"quiz-attempt-service/internal/domain"
)

// Evaluate decides whether the identity may begin the quiz at now, and
// what duration the attempt gets. Pure compute; no side effects.
//
// Privileged roles always pass with the nominal duration, bypassing the
// live window: content authors preview their own quizzes at any time.
// For live sessions, eligibility only holds inside the window and a late
// joiner's duration is cut to whatever remains of it.
func Evaluate(identity domain.Identity, quiz domain.Quiz, now time.Time) domain.EligibilityResult {
	if identity.Role.Privileged() {
		return domain.EligibilityResult{Eligible: true, DurationMinutes: quiz.DurationMinutes}
	}

	if quiz.IsLiveSession {
		if quiz.LiveStartTime == nil || quiz.LiveEndTime == nil {
			return domain.EligibilityResult{Reason: "live session window not configured"}
		}
		if now.Before(*quiz.LiveStartTime) {
			return domain.EligibilityResult{Reason: "quiz has not started yet"}
		}
		if !now.Before(*quiz.LiveEndTime) {
			return domain.EligibilityResult{Reason: "quiz session has ended"}
		}
		// Effective duration is the rest of the window, not the nominal
		// duration; rounded up so a partial minute is not lost.
		left := quiz.LiveEndTime.Sub(now)
		minutes := int((left + time.Minute - 1) / time.Minute)
		return domain.EligibilityResult{Eligible: true, DurationMinutes: minutes}
	}

	return domain.EligibilityResult{Eligible: true, DurationMinutes: quiz.DurationMinutes}
}
