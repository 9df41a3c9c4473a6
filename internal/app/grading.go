package app

import (
	"strings"

	"quiz-attempt-service/internal/domain"
)

// MarkingScheme holds the per-question multipliers applied at grading.
// MarksPerIncorrect is typically zero or negative (negative marking).
type MarkingScheme struct {
	MarksPerCorrect   float64
	MarksPerIncorrect float64
}

// DefaultMarkingScheme awards full question marks for a correct answer
// and nothing for a wrong or missing one.
func DefaultMarkingScheme() MarkingScheme {
	return MarkingScheme{MarksPerCorrect: 1, MarksPerIncorrect: 0}
}

// SchemeGrader grades by comparing trimmed, case-folded answer text
// against the question key, weighting each question by its marks.
type SchemeGrader struct {
	scheme MarkingScheme
}

func NewSchemeGrader(scheme MarkingScheme) *SchemeGrader {
	if scheme.MarksPerCorrect == 0 {
		scheme.MarksPerCorrect = 1
	}
	return &SchemeGrader{scheme: scheme}
}

func (g *SchemeGrader) Grade(quiz domain.Quiz, answers []domain.AnswerRecord) (domain.SubmissionResult, error) {
	byQuestion := make(map[string]string, len(answers))
	for _, rec := range answers {
		byQuestion[rec.QuestionID] = rec.AnswerText
	}

	var score, totalMarks float64
	correct := 0
	for _, q := range quiz.Questions {
		marks := q.Marks
		if marks == 0 {
			marks = 1
		}
		totalMarks += marks * g.scheme.MarksPerCorrect

		given, answered := byQuestion[q.ID]
		if !answered || strings.TrimSpace(given) == "" {
			continue
		}
		if answersMatch(given, q.CorrectAnswer) {
			score += marks * g.scheme.MarksPerCorrect
			correct++
		} else {
			score += marks * g.scheme.MarksPerIncorrect
		}
	}
	// Negative marking never takes the total below zero.
	if score < 0 {
		score = 0
	}

	percentage := 0.0
	if totalMarks > 0 {
		percentage = score / totalMarks * 100
	}
	return domain.SubmissionResult{
		Score:          score,
		TotalMarks:     totalMarks,
		Percentage:     percentage,
		CorrectAnswers: correct,
		TotalQuestions: len(quiz.Questions),
	}, nil
}

func answersMatch(given, key string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(key))
}
