package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// AttemptStore persists attempts and their answer journal in Postgres
// via bun. Finalize runs inside one transaction: a row lock plus a
// state-guarded UPDATE form the compare-and-set, and the journal is
// re-read under the same lock so grading sees a consistent snapshot.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID          string     `bun:"id,pk"`
	QuizID      string     `bun:"quiz_id"`
	StudentID   string     `bun:"student_id"`
	State       string     `bun:"state"`
	StartedAt   time.Time  `bun:"started_at"`
	DeadlineAt  time.Time  `bun:"deadline_at"`
	SubmittedAt *time.Time `bun:"submitted_at"`
	ResultJSON  []byte     `bun:"result_json,nullzero"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:attempt_answers,alias:aa"`

	AttemptID  string    `bun:"attempt_id,pk"`
	QuestionID string    `bun:"question_id,pk"`
	AnswerText string    `bun:"answer_text"`
	UpdatedAt  time.Time `bun:"updated_at"`
}

func (s *AttemptStore) Create(ctx context.Context, a domain.Attempt) (domain.Attempt, error) {
	row := toRow(a)
	// The partial unique index on (quiz_id, student_id) WHERE
	// state='in_progress' makes this a create-if-absent: a racing second
	// Start inserts nothing and falls through to the existing attempt.
	res, err := s.db.NewInsert().Model(&row).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("insert attempt: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		existing, ok, err := s.FindActive(ctx, a.QuizID, a.StudentID)
		if err != nil {
			return domain.Attempt{}, err
		}
		if ok {
			return existing, nil
		}
	}
	return a, nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (domain.Attempt, error) {
	var row attemptRow
	err := s.db.NewSelect().Model(&row).Where("a.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Attempt{}, domain.ErrAttemptNotFound
		}
		return domain.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	return fromRow(row)
}

func (s *AttemptStore) FindActive(ctx context.Context, quizID, studentID string) (domain.Attempt, bool, error) {
	var row attemptRow
	err := s.db.NewSelect().Model(&row).
		Where("a.quiz_id = ?", quizID).
		Where("a.student_id = ?", studentID).
		Where("a.state = ?", string(domain.AttemptInProgress)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Attempt{}, false, nil
		}
		return domain.Attempt{}, false, fmt.Errorf("find active attempt: %w", err)
	}
	a, err := fromRow(row)
	return a, err == nil, err
}

func (s *AttemptStore) FindLatest(ctx context.Context, quizID, studentID string) (domain.Attempt, bool, error) {
	var row attemptRow
	err := s.db.NewSelect().Model(&row).
		Where("a.quiz_id = ?", quizID).
		Where("a.student_id = ?", studentID).
		Order("started_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Attempt{}, false, nil
		}
		return domain.Attempt{}, false, fmt.Errorf("find latest attempt: %w", err)
	}
	a, err := fromRow(row)
	return a, err == nil, err
}

func (s *AttemptStore) Finalize(ctx context.Context, id string, grade app.GradeFunc) (domain.Attempt, bool, error) {
	var final domain.Attempt
	won := false

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var row attemptRow
		err := tx.NewSelect().Model(&row).Where("a.id = ?", id).For("UPDATE").Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrAttemptNotFound
			}
			return fmt.Errorf("lock attempt: %w", err)
		}

		attempt, err := fromRow(row)
		if err != nil {
			return err
		}
		if attempt.State.Terminal() {
			// Lost the race (or a repeat call): hand back the winner's result.
			final = attempt
			return nil
		}

		var answerRows []answerRow
		if err := tx.NewSelect().Model(&answerRows).Where("aa.attempt_id = ?", id).Scan(ctx); err != nil {
			return fmt.Errorf("load journal: %w", err)
		}
		journal := make([]domain.AnswerRecord, 0, len(answerRows))
		for _, ar := range answerRows {
			journal = append(journal, domain.AnswerRecord{
				AttemptID:  ar.AttemptID,
				QuestionID: ar.QuestionID,
				AnswerText: ar.AnswerText,
				UpdatedAt:  ar.UpdatedAt,
			})
		}

		result, state, err := grade(attempt, journal)
		if err != nil {
			// Rolling back leaves the attempt InProgress; finalize can be retried.
			return err
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		now := time.Now()
		res, err := tx.NewUpdate().Model((*attemptRow)(nil)).
			Set("state = ?", string(state)).
			Set("submitted_at = ?", now).
			Set("result_json = ?", resultJSON).
			Where("id = ?", id).
			Where("state = ?", string(domain.AttemptInProgress)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil || affected == 0 {
			return fmt.Errorf("finalize attempt %s: state changed under lock", id)
		}

		attempt.State = state
		attempt.SubmittedAt = &now
		attempt.Result = &result
		final = attempt
		won = true
		return nil
	})
	if err != nil {
		return domain.Attempt{}, false, err
	}
	return final, won, nil
}

func (s *AttemptStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Attempt, error) {
	var rows []attemptRow
	q := s.db.NewSelect().Model(&rows).
		Where("a.state = ?", string(domain.AttemptInProgress)).
		Where("a.deadline_at <= ?", now).
		Order("deadline_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list overdue attempts: %w", err)
	}
	return fromRows(rows)
}

func (s *AttemptStore) ListByStudent(ctx context.Context, studentID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().Model(&rows).
		Where("a.student_id = ?", studentID).
		Order("started_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts by student: %w", err)
	}
	return fromRows(rows)
}

func (s *AttemptStore) ListByQuiz(ctx context.Context, quizID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().Model(&rows).
		Where("a.quiz_id = ?", quizID).
		Order("started_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts by quiz: %w", err)
	}
	return fromRows(rows)
}

// Save upserts one journal record; last write wins per question.
func (s *AttemptStore) Save(ctx context.Context, rec domain.AnswerRecord) error {
	row := answerRow{
		AttemptID:  rec.AttemptID,
		QuestionID: rec.QuestionID,
		AnswerText: rec.AnswerText,
		UpdatedAt:  rec.UpdatedAt,
	}
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (attempt_id, question_id) DO UPDATE").
		Set("answer_text = EXCLUDED.answer_text").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

func (s *AttemptStore) LoadAll(ctx context.Context, attemptID string) ([]domain.AnswerRecord, error) {
	var rows []answerRow
	err := s.db.NewSelect().Model(&rows).
		Where("aa.attempt_id = ?", attemptID).
		Order("question_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	records := make([]domain.AnswerRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.AnswerRecord{
			AttemptID:  row.AttemptID,
			QuestionID: row.QuestionID,
			AnswerText: row.AnswerText,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	return records, nil
}

func toRow(a domain.Attempt) attemptRow {
	row := attemptRow{
		ID:          a.ID,
		QuizID:      a.QuizID,
		StudentID:   a.StudentID,
		State:       string(a.State),
		StartedAt:   a.StartedAt,
		DeadlineAt:  a.DeadlineAt,
		SubmittedAt: a.SubmittedAt,
	}
	if a.Result != nil {
		if raw, err := json.Marshal(a.Result); err == nil {
			row.ResultJSON = raw
		}
	}
	return row
}

func fromRow(row attemptRow) (domain.Attempt, error) {
	a := domain.Attempt{
		ID:          row.ID,
		QuizID:      row.QuizID,
		StudentID:   row.StudentID,
		State:       domain.AttemptState(row.State),
		StartedAt:   row.StartedAt,
		DeadlineAt:  row.DeadlineAt,
		SubmittedAt: row.SubmittedAt,
	}
	if len(row.ResultJSON) > 0 {
		var result domain.SubmissionResult
		if err := json.Unmarshal(row.ResultJSON, &result); err != nil {
			return domain.Attempt{}, fmt.Errorf("unmarshal result for attempt %s: %w", row.ID, err)
		}
		a.Result = &result
	}
	return a, nil
}

func fromRows(rows []attemptRow) ([]domain.Attempt, error) {
	attempts := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		a, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
