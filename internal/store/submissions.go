package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/model"
)

const submissionColumns = `id, session_id, assignment_id, student_id, answers, interactions, time_spent,
	ai_score, teacher_score, is_grade_overridden, submitted_at`

// InsertSubmission appends a graded submission. Existing rows for the same
// student are left alone.
func (s *Store) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	const op = "store.insert_submission"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	answers, err := encodeJSON(orEmptyMap(sub.Answers))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	interactions, err := encodeJSON(orEmptyMap(sub.Interactions))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	spent, err := encodeJSON(orEmptyMap(sub.TimeSpent))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.SessionID, sub.AssignmentID, sub.StudentID, answers, interactions, spent,
		sub.AIScore, sub.TeacherScore, sub.IsGradeOverridden, sub.SubmittedAt,
	)
	return s.fail(op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var sub model.Submission
	var answers, interactions, spent string
	var teacher sql.NullInt64
	err := row.Scan(&sub.ID, &sub.SessionID, &sub.AssignmentID, &sub.StudentID, &answers, &interactions, &spent,
		&sub.AIScore, &teacher, &sub.IsGradeOverridden, &sub.SubmittedAt)
	if err != nil {
		return nil, err
	}
	if teacher.Valid {
		v := int(teacher.Int64)
		sub.TeacherScore = &v
	}
	if err := decodeJSON(answers, &sub.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of %s: %w", sub.ID, err)
	}
	if err := decodeJSON(interactions, &sub.Interactions); err != nil {
		return nil, fmt.Errorf("decode interactions of %s: %w", sub.ID, err)
	}
	if err := decodeJSON(spent, &sub.TimeSpent); err != nil {
		return nil, fmt.Errorf("decode time spent of %s: %w", sub.ID, err)
	}
	return &sub, nil
}

// GetSubmission returns a submission by id.
func (s *Store) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("store.get_submission", err)
	}
	return sub, nil
}

// ListSubmissionsBySession returns a session's submissions, oldest first.
func (s *Store) ListSubmissionsBySession(ctx context.Context, sessionID string) ([]model.Submission, error) {
	return s.listSubmissions(ctx, "store.list_session_submissions", `session_id = ?`, sessionID)
}

// ListSubmissionsByAssignment returns submissions across every session of
// an assignment, oldest first.
func (s *Store) ListSubmissionsByAssignment(ctx context.Context, assignmentID string) ([]model.Submission, error) {
	return s.listSubmissions(ctx, "store.list_assignment_submissions", `assignment_id = ?`, assignmentID)
}

func (s *Store) listSubmissions(ctx context.Context, op, where string, arg any) ([]model.Submission, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE `+where+` ORDER BY submitted_at, id`, arg)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()
	out := []model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, *sub)
	}
	return out, s.fail(op, rows.Err())
}

// SetTeacherScore records a teacher override. ai_score is not touched.
// Returns false when no submission has the id.
func (s *Store) SetTeacherScore(ctx context.Context, id string, score int) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET teacher_score = ?, is_grade_overridden = 1 WHERE id = ?`, score, id,
	)
	if err != nil {
		return false, s.fail("store.set_teacher_score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail("store.set_teacher_score", err)
	}
	return n == 1, nil
}

func orEmptyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
