package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateAssignment stores an assignment with its questions and probing
// chains in one transaction. Either every row commits or none does.
func (s *Store) CreateAssignment(ctx context.Context, a *model.Assignment, chains map[string][]model.ProbingStep) error {
	const op = "store.create_assignment"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail(op, err)
	}
	defer tx.Rollback()

	if err := insertAssignment(ctx, tx, a, chains); err != nil {
		return s.fail(op, err)
	}
	return s.fail(op, tx.Commit())
}

func insertAssignment(ctx context.Context, tx execer, a *model.Assignment, chains map[string][]model.ProbingStep) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO assignments (id, title, subject, topic, difficulty, class_grade, quiz_type, time_limit, question_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Subject, a.Topic, a.Difficulty, a.ClassGrade, quizTypeOrOpen(a.QuizType), a.TimeLimit, len(a.Questions), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}

	for i, q := range a.Questions {
		expl, err := encodeJSON(stepsOrEmpty(q.Explanation))
		if err != nil {
			return fmt.Errorf("encode explanation: %w", err)
		}
		opts, err := encodeJSON(optionsOrEmpty(q.Options))
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (id, assignment_id, position, text, answer, explanation, type, options)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, a.ID, i, q.Text, q.Answer, expl, q.Type, opts,
		)
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}

		for j, step := range chains[q.ID] {
			if j == model.MaxProbingSteps {
				break
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO probing_steps (id, question_id, position, text, hint) VALUES (?, ?, ?, ?, ?)`,
				step.ID, q.ID, j, step.Text, step.Hint,
			)
			if err != nil {
				return fmt.Errorf("insert probing step %s: %w", step.ID, err)
			}
		}
	}
	return nil
}

// GetAssignment returns an assignment with its questions in order. Status
// is derived from session existence.
func (s *Store) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	const op = "store.get_assignment"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var a model.Assignment
	var published bool
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, subject, topic, difficulty, class_grade, quiz_type, time_limit, question_count, created_at,
		        EXISTS (SELECT 1 FROM sessions WHERE assignment_id = assignments.id)
		 FROM assignments WHERE id = ?`, id,
	).Scan(&a.ID, &a.Title, &a.Subject, &a.Topic, &a.Difficulty, &a.ClassGrade, &a.QuizType, &a.TimeLimit, &a.QuestionCount, &a.CreatedAt, &published)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	a.Status = model.StatusDraft
	if published {
		a.Status = model.StatusPublished
	}

	a.Questions, err = s.listQuestions(ctx, id)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return &a, nil
}

func (s *Store) listQuestions(ctx context.Context, assignmentID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position, text, answer, explanation, type, options
		 FROM questions WHERE assignment_id = ? ORDER BY position`, assignmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		var expl, opts string
		if err := rows.Scan(&q.ID, &q.Position, &q.Text, &q.Answer, &expl, &q.Type, &opts); err != nil {
			return nil, err
		}
		if err := decodeJSON(expl, &q.Explanation); err != nil {
			return nil, fmt.Errorf("decode explanation of %s: %w", q.ID, err)
		}
		if err := decodeJSON(opts, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListAssignments returns all assignments without their questions, newest
// first.
func (s *Store) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	const op = "store.list_assignments"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, subject, topic, difficulty, class_grade, quiz_type, time_limit, question_count, created_at,
		        EXISTS (SELECT 1 FROM sessions WHERE assignment_id = assignments.id)
		 FROM assignments ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()
	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		var published bool
		if err := rows.Scan(&a.ID, &a.Title, &a.Subject, &a.Topic, &a.Difficulty, &a.ClassGrade, &a.QuizType, &a.TimeLimit, &a.QuestionCount, &a.CreatedAt, &published); err != nil {
			return nil, s.fail(op, err)
		}
		a.Status = model.StatusDraft
		if published {
			a.Status = model.StatusPublished
		}
		out = append(out, a)
	}
	return out, s.fail(op, rows.Err())
}

// GetProbingChains returns the probing chains of every question of an
// assignment, keyed by question id. Questions without a chain map to an
// empty slice.
func (s *Store) GetProbingChains(ctx context.Context, assignmentID string) (map[string][]model.ProbingStep, error) {
	const op = "store.get_probing_chains"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, p.id, p.text, p.hint
		 FROM questions q LEFT JOIN probing_steps p ON p.question_id = q.id
		 WHERE q.assignment_id = ?
		 ORDER BY q.position, p.position`, assignmentID,
	)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()
	chains := make(map[string][]model.ProbingStep)
	for rows.Next() {
		var qid string
		var sid, text, hint sql.NullString
		if err := rows.Scan(&qid, &sid, &text, &hint); err != nil {
			return nil, s.fail(op, err)
		}
		if _, ok := chains[qid]; !ok {
			chains[qid] = []model.ProbingStep{}
		}
		if sid.Valid {
			chains[qid] = append(chains[qid], model.ProbingStep{ID: sid.String, Text: text.String, Hint: hint.String})
		}
	}
	return chains, s.fail(op, rows.Err())
}

// UpdateQuestion edits a question of a draft assignment. It fails with
// apperr.KindImmutable once any session references the assignment and
// with apperr.KindNotFound when the question is not part of it.
func (s *Store) UpdateQuestion(ctx context.Context, assignmentID string, q model.Question) error {
	const op = "store.update_question"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	expl, err := encodeJSON(stepsOrEmpty(q.Explanation))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	opts, err := encodeJSON(optionsOrEmpty(q.Options))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}

	// The published check and the write happen in one statement so a
	// concurrent publish cannot slip between them.
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET text = ?, answer = ?, explanation = ?, type = ?, options = ?
		 WHERE id = ? AND assignment_id = ?
		   AND NOT EXISTS (SELECT 1 FROM sessions WHERE assignment_id = ?)`,
		q.Text, q.Answer, expl, q.Type, opts, q.ID, assignmentID, assignmentID,
	)
	if err != nil {
		return s.fail(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(op, err)
	}
	if n == 1 {
		return nil
	}

	var exists, published bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM questions WHERE id = ? AND assignment_id = ?),
		        EXISTS (SELECT 1 FROM sessions WHERE assignment_id = ?)`,
		q.ID, assignmentID, assignmentID,
	).Scan(&exists, &published)
	if err != nil {
		return s.fail(op, err)
	}
	if !exists {
		return apperr.NotFound(op, "question %s in assignment %s", q.ID, assignmentID)
	}
	if published {
		return apperr.E(apperr.KindImmutable, op, "assignment "+assignmentID+" is published")
	}
	return apperr.E(apperr.KindInternal, op, "question not updated")
}

func stepsOrEmpty(s model.Steps) model.Steps {
	if s == nil {
		return model.Steps{}
	}
	return s
}

func quizTypeOrOpen(t model.QuizType) model.QuizType {
	if t == "" {
		return model.QuizOpen
	}
	return t
}

func optionsOrEmpty(o []string) []string {
	if o == nil {
		return []string{}
	}
	return o
}
