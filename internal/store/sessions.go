package store

import (
	"context"
	"database/sql"

	"github.com/explainly/explainly/internal/model"
)

// CreateSession inserts a session. A duplicate id fails with
// apperr.KindAlreadyExists.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, assignment_id, activated_at) VALUES (?, ?, ?)`,
		sess.ID, sess.AssignmentID, sess.ActivatedAt,
	)
	return s.fail("store.create_session", err)
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var sess model.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, assignment_id, activated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.AssignmentID, &sess.ActivatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("store.get_session", err)
	}
	return &sess, nil
}

// ListSessions returns the sessions of an assignment, oldest first.
func (s *Store) ListSessions(ctx context.Context, assignmentID string) ([]model.Session, error) {
	const op = "store.list_sessions"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, assignment_id, activated_at FROM sessions WHERE assignment_id = ? ORDER BY activated_at, id`, assignmentID,
	)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()
	var out []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.AssignmentID, &sess.ActivatedAt); err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, sess)
	}
	return out, s.fail(op, rows.Err())
}
