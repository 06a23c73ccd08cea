package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/explainly/explainly/internal/model"
)

// ImportedAssignment returns the assignment id created from a file with
// the given content hash. Returns empty string and nil error if the file
// was never imported.
func (s *Store) ImportedAssignment(ctx context.Context, hash string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT assignment_id FROM imported_files WHERE hash = ?`, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", s.fail("store.imported_assignment", err)
	}
	return id, nil
}

// CreateImportedAssignment stores an assignment together with the hash of
// the file it came from, in one transaction. Importing the same hash twice
// fails with apperr.KindAlreadyExists and leaves no second assignment.
func (s *Store) CreateImportedAssignment(ctx context.Context, a *model.Assignment, chains map[string][]model.ProbingStep, hash, path string) error {
	const op = "store.create_imported_assignment"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail(op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO imported_files (hash, path, assignment_id, imported_at) VALUES (?, ?, ?, ?)`,
		hash, path, a.ID, time.Now().UTC(),
	)
	if err != nil {
		return s.fail(op, err)
	}
	if err := insertAssignment(ctx, tx, a, chains); err != nil {
		return s.fail(op, err)
	}
	return s.fail(op, tx.Commit())
}
