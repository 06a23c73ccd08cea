package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/model"
)

// OverrideScore records a teacher's score for a submission. The AI score is
// kept so both remain auditable.
func (s *Service) OverrideScore(ctx context.Context, submissionID string, score int) (*model.Submission, error) {
	const op = "engine.override_score"
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperr.NotFound(op, "submission %s", submissionID)
	}

	a, err := s.store.GetAssignment(ctx, sub.AssignmentID)
	if err != nil {
		return nil, err
	}
	limit := 0
	if a != nil {
		limit = len(a.Questions)
	}
	if score < 0 || (a != nil && score > limit) {
		return nil, apperr.Validation(op, apperr.FieldError{
			Field: "teacher_score",
			Error: fmt.Sprintf("must be between 0 and %d", limit),
		})
	}

	found, err := s.store.SetTeacherScore(ctx, submissionID, score)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound(op, "submission %s", submissionID)
	}
	slog.Info("score overridden",
		"submission_id", submissionID,
		"ai_score", sub.AIScore,
		"teacher_score", score,
	)

	sub.TeacherScore = &score
	sub.IsGradeOverridden = true
	return sub, nil
}

// Export returns a session's assignment and all its submissions.
func (s *Service) Export(ctx context.Context, sessionID string) (*model.SessionExport, error) {
	exp, err := s.store.ExportSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, apperr.NotFound("engine.export", "session %s", sessionID)
	}
	return exp, nil
}
