package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/model"
	"github.com/explainly/explainly/internal/tracing"
)

// Publish binds an assignment to a new random session id. Every call
// creates an independent session; the assignment becomes immutable.
func (s *Service) Publish(ctx context.Context, assignmentID string) (_ *model.Session, err error) {
	const op = "engine.publish"
	ctx, span := tracing.Start(ctx, op, attribute.String("assignment_id", assignmentID))
	defer func() { tracing.End(span, err) }()

	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil || len(a.Questions) == 0 {
		return nil, apperr.NotFound(op, "assignment %s", assignmentID)
	}

	sess := model.Session{
		// UUIDv4: 122 random bits from crypto/rand.
		ID:           uuid.NewString(),
		AssignmentID: assignmentID,
		ActivatedAt:  s.now(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	slog.Info("assignment published", "assignment_id", assignmentID, "session_id", sess.ID)
	return &sess, nil
}

// GetSession resolves a session id to its immutable snapshot: the bound
// assignment and its probing chains.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.SessionView, error) {
	const op = "engine.get_session"
	if view, ok := s.cache.Get(ctx, sessionID); ok {
		return view, nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound(op, "session %s", sessionID)
	}
	a, err := s.store.GetAssignment(ctx, sess.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound(op, "assignment %s of session %s", sess.AssignmentID, sessionID)
	}
	chains, err := s.store.GetProbingChains(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	view := &model.SessionView{
		Session:       *sess,
		Assignment:    *a,
		ProbingChains: fillChains(a.Questions, chains),
	}
	s.cache.Set(ctx, view)
	return view, nil
}

// ListSessions returns the sessions published from an assignment.
func (s *Service) ListSessions(ctx context.Context, assignmentID string) ([]model.Session, error) {
	if _, err := s.GetAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, assignmentID)
}
