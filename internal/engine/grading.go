package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/metrics"
	"github.com/explainly/explainly/internal/model"
	"github.com/explainly/explainly/internal/tracing"
)

// IsCorrect compares an answer to the canonical answer. The match is exact
// after lowercasing: no trimming and no numeric tolerance.
func IsCorrect(answer, canonical string) bool {
	return strings.ToLower(answer) == strings.ToLower(canonical)
}

// ScoreAnswers grades in against a. It is a pure function of its inputs;
// a missing answer counts as the empty string.
func ScoreAnswers(a *model.Assignment, in model.SubmissionInput) (int, map[string]model.FeedbackItem) {
	score := 0
	feedback := make(map[string]model.FeedbackItem, len(a.Questions))
	for _, q := range a.Questions {
		answer := in.Answers[q.ID]
		correct := IsCorrect(answer, q.Answer)
		if correct {
			score++
		}
		feedback[q.ID] = model.FeedbackItem{
			Correct:             correct,
			StudentAnswer:       answer,
			QuestionText:        q.Text,
			Explanation:         q.Explanation,
			InteractionAnalysis: model.Analyze(in.Interactions[q.ID], in.TimeSpent[q.ID]),
		}
	}
	return score, feedback
}

// validateSubmission checks that every key refers to a question of a and
// that events and times are well formed.
func validateSubmission(a *model.Assignment, in model.SubmissionInput) []apperr.FieldError {
	var fields []apperr.FieldError
	if strings.TrimSpace(in.StudentID) == "" {
		fields = append(fields, apperr.FieldError{Field: "student_id", Error: "required"})
	}

	known := make(map[string]bool, len(a.Questions))
	for _, q := range a.Questions {
		known[q.ID] = true
	}
	unknown := func(group string, id string) {
		fields = append(fields, apperr.FieldError{
			Field: group + "." + id,
			Error: "not a question of assignment " + a.ID,
		})
	}

	for _, id := range sortedKeys(in.Answers) {
		if !known[id] {
			unknown("answers", id)
		}
	}
	for _, id := range sortedKeys(in.Interactions) {
		if !known[id] {
			unknown("interactions", id)
			continue
		}
		for i, e := range in.Interactions[id] {
			if !e.Type.Valid() {
				fields = append(fields, apperr.FieldError{
					Field: fmt.Sprintf("interactions.%s[%d].type", id, i),
					Error: "unknown event type " + string(e.Type),
				})
			}
		}
	}
	for _, id := range sortedKeys(in.TimeSpent) {
		if !known[id] {
			unknown("time_spent", id)
			continue
		}
		if in.TimeSpent[id] < 0 {
			fields = append(fields, apperr.FieldError{Field: "time_spent." + id, Error: "must be >= 0"})
		}
	}
	return fields
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Grade scores a submission against the session's assignment and stores
// it as a new row. Repeated submissions are all kept.
func (s *Service) Grade(ctx context.Context, sessionID string, in model.SubmissionInput) (_ *model.GradedResult, err error) {
	const op = "engine.grade"
	ctx, span := tracing.Start(ctx, op, attribute.String("session_id", sessionID))
	defer func() { tracing.End(span, err) }()

	view, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	a := &view.Assignment

	if fields := validateSubmission(a, in); len(fields) > 0 {
		return nil, apperr.Validation(op, fields...)
	}

	score, feedback := ScoreAnswers(a, in)
	sub := &model.Submission{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		AssignmentID: a.ID,
		StudentID:    in.StudentID,
		Answers:      in.Answers,
		Interactions: in.Interactions,
		TimeSpent:    in.TimeSpent,
		AIScore:      score,
		SubmittedAt:  s.now(),
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return nil, err
	}
	metrics.SubmissionsGraded.Inc()
	slog.Info("submission graded",
		"session_id", sessionID,
		"submission_id", sub.ID,
		"score", score,
		"total", len(a.Questions),
	)

	return &model.GradedResult{
		SubmissionID:   sub.ID,
		Score:          score,
		TotalQuestions: len(a.Questions),
		Feedback:       feedback,
	}, nil
}

// ListSubmissions returns every submission of a session.
func (s *Service) ListSubmissions(ctx context.Context, sessionID string) ([]model.Submission, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound("engine.list_submissions", "session %s", sessionID)
	}
	return s.store.ListSubmissionsBySession(ctx, sessionID)
}

// ListAssignmentSubmissions returns submissions across all sessions of an
// assignment.
func (s *Service) ListAssignmentSubmissions(ctx context.Context, assignmentID string) ([]model.Submission, error) {
	if _, err := s.GetAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	return s.store.ListSubmissionsByAssignment(ctx, assignmentID)
}

// GetSubmissionDetail returns a submission with its questions and
// per-question analytics for teacher review.
func (s *Service) GetSubmissionDetail(ctx context.Context, submissionID string) (*model.SubmissionDetail, error) {
	const op = "engine.get_submission_detail"
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
	if a == nil {
		return nil, apperr.NotFound(op, "assignment %s of submission %s", sub.AssignmentID, submissionID)
	}

	analysis := make(map[string]model.InteractionAnalysis, len(a.Questions))
	for _, q := range a.Questions {
		analysis[q.ID] = model.Analyze(sub.Interactions[q.ID], sub.TimeSpent[q.ID])
	}
	return &model.SubmissionDetail{
		Submission:      *sub,
		AssignmentTitle: a.Title,
		Questions:       a.Questions,
		Analysis:        analysis,
	}, nil
}
