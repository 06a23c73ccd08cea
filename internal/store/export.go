package store

import (
	"context"
	"fmt"
	"time"

	"github.com/explainly/explainly/internal/model"
)

// ExportSession builds an export of one session: the bound assignment and
// every submission with both scores. Returns nil when the session or its
// assignment is missing.
func (s *Store) ExportSession(ctx context.Context, sessionID string) (*model.SessionExport, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	a, err := s.GetAssignment(ctx, sess.AssignmentID)
	if err != nil || a == nil {
		return nil, err
	}
	subs, err := s.ListSubmissionsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	// Track attempts per student for attempt_number.
	attempts := make(map[string]int)

	results := make([]model.StudentResult, 0, len(subs))
	for _, sub := range subs {
		attempts[sub.StudentID]++

		analysis := make(map[string]model.InteractionAnalysis, len(a.Questions))
		for _, q := range a.Questions {
			analysis[q.ID] = model.Analyze(sub.Interactions[q.ID], sub.TimeSpent[q.ID])
		}

		final := sub.AIScore
		if sub.TeacherScore != nil {
			final = *sub.TeacherScore
		}

		results = append(results, model.StudentResult{
			SubmissionID:      sub.ID,
			StudentID:         sub.StudentID,
			AttemptNumber:     attempts[sub.StudentID],
			SubmittedAt:       sub.SubmittedAt,
			AIScore:           sub.AIScore,
			TeacherScore:      sub.TeacherScore,
			FinalScore:        final,
			IsGradeOverridden: sub.IsGradeOverridden,
			Answers:           sub.Answers,
			Analysis:          analysis,
		})
	}

	return &model.SessionExport{
		SessionID:       sess.ID,
		AssignmentID:    a.ID,
		Title:           a.Title,
		Subject:         a.Subject,
		ActivatedAt:     sess.ActivatedAt,
		NumQuestions:    len(a.Questions),
		Questions:       a.Questions,
		Results:         results,
		ExportedAt:      time.Now().UTC(),
		SubmissionCount: len(results),
	}, nil
}
