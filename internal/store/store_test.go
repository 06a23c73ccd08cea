package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", 0)
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAssignment(id string, n int) *model.Assignment {
	a := &model.Assignment{
		ID:         id,
		Title:      "Assignment on algebra",
		Subject:    "maths",
		Topic:      "algebra",
		Difficulty: "beginner",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	for i := 0; i < n; i++ {
		a.Questions = append(a.Questions, model.Question{
			ID:          fmt.Sprintf("%s-q%d", id, i),
			Text:        fmt.Sprintf("Question %d", i),
			Answer:      fmt.Sprintf("answer %d", i),
			Explanation: model.Steps{"step one", "step two"},
			Type:        model.TypeProcedural,
		})
	}
	return a
}

func insertTestAssignment(t *testing.T, s *Store, id string, n int) *model.Assignment {
	t.Helper()
	a := testAssignment(id, n)
	chains := map[string][]model.ProbingStep{
		a.Questions[0].ID: {
			{ID: id + "-p0", Text: "What is asked?", Hint: "Read again"},
			{ID: id + "-p1", Text: "Which rule applies?", Hint: "Think"},
		},
	}
	if err := s.CreateAssignment(context.Background(), a, chains); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	return a
}

func publishTestSession(t *testing.T, s *Store, id, assignmentID string) model.Session {
	t.Helper()
	sess := model.Session{ID: id, AssignmentID: assignmentID, ActivatedAt: time.Now().UTC()}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestAssignmentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetAssignment(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("GetAssignment(missing) = %v, %v; want nil, nil", got, err)
	}

	a := insertTestAssignment(t, s, "a1", 3)
	got, err = s.GetAssignment(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if got.Title != a.Title || got.QuestionCount != 3 || got.Status != model.StatusDraft {
		t.Errorf("unexpected assignment: %+v", got)
	}
	if len(got.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(got.Questions))
	}
	for i, q := range got.Questions {
		if q.ID != a.Questions[i].ID || q.Position != i {
			t.Errorf("question %d out of order: %+v", i, q)
		}
	}
	if len(got.Questions[0].Explanation) != 2 || got.Questions[0].Type != model.TypeProcedural {
		t.Errorf("question fields not preserved: %+v", got.Questions[0])
	}

	chains, err := s.GetProbingChains(ctx, "a1")
	if err != nil {
		t.Fatalf("GetProbingChains: %v", err)
	}
	if len(chains) != 3 {
		t.Fatalf("expected a chain entry per question, got %d", len(chains))
	}
	if len(chains["a1-q0"]) != 2 || chains["a1-q0"][1].Text != "Which rule applies?" {
		t.Errorf("chain for q0 = %+v", chains["a1-q0"])
	}
	if c := chains["a1-q1"]; c == nil || len(c) != 0 {
		t.Errorf("chain for q1 should be empty, got %+v", c)
	}
	if got.QuizType != model.QuizOpen {
		t.Errorf("quiz_type = %q, want open", got.QuizType)
	}
}

func TestQuizSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testAssignment("a1", 1)
	a.QuizType = model.QuizMCQ
	a.TimeLimit = 900
	a.Questions[0].Options = []string{"answer 0", "answer 1", "answer 2"}
	if err := s.CreateAssignment(ctx, a, nil); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	got, err := s.GetAssignment(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if got.QuizType != model.QuizMCQ || got.TimeLimit != 900 || len(got.Questions[0].Options) != 3 {
		t.Errorf("quiz settings not preserved: %+v", got)
	}
	list, err := s.ListAssignments(ctx)
	if err != nil || len(list) != 1 || list[0].QuizType != model.QuizMCQ {
		t.Errorf("ListAssignments = %+v, %v", list, err)
	}
}

func TestMigrateAddsQuizColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE assignments (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT '',
		class_grade TEXT NOT NULL DEFAULT '',
		question_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`)
	if err == nil {
		_, err = db.Exec(`INSERT INTO assignments (id, title, created_at) VALUES (?, ?, ?)`,
			"old", "Old one", time.Now().UTC().Truncate(time.Second))
	}
	db.Close()
	if err != nil {
		t.Fatalf("create old schema: %v", err)
	}

	s, err := New(path, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	got, err := s.GetAssignment(context.Background(), "old")
	if err != nil || got == nil {
		t.Fatalf("GetAssignment = %v, %v", got, err)
	}
	if got.QuizType != model.QuizOpen || got.TimeLimit != model.DefaultTimeLimit {
		t.Errorf("quiz_type = %q, time_limit = %d", got.QuizType, got.TimeLimit)
	}
}

func TestCreateAssignmentAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testAssignment("a1", 2)
	// Reusing a question id fails the second question insert.
	a.Questions[1].ID = a.Questions[0].ID

	err := s.CreateAssignment(ctx, a, nil)
	if !apperr.Is(err, apperr.KindAlreadyExists) {
		t.Fatalf("CreateAssignment err = %v, want already_exists", err)
	}
	got, err := s.GetAssignment(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if got != nil {
		t.Error("failed transaction left an assignment row behind")
	}
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestAssignment(t, s, "a1", 1)

	publishTestSession(t, s, "s1", "a1")
	publishTestSession(t, s, "s2", "a1")

	err := s.CreateSession(ctx, model.Session{ID: "s1", AssignmentID: "a1", ActivatedAt: time.Now()})
	if !apperr.Is(err, apperr.KindAlreadyExists) {
		t.Errorf("duplicate session err = %v, want already_exists", err)
	}

	sess, err := s.GetSession(ctx, "s2")
	if err != nil || sess == nil || sess.AssignmentID != "a1" {
		t.Fatalf("GetSession = %+v, %v", sess, err)
	}
	if sess, err := s.GetSession(ctx, "nope"); sess != nil || err != nil {
		t.Errorf("GetSession(nope) = %+v, %v; want nil, nil", sess, err)
	}

	list, err := s.ListSessions(ctx, "a1")
	if err != nil || len(list) != 2 {
		t.Errorf("ListSessions = %d, %v; want 2", len(list), err)
	}

	a, err := s.GetAssignment(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if a.Status != model.StatusPublished {
		t.Errorf("status = %q, want published", a.Status)
	}
}

func TestUpdateQuestion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := insertTestAssignment(t, s, "a1", 2)
	insertTestAssignment(t, s, "a2", 1)

	q := a.Questions[1]
	q.Text = "Edited"
	q.Answer = "new"
	if err := s.UpdateQuestion(ctx, "a1", q); err != nil {
		t.Fatalf("UpdateQuestion draft: %v", err)
	}
	got, _ := s.GetAssignment(ctx, "a1")
	if got.Questions[1].Text != "Edited" || got.Questions[1].Answer != "new" {
		t.Errorf("edit not applied: %+v", got.Questions[1])
	}

	// Question belongs to another assignment.
	other := model.Question{ID: "a2-q0", Text: "x", Answer: "y"}
	if err := s.UpdateQuestion(ctx, "a1", other); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("foreign question err = %v, want not_found", err)
	}

	publishTestSession(t, s, "s1", "a1")
	q.Text = "After publish"
	if err := s.UpdateQuestion(ctx, "a1", q); !apperr.Is(err, apperr.KindImmutable) {
		t.Fatalf("published edit err = %v, want immutable", err)
	}
	got, _ = s.GetAssignment(ctx, "a1")
	if got.Questions[1].Text != "Edited" {
		t.Errorf("published content changed to %q", got.Questions[1].Text)
	}
}

func TestSubmissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestAssignment(t, s, "a1", 2)
	publishTestSession(t, s, "s1", "a1")
	publishTestSession(t, s, "s2", "a1")

	base := time.Now().UTC()
	for i, sid := range []string{"s1", "s1", "s2"} {
		sub := &model.Submission{
			ID:           fmt.Sprintf("sub%d", i),
			SessionID:    sid,
			AssignmentID: "a1",
			StudentID:    "alice",
			Answers:      map[string]string{"a1-q0": "answer 0"},
			Interactions: map[string][]model.InteractionEvent{
				"a1-q0": {{Timestamp: base, Type: model.EventHintUsed}},
			},
			TimeSpent:   map[string]float64{"a1-q0": 12.5},
			AIScore:     1,
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.InsertSubmission(ctx, sub); err != nil {
			t.Fatalf("InsertSubmission %d: %v", i, err)
		}
	}

	bySession, err := s.ListSubmissionsBySession(ctx, "s1")
	if err != nil || len(bySession) != 2 {
		t.Fatalf("ListSubmissionsBySession = %d, %v; want 2", len(bySession), err)
	}
	byAssignment, err := s.ListSubmissionsByAssignment(ctx, "a1")
	if err != nil || len(byAssignment) != 3 {
		t.Fatalf("ListSubmissionsByAssignment = %d, %v; want 3", len(byAssignment), err)
	}
	empty, err := s.ListSubmissionsBySession(ctx, "nope")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %v, %v; want empty non-nil", empty, err)
	}

	sub, err := s.GetSubmission(ctx, "sub0")
	if err != nil || sub == nil {
		t.Fatalf("GetSubmission = %v, %v", sub, err)
	}
	if sub.Answers["a1-q0"] != "answer 0" || sub.TimeSpent["a1-q0"] != 12.5 || len(sub.Interactions["a1-q0"]) != 1 {
		t.Errorf("submission maps not preserved: %+v", sub)
	}
	if sub.TeacherScore != nil || sub.IsGradeOverridden {
		t.Error("new submission should not be overridden")
	}
	if sub, err := s.GetSubmission(ctx, "nope"); sub != nil || err != nil {
		t.Errorf("GetSubmission(nope) = %v, %v; want nil, nil", sub, err)
	}
}

func TestSetTeacherScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestAssignment(t, s, "a1", 5)
	publishTestSession(t, s, "s1", "a1")
	if err := s.InsertSubmission(ctx, &model.Submission{ID: "sub", SessionID: "s1", AssignmentID: "a1", StudentID: "bob", AIScore: 3, SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("InsertSubmission: %v", err)
	}

	found, err := s.SetTeacherScore(ctx, "sub", 5)
	if err != nil || !found {
		t.Fatalf("SetTeacherScore = %v, %v", found, err)
	}
	sub, _ := s.GetSubmission(ctx, "sub")
	if sub.TeacherScore == nil || *sub.TeacherScore != 5 || !sub.IsGradeOverridden || sub.AIScore != 3 {
		t.Errorf("after override: %+v", sub)
	}

	found, err = s.SetTeacherScore(ctx, "nope", 1)
	if err != nil || found {
		t.Errorf("SetTeacherScore(nope) = %v, %v; want false, nil", found, err)
	}
}

func TestImportedAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.ImportedAssignment(ctx, "hash1")
	if err != nil || id != "" {
		t.Fatalf("ImportedAssignment(unknown) = %q, %v", id, err)
	}

	if err := s.CreateImportedAssignment(ctx, testAssignment("a1", 1), nil, "hash1", "a.json"); err != nil {
		t.Fatalf("CreateImportedAssignment: %v", err)
	}
	id, err = s.ImportedAssignment(ctx, "hash1")
	if err != nil || id != "a1" {
		t.Errorf("ImportedAssignment = %q, %v; want a1", id, err)
	}

	err = s.CreateImportedAssignment(ctx, testAssignment("a2", 1), nil, "hash1", "copy.json")
	if !apperr.Is(err, apperr.KindAlreadyExists) {
		t.Fatalf("second import err = %v, want already_exists", err)
	}
	if a, _ := s.GetAssignment(ctx, "a2"); a != nil {
		t.Error("rejected import left an assignment behind")
	}
}

func TestExportSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestAssignment(t, s, "a1", 2)
	publishTestSession(t, s, "s1", "a1")

	now := time.Now().UTC()
	subs := []model.Submission{
		{ID: "x1", StudentID: "alice", AIScore: 1, SubmittedAt: now},
		{ID: "x2", StudentID: "bob", AIScore: 2, SubmittedAt: now.Add(time.Second)},
		{ID: "x3", StudentID: "alice", AIScore: 2, SubmittedAt: now.Add(2 * time.Second)},
	}
	for i := range subs {
		subs[i].SessionID, subs[i].AssignmentID = "s1", "a1"
		if err := s.InsertSubmission(ctx, &subs[i]); err != nil {
			t.Fatalf("InsertSubmission: %v", err)
		}
	}
	if _, err := s.SetTeacherScore(ctx, "x1", 0); err != nil {
		t.Fatalf("SetTeacherScore: %v", err)
	}

	exp, err := s.ExportSession(ctx, "s1")
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	if exp.NumQuestions != 2 || exp.SubmissionCount != 3 {
		t.Fatalf("export = %d questions, %d submissions", exp.NumQuestions, exp.SubmissionCount)
	}
	tests := []struct {
		idx     int
		attempt int
		final   int
	}{
		{0, 1, 0},
		{1, 1, 2},
		{2, 2, 2},
	}
	for _, tt := range tests {
		r := exp.Results[tt.idx]
		if r.AttemptNumber != tt.attempt || r.FinalScore != tt.final {
			t.Errorf("result %d: attempt %d final %d, want %d %d", tt.idx, r.AttemptNumber, r.FinalScore, tt.attempt, tt.final)
		}
	}

	if exp, err := s.ExportSession(ctx, "missing"); exp != nil || err != nil {
		t.Errorf("ExportSession(missing) = %v, %v; want nil, nil", exp, err)
	}
}

func TestTimeoutKind(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := s.GetSession(ctx, "s1")
	if !apperr.Is(err, apperr.KindUpstreamTimeout) {
		t.Errorf("expired context err = %v, want upstream_timeout", err)
	}
}
