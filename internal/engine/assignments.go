package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/generator"
	"github.com/explainly/explainly/internal/i18n"
	"github.com/explainly/explainly/internal/model"
	"github.com/explainly/explainly/internal/tracing"
)

// Defaults applied to empty CreateParams fields.
const (
	DefaultTopic         = "maths"
	DefaultSubject       = "general"
	DefaultDifficulty    = "intermediate"
	DefaultQuestionCount = 1
	MaxQuestionCount     = 20
)

// CreateParams are the inputs to CreateAssignment. Context is course
// material text; extracting it from files is the caller's job.
type CreateParams struct {
	Title         string `json:"title" validate:"max=200"`
	Topic         string `json:"topic" validate:"required,max=200"`
	Subject       string `json:"subject" validate:"required,max=100"`
	Difficulty    string `json:"difficulty" validate:"oneof=beginner intermediate advanced"`
	ClassGrade    string `json:"class_grade" validate:"max=50"`
	QuestionCount int    `json:"question_count" validate:"min=1,max=20"`
	QuizType      string `json:"quiz_type" validate:"oneof=open mcq"`
	TimeLimit     int    `json:"time_limit" validate:"gte=0"`
	Context       string `json:"context"`
}

func (p *CreateParams) applyDefaults() {
	p.Topic = strings.TrimSpace(p.Topic)
	p.Subject = strings.TrimSpace(p.Subject)
	p.Difficulty = strings.ToLower(strings.TrimSpace(p.Difficulty))
	p.QuizType = strings.ToLower(strings.TrimSpace(p.QuizType))
	if p.Topic == "" {
		p.Topic = DefaultTopic
	}
	if p.Subject == "" {
		p.Subject = DefaultSubject
	}
	if p.Difficulty == "" {
		p.Difficulty = DefaultDifficulty
	}
	if p.QuestionCount == 0 {
		p.QuestionCount = DefaultQuestionCount
	}
	if p.QuizType == "" {
		p.QuizType = string(model.QuizOpen)
	}
	if p.TimeLimit == 0 {
		p.TimeLimit = model.DefaultTimeLimit
	}
}

// Created is the result of creating or importing an assignment.
type Created struct {
	Assignment     *model.Assignment              `json:"assignment"`
	ProbingChains  map[string][]model.ProbingStep `json:"probing_chains"`
	Fallback       bool                           `json:"fallback"`
	FallbackReason string                         `json:"fallback_reason,omitempty"`
}

// CreateAssignment generates questions and probing chains and stores them
// as a draft in one transaction. A generation fallback still creates the
// assignment and is reported through Created.Fallback.
func (s *Service) CreateAssignment(ctx context.Context, p CreateParams) (_ *Created, err error) {
	const op = "engine.create_assignment"
	p.applyDefaults()
	if err := s.validateStruct(op, p); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, op,
		attribute.String("topic", p.Topic),
		attribute.Int("question_count", p.QuestionCount),
		attribute.String("quiz_type", p.QuizType),
	)
	defer func() { tracing.End(span, err) }()

	gen, err := s.gen.GenerateQuestions(ctx, generator.QuestionParams{
		Topic:      p.Topic,
		Subject:    p.Subject,
		Difficulty: p.Difficulty,
		ClassGrade: p.ClassGrade,
		Count:      p.QuestionCount,
		QuizType:   model.QuizType(p.QuizType),
		Context:    p.Context,
	})
	if err != nil {
		return nil, err
	}

	title := p.Title
	if title == "" {
		title = i18n.Td(ctx, "AssignmentTitle", map[string]any{"Topic": p.Topic})
	}
	a := s.newAssignment(title, p.Subject, p.Topic, p.Difficulty, p.ClassGrade, gen.Questions)
	a.QuizType = model.QuizType(p.QuizType)
	a.TimeLimit = p.TimeLimit

	chains := map[string][]model.ProbingStep{}
	if !gen.Fallback {
		chains, err = s.generateChains(ctx, p.Subject, a.Questions)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateAssignment(ctx, a, chains); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("assignment_id", a.ID), attribute.Bool("fallback", gen.Fallback))
	slog.Info("assignment created",
		"assignment_id", a.ID,
		"questions", len(a.Questions),
		"fallback", gen.Fallback,
	)
	return &Created{
		Assignment:     a,
		ProbingChains:  fillChains(a.Questions, chains),
		Fallback:       gen.Fallback,
		FallbackReason: gen.FallbackReason,
	}, nil
}

func (s *Service) newAssignment(title, subject, topic, difficulty, classGrade string, qs []model.Question) *model.Assignment {
	for i := range qs {
		if qs[i].ID == "" {
			qs[i].ID = uuid.NewString()
		}
		qs[i].Position = i
	}
	return &model.Assignment{
		ID:            uuid.NewString(),
		Title:         title,
		Subject:       subject,
		Topic:         topic,
		Difficulty:    difficulty,
		ClassGrade:    classGrade,
		QuizType:      model.QuizOpen,
		TimeLimit:     model.DefaultTimeLimit,
		QuestionCount: len(qs),
		Status:        model.StatusDraft,
		Questions:     qs,
		CreatedAt:     s.now(),
	}
}

// generateChains builds a probing chain for every question with at most
// chainLimit generations in flight. A question whose chain comes back
// empty simply has no scaffolding.
func (s *Service) generateChains(ctx context.Context, subject string, qs []model.Question) (map[string][]model.ProbingStep, error) {
	results := make([][]model.ProbingStep, len(qs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.chainLimit)
	for i, q := range qs {
		g.Go(func() error {
			steps, err := s.gen.GenerateProbingChain(gctx, q.Text, q.Answer, subject)
			if err != nil {
				return err
			}
			results[i] = steps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	chains := make(map[string][]model.ProbingStep, len(qs))
	for i, q := range qs {
		if len(results[i]) > 0 {
			chains[q.ID] = results[i]
		}
	}
	return chains, nil
}

// fillChains gives every question an entry, empty when it has no chain.
func fillChains(qs []model.Question, chains map[string][]model.ProbingStep) map[string][]model.ProbingStep {
	out := make(map[string][]model.ProbingStep, len(qs))
	for _, q := range qs {
		c := chains[q.ID]
		if c == nil {
			c = []model.ProbingStep{}
		}
		out[q.ID] = c
	}
	return out
}

// AuthorOptions controls AuthorAssignment.
type AuthorOptions struct {
	SkipChains bool
}

// AuthorAssignment stores teacher-written questions as a draft assignment.
// Probing chains are generated unless opts.SkipChains is set.
func (s *Service) AuthorAssignment(ctx context.Context, in model.AssignmentImport, opts AuthorOptions) (_ *Created, err error) {
	const op = "engine.author_assignment"
	a, chains, err := s.prepareAuthored(ctx, op, in, opts)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, op, attribute.String("assignment_id", a.ID))
	defer func() { tracing.End(span, err) }()

	if err := s.store.CreateAssignment(ctx, a, chains); err != nil {
		return nil, err
	}
	slog.Info("authored assignment created", "assignment_id", a.ID, "questions", len(a.Questions))
	return &Created{Assignment: a, ProbingChains: fillChains(a.Questions, chains)}, nil
}

func (s *Service) prepareAuthored(ctx context.Context, op string, in model.AssignmentImport, opts AuthorOptions) (*model.Assignment, map[string][]model.ProbingStep, error) {
	if err := s.validateStruct(op, in); err != nil {
		return nil, nil, err
	}
	if len(in.Questions) > MaxQuestionCount {
		return nil, nil, apperr.Validation(op, apperr.FieldError{Field: "questions", Error: "failed max=20"})
	}
	subject := in.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	qs := make([]model.Question, len(in.Questions))
	for i, qi := range in.Questions {
		typ := qi.Type
		if typ == "" {
			typ = model.TypeConceptual
		}
		qs[i] = model.Question{
			Text:        qi.Text,
			Answer:      qi.Answer,
			Explanation: qi.Explanation,
			Type:        typ,
			Options:     qi.Options,
		}
	}
	a := s.newAssignment(in.Title, subject, in.Topic, in.Difficulty, in.ClassGrade, qs)
	if in.QuizType != "" {
		a.QuizType = in.QuizType
	}
	if in.TimeLimit > 0 {
		a.TimeLimit = in.TimeLimit
	}

	chains := map[string][]model.ProbingStep{}
	if !opts.SkipChains {
		var err error
		chains, err = s.generateChains(ctx, subject, a.Questions)
		if err != nil {
			return nil, nil, err
		}
	}
	return a, chains, nil
}

// ImportResult reports what Import did with one file.
type ImportResult struct {
	AssignmentID string `json:"assignment_id"`
	Skipped      bool   `json:"skipped"`
}

// Import loads an authored assignment from JSON. Files are identified by
// content hash; importing an unchanged file again is a no-op.
func (s *Service) Import(ctx context.Context, data []byte, path string, opts AuthorOptions) (*ImportResult, error) {
	const op = "engine.import"
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.store.ImportedAssignment(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return &ImportResult{AssignmentID: existing, Skipped: true}, nil
	}

	var in model.AssignmentImport
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, apperr.Validation(op, apperr.FieldError{Field: path, Error: err.Error()})
	}
	a, chains, err := s.prepareAuthored(ctx, op, in, opts)
	if err != nil {
		return nil, err
	}

	err = s.store.CreateImportedAssignment(ctx, a, chains, hash, path)
	if apperr.Is(err, apperr.KindAlreadyExists) {
		// Lost a race with a concurrent import of the same file.
		existing, lookupErr := s.store.ImportedAssignment(ctx, hash)
		if lookupErr == nil && existing != "" {
			return &ImportResult{AssignmentID: existing, Skipped: true}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	slog.Info("assignment imported", "assignment_id", a.ID, "path", path, "hash", hash[:12])
	return &ImportResult{AssignmentID: a.ID}, nil
}

// GetAssignment returns an assignment with its questions.
func (s *Service) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound("engine.get_assignment", "assignment %s", id)
	}
	return a, nil
}

// ListAssignments returns assignment summaries, newest first.
func (s *Service) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	return s.store.ListAssignments(ctx)
}

// QuestionEdit is the editable content of a draft question.
type QuestionEdit struct {
	Text        string             `json:"text" validate:"required"`
	Answer      string             `json:"answer" validate:"required"`
	Explanation model.Steps        `json:"explanation"`
	Type        model.QuestionType `json:"type" validate:"omitempty,oneof=conceptual procedural application"`
	Options     []string           `json:"options"`
}

// UpdateQuestion edits a question of a draft assignment. Published
// assignments are immutable.
func (s *Service) UpdateQuestion(ctx context.Context, assignmentID, questionID string, edit QuestionEdit) (*model.Assignment, error) {
	const op = "engine.update_question"
	if err := s.validateStruct(op, edit); err != nil {
		return nil, err
	}
	if edit.Type == "" {
		edit.Type = model.TypeConceptual
	}
	err := s.store.UpdateQuestion(ctx, assignmentID, model.Question{
		ID:          questionID,
		Text:        edit.Text,
		Answer:      edit.Answer,
		Explanation: edit.Explanation,
		Type:        edit.Type,
		Options:     edit.Options,
	})
	if err != nil {
		return nil, err
	}
	return s.GetAssignment(ctx, assignmentID)
}
