// Package generator turns model output into assignment questions and
// probing chains, falling back to placeholder content when the output is
// unusable.
package generator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/i18n"
	"github.com/explainly/explainly/internal/llm"
	"github.com/explainly/explainly/internal/llm/prompts"
	"github.com/explainly/explainly/internal/metrics"
	"github.com/explainly/explainly/internal/model"
)

// Completer sends one prompt to the model. *llm.Client implements it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// DefaultMaxContextChars bounds course material placed into a prompt.
const DefaultMaxContextChars = 12000

const (
	questionTemperature = 0.4
	probingTemperature  = 0.5
	probingMaxTokens    = 500
)

// Generator produces questions and probing chains.
type Generator struct {
	llm        Completer
	maxContext int
}

// New creates a Generator. maxContextChars <= 0 selects the default.
func New(c Completer, maxContextChars int) *Generator {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Generator{llm: c, maxContext: maxContextChars}
}

// QuestionParams are the inputs to question generation.
type QuestionParams struct {
	Topic      string
	Subject    string
	Difficulty string
	ClassGrade string
	Count      int
	QuizType   model.QuizType
	Context    string
}

// Generation is the outcome of question generation. When Fallback is set
// Questions holds a single placeholder and FallbackReason says why.
type Generation struct {
	Questions      []model.Question
	Fallback       bool
	FallbackReason string
}

// GenerateQuestions asks the model for p.Count questions. Malformed output
// and generation failures degrade to a placeholder question; timeouts are
// returned as apperr.KindUpstreamTimeout. Question IDs are assigned here.
func (g *Generator) GenerateQuestions(ctx context.Context, p QuestionParams) (Generation, error) {
	prompt, err := prompts.Questions(prompts.QuestionData{
		Topic:      p.Topic,
		Subject:    p.Subject,
		Difficulty: p.Difficulty,
		ClassGrade: p.ClassGrade,
		Count:      p.Count,
		QuizType:   string(p.QuizType),
		Context:    prompts.Truncate(p.Context, g.maxContext),
	})
	if err != nil {
		return Generation{}, apperr.Wrap(apperr.KindInternal, "generator.questions", err)
	}

	raw, err := g.llm.Complete(ctx, llm.Request{
		Operation:   "generate_questions",
		System:      prompt.System,
		User:        prompt.User,
		Temperature: questionTemperature,
		JSON:        true,
	})
	if err != nil {
		if apperr.Is(err, apperr.KindUpstreamTimeout) || ctx.Err() != nil {
			return Generation{}, err
		}
		return g.fallback(ctx, p, string(apperr.KindOf(err)), err), nil
	}

	res := ParseQuestions(raw)
	switch res.Tag {
	case TagOK:
		qs := res.Value
		if p.Count > 0 && len(qs) > p.Count {
			qs = qs[:p.Count]
		}
		for i := range qs {
			qs[i].ID = uuid.NewString()
		}
		return Generation{Questions: qs}, nil
	default:
		slog.Debug("malformed question output", "raw", res.Raw)
		return g.fallback(ctx, p, res.Reason, nil), nil
	}
}

func (g *Generator) fallback(ctx context.Context, p QuestionParams, reason string, cause error) Generation {
	metrics.GenerationFallbacks.WithLabelValues(reason).Inc()
	slog.Warn("question generation fell back to placeholder",
		"topic", p.Topic,
		"reason", reason,
		"error", cause,
	)
	topic := map[string]any{"Topic": p.Topic}
	return Generation{
		Questions: []model.Question{{
			ID:          uuid.NewString(),
			Text:        i18n.Td(ctx, "FallbackQuestion", topic),
			Answer:      i18n.T(ctx, "FallbackAnswer"),
			Explanation: model.Steps{i18n.T(ctx, "FallbackExplanation")},
			Type:        model.TypeConceptual,
		}},
		Fallback:       true,
		FallbackReason: reason,
	}
}

// GenerateProbingChain returns 0 to model.MaxProbingSteps scaffolding steps
// for one question. An unusable response yields an empty chain; only
// timeouts and cancellation are returned as errors.
func (g *Generator) GenerateProbingChain(ctx context.Context, questionText, answer, subject string) ([]model.ProbingStep, error) {
	prompt, err := prompts.ProbingChain(prompts.ProbingData{
		Subject:  subject,
		Question: questionText,
		Answer:   answer,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "generator.probing", err)
	}

	raw, err := g.llm.Complete(ctx, llm.Request{
		Operation:   "generate_probing",
		System:      prompt.System,
		User:        prompt.User,
		Temperature: probingTemperature,
		MaxTokens:   probingMaxTokens,
	})
	if err != nil {
		if apperr.Is(err, apperr.KindUpstreamTimeout) || ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("probing chain generation failed, no scaffolding", "error", err)
		return nil, nil
	}

	items := ParseProbingList(raw)
	if len(items) == 0 {
		slog.Info("no probing steps parsed", "raw", raw)
		return nil, nil
	}
	hint := i18n.T(ctx, "ProbingHint")
	steps := make([]model.ProbingStep, len(items))
	for i, text := range items {
		steps[i] = model.ProbingStep{ID: uuid.NewString(), Text: text, Hint: hint}
	}
	return steps, nil
}
