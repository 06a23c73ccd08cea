package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/generator"
	"github.com/explainly/explainly/internal/llm"
	"github.com/explainly/explainly/internal/llm/prompts"
	"github.com/explainly/explainly/internal/metrics"
	"github.com/explainly/explainly/internal/model"
	"github.com/explainly/explainly/internal/tracing"
)

const evaluateTemperature = 0.6

// Evaluate runs one round of the probing dialogue. The model judges the
// response; malformed model output is an error, never a guessed result.
//
// Without SessionID and QuestionID the caller's CurrentIndex is the only
// state. With both, the stored chain bounds the dialogue: the last step
// completes it and a missing follow-up is filled from the chain.
func (s *Service) Evaluate(ctx context.Context, req model.ProbeRequest) (_ *model.ProbeResult, err error) {
	const op = "engine.evaluate"
	if err := s.validateStruct(op, req); err != nil {
		return nil, err
	}
	if (req.SessionID == "") != (req.QuestionID == "") {
		return nil, apperr.Validation(op, apperr.FieldError{
			Field: "session_id",
			Error: "session_id and question_id must be given together",
		})
	}

	ctx, span := tracing.Start(ctx, op, attribute.Int("current_index", req.CurrentIndex))
	defer func() { tracing.End(span, err) }()

	var chain []model.ProbingStep
	if req.SessionID != "" {
		chain, err = s.boundChain(ctx, op, req)
		if err != nil {
			return nil, err
		}
	}

	prompt, err := prompts.ProbeEval(prompts.ProbeEvalData{
		Question: req.QuestionText,
		Answer:   req.TargetAnswer,
		Step:     req.CurrentIndex + 1,
		Probing:  req.CurrentProbingText,
		Response: req.StudentResponse,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	raw, err := s.llm.Complete(ctx, llm.Request{
		Operation:   "evaluate_probe",
		System:      prompt.System,
		User:        prompt.User,
		Temperature: evaluateTemperature,
		JSON:        true,
	})
	if err != nil {
		metrics.ProbeEvaluations.WithLabelValues("error").Inc()
		return nil, err
	}

	res := ParseProbeResult(raw)
	if res.Tag != generator.TagOK {
		metrics.ProbeEvaluations.WithLabelValues("malformed").Inc()
		return nil, apperr.E(apperr.KindUpstreamGeneration, op, "malformed evaluation: "+res.Reason)
	}
	out := res.Value

	if len(chain) > 0 {
		if req.CurrentIndex >= len(chain)-1 {
			out.IsComplete = true
		} else if !out.IsComplete && out.NextProbingQuestion == nil {
			next := chain[req.CurrentIndex+1].Text
			out.NextProbingQuestion = &next
		}
	}
	if out.IsComplete {
		out.NextProbingQuestion = nil
	}

	switch {
	case out.IsComplete:
		metrics.ProbeEvaluations.WithLabelValues("complete").Inc()
	case out.IsCorrect:
		metrics.ProbeEvaluations.WithLabelValues("correct").Inc()
	default:
		metrics.ProbeEvaluations.WithLabelValues("incorrect").Inc()
	}
	return &out, nil
}

// boundChain loads the stored chain for the request's question and checks
// the index against it. An empty chain bounds nothing.
func (s *Service) boundChain(ctx context.Context, op string, req model.ProbeRequest) ([]model.ProbingStep, error) {
	view, err := s.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := view.Assignment.Question(req.QuestionID); !ok {
		return nil, apperr.NotFound(op, "question %s in session %s", req.QuestionID, req.SessionID)
	}
	chain := view.ProbingChains[req.QuestionID]
	if len(chain) > 0 && req.CurrentIndex >= len(chain) {
		return nil, apperr.Validation(op, apperr.FieldError{
			Field: "current_index",
			Error: fmt.Sprintf("chain has %d steps", len(chain)),
		})
	}
	return chain, nil
}

// ParseProbeResult validates the model's evaluation JSON: is_correct and
// feedback are required, next_probing_question is a string or null and
// is_complete defaults to false.
func ParseProbeResult(raw string) generator.Result[model.ProbeResult] {
	bad := func(reason string) generator.Result[model.ProbeResult] {
		return generator.Result[model.ProbeResult]{Tag: generator.TagMalformed, Raw: raw, Reason: reason}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(generator.StripFences(raw)), &fields); err != nil {
		return bad("invalid_json")
	}

	var out model.ProbeResult
	isCorrect, ok := fields["is_correct"]
	if !ok || json.Unmarshal(isCorrect, &out.IsCorrect) != nil || string(isCorrect) == "null" {
		return bad("is_correct must be a boolean")
	}
	feedback, ok := fields["feedback"]
	if !ok || json.Unmarshal(feedback, &out.Feedback) != nil || string(feedback) == "null" {
		return bad("feedback must be a string")
	}
	if next, ok := fields["next_probing_question"]; ok && string(next) != "null" {
		var s string
		if err := json.Unmarshal(next, &s); err != nil {
			return bad("next_probing_question must be a string or null")
		}
		if s != "" {
			out.NextProbingQuestion = &s
		}
	}
	if done, ok := fields["is_complete"]; ok && string(done) != "null" {
		if err := json.Unmarshal(done, &out.IsComplete); err != nil {
			return bad("is_complete must be a boolean")
		}
	}
	return generator.Result[model.ProbeResult]{Tag: generator.TagOK, Value: out, Raw: raw}
}
