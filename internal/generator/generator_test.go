package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/llm"
	"github.com/explainly/explainly/internal/model"
)

type fakeCompleter struct {
	reply string
	err   error
	reqs  []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func params() QuestionParams {
	return QuestionParams{Topic: "linear equations", Subject: "maths", Difficulty: "beginner", Count: 2}
}

func TestGenerateQuestions(t *testing.T) {
	fc := &fakeCompleter{reply: `{"questions": [
		{"text": "Solve 2x = 8", "answer": "4", "explanation": ["Divide by 2"], "type": "procedural"},
		{"text": "What is 6*7?", "answer": 42, "explanation": "Multiply"},
		{"text": "extra", "answer": "x"}
	]}`}
	g := New(fc, 0)

	gen, err := g.GenerateQuestions(context.Background(), params())
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if gen.Fallback {
		t.Fatalf("unexpected fallback: %s", gen.FallbackReason)
	}
	if len(gen.Questions) != 2 {
		t.Fatalf("got %d questions, want 2 (truncated to count)", len(gen.Questions))
	}
	q0, q1 := gen.Questions[0], gen.Questions[1]
	if q0.ID == "" || q0.ID == q1.ID {
		t.Errorf("question ids not unique: %q %q", q0.ID, q1.ID)
	}
	if q0.Type != model.TypeProcedural || q1.Type != model.TypeConceptual {
		t.Errorf("types = %q, %q", q0.Type, q1.Type)
	}
	if q1.Answer != "42" || len(q1.Explanation) != 1 || q1.Position != 1 {
		t.Errorf("second question = %+v", q1)
	}

	req := fc.reqs[0]
	if !req.JSON || req.Temperature != questionTemperature || req.Operation != "generate_questions" {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestGenerateMultipleChoiceQuestions(t *testing.T) {
	fc := &fakeCompleter{reply: `{"questions": [
		{"text": "6 x 7?", "answer": "42", "options": ["36", "42", "48", "54"]}
	]}`}
	p := params()
	p.QuizType = model.QuizMCQ

	gen, err := New(fc, 0).GenerateQuestions(context.Background(), p)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if got := gen.Questions[0].Options; len(got) != 4 || got[1] != "42" {
		t.Errorf("options = %v", got)
	}
	if !strings.Contains(fc.reqs[0].User, "3 to 5 answer options") {
		t.Errorf("multiple choice prompt does not ask for options:\n%s", fc.reqs[0].User)
	}
}

func TestGenerateQuestionsFallback(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		err    error
		reason string
	}{
		{"fenced empty list", "```json\n{\"questions\": []}\n```", nil, "empty_questions"},
		{"not json", "Here are your questions: 1. ...", nil, "invalid_json"},
		{"missing answer", `{"questions": [{"text": "Why?"}]}`, nil, "incomplete_question_0"},
		{"upstream failure", "", apperr.Wrap(apperr.KindUpstreamGeneration, "llm.generate_questions", errors.New("500")), "upstream_generation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&fakeCompleter{reply: tt.reply, err: tt.err}, 0)
			gen, err := g.GenerateQuestions(context.Background(), params())
			if err != nil {
				t.Fatalf("GenerateQuestions: %v", err)
			}
			if !gen.Fallback || gen.FallbackReason != tt.reason {
				t.Errorf("fallback = %v reason %q, want reason %q", gen.Fallback, gen.FallbackReason, tt.reason)
			}
			if len(gen.Questions) != 1 {
				t.Fatalf("got %d questions, want exactly 1 placeholder", len(gen.Questions))
			}
			q := gen.Questions[0]
			if !strings.Contains(q.Text, "linear equations") {
				t.Errorf("placeholder text %q should mention the topic", q.Text)
			}
			if q.Answer == "" {
				t.Error("placeholder answer must not be empty")
			}
		})
	}
}

func TestGenerateQuestionsTimeoutSurfaces(t *testing.T) {
	timeout := apperr.Wrap(apperr.KindUpstreamTimeout, "llm.generate_questions", context.DeadlineExceeded)
	g := New(&fakeCompleter{err: timeout}, 0)

	_, err := g.GenerateQuestions(context.Background(), params())
	if !apperr.Is(err, apperr.KindUpstreamTimeout) {
		t.Fatalf("err = %v, want upstream_timeout", err)
	}
}

func TestGenerateQuestionsTruncatesContext(t *testing.T) {
	fc := &fakeCompleter{reply: `{"questions": [{"text": "a", "answer": "b"}]}`}
	g := New(fc, 10)
	p := params()
	p.Context = "0123456789SECRET-TAIL"

	if _, err := g.GenerateQuestions(context.Background(), p); err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	user := fc.reqs[0].User
	if !strings.Contains(user, "0123456789") || strings.Contains(user, "SECRET-TAIL") {
		t.Error("context should be truncated to 10 characters")
	}
}

func TestGenerateProbingChain(t *testing.T) {
	fc := &fakeCompleter{reply: "Here you go:\n1. What is being asked?\n2) Which operation isolates x?\n- Check units.\n* \n• Verify by substitution.\n5. Too many."}
	g := New(fc, 0)

	steps, err := g.GenerateProbingChain(context.Background(), "Solve 2x = 8", "4", "maths")
	if err != nil {
		t.Fatalf("GenerateProbingChain: %v", err)
	}
	want := []string{"What is being asked?", "Which operation isolates x?", "Check units.", "Verify by substitution."}
	if len(steps) != len(want) {
		t.Fatalf("got %d steps, want %d: %+v", len(steps), len(want), steps)
	}
	for i, s := range steps {
		if s.Text != want[i] {
			t.Errorf("step %d = %q, want %q", i, s.Text, want[i])
		}
		if s.ID == "" || s.Hint == "" {
			t.Errorf("step %d missing id or hint: %+v", i, s)
		}
	}
	if fc.reqs[0].JSON {
		t.Error("probing chain is a plain list, JSON mode should be off")
	}
}

func TestParseProbingList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"bold heading is not a bullet", "**Why does x double?**\n1. What is x?", []string{"What is x?"}},
		{"bold inside item", "1. **Divide** both sides\n- __Check__ the result", []string{"Divide both sides", "Check the result"}},
		{"bullet without space", "*emphasised*\n-5 degrees\n* Real step", []string{"Real step"}},
		{"only markers", "1. ****\n2. Keep me", []string{"Keep me"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseProbingList(tt.raw)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ParseProbingList = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateProbingChainEmpty(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"no list items", "I cannot help with that.", nil},
		{"upstream failure", "", apperr.E(apperr.KindUpstreamGeneration, "llm.generate_probing", "bad request")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&fakeCompleter{reply: tt.reply, err: tt.err}, 0)
			steps, err := g.GenerateProbingChain(context.Background(), "q", "a", "s")
			if err != nil {
				t.Fatalf("err = %v, want nil", err)
			}
			if len(steps) != 0 {
				t.Errorf("got %d steps, want none", len(steps))
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
		{"```json {\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseQuestionsTag(t *testing.T) {
	res := ParseQuestions("```json\n{\"questions\": []}\n```")
	if res.Tag != TagMalformed {
		t.Fatalf("tag = %v, want malformed", res.Tag)
	}
	if res.Raw == "" {
		t.Error("malformed result should keep the raw text")
	}
}
