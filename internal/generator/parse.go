package generator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/explainly/explainly/internal/model"
)

// Tag says whether a model response could be used.
type Tag int

const (
	TagOK Tag = iota
	TagMalformed
)

func (t Tag) String() string {
	if t == TagOK {
		return "ok"
	}
	return "malformed"
}

// Result is a parsed model response. Value is only meaningful when Tag is
// TagOK; Raw always holds the text that was parsed and Reason explains a
// TagMalformed result.
type Result[T any] struct {
	Tag    Tag
	Value  T
	Raw    string
	Reason string
}

func ok[T any](v T, raw string) Result[T] {
	return Result[T]{Tag: TagOK, Value: v, Raw: raw}
}

func malformed[T any](raw, reason string) Result[T] {
	return Result[T]{Tag: TagMalformed, Raw: raw, Reason: reason}
}

var fenceRegex = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*\n?(.*?)\\s*```$")

// StripFences removes a surrounding markdown code fence such as ```json.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRegex.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

type questionPayload struct {
	Questions []rawQuestion `json:"questions"`
}

type rawQuestion struct {
	Text        string          `json:"text"`
	Answer      json.RawMessage `json:"answer"`
	Explanation model.Steps     `json:"explanation"`
	Type        string          `json:"type"`
	Options     []string        `json:"options"`
}

// ParseQuestions decodes a question generation response. An empty list or
// a question without text or answer makes the whole response malformed.
func ParseQuestions(raw string) Result[[]model.Question] {
	body := StripFences(raw)

	var p questionPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return malformed[[]model.Question](raw, "invalid_json")
	}
	if len(p.Questions) == 0 {
		return malformed[[]model.Question](raw, "empty_questions")
	}

	out := make([]model.Question, 0, len(p.Questions))
	for i, rq := range p.Questions {
		answer, err := answerText(rq.Answer)
		if err != nil || strings.TrimSpace(rq.Text) == "" || answer == "" {
			return malformed[[]model.Question](raw, fmt.Sprintf("incomplete_question_%d", i))
		}
		out = append(out, model.Question{
			Text:        strings.TrimSpace(rq.Text),
			Answer:      answer,
			Explanation: rq.Explanation,
			Type:        questionType(rq.Type),
			Options:     rq.Options,
			Position:    i,
		})
	}
	return ok(out, raw)
}

// answerText accepts string and numeric answers; models often emit 42
// instead of "42".
func answerText(msg json.RawMessage) (string, error) {
	if len(msg) == 0 || string(msg) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func questionType(s string) model.QuestionType {
	switch t := model.QuestionType(strings.ToLower(strings.TrimSpace(s))); t {
	case model.TypeConceptual, model.TypeProcedural, model.TypeApplication:
		return t
	}
	return model.TypeConceptual
}

// A bullet needs whitespace after it so markdown emphasis like **Step**
// is not read as one.
var listItemRegex = regexp.MustCompile(`^(\d+[.)]\s*|[-*•]\s+)`)

var emphasis = strings.NewReplacer("**", "", "__", "")

// ParseProbingList extracts numbered or bulleted lines, drops everything
// else and keeps at most model.MaxProbingSteps items. Bold markers are
// removed from item text.
func ParseProbingList(raw string) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		loc := listItemRegex.FindStringIndex(line)
		if loc == nil {
			continue
		}
		text := strings.TrimSpace(emphasis.Replace(line[loc[1]:]))
		if text == "" {
			continue
		}
		items = append(items, text)
		if len(items) == model.MaxProbingSteps {
			break
		}
	}
	return items
}
