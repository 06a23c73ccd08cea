package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// MaxFieldRunes caps any single caller-supplied field placed into a prompt.
const MaxFieldRunes = 10000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
	courseMaterialRegex     = regexp.MustCompile(`(?i)</?\s*course-material\b[^>]*>`)
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates *template.Template
)

// Prompt is a system/user pair ready to send.
type Prompt struct {
	System string
	User   string
}

// QuestionData holds template data for assignment question generation.
type QuestionData struct {
	Topic      string
	Subject    string
	Difficulty string
	ClassGrade string
	Count      int
	QuizType   string
	Context    string
}

// ProbingData holds template data for probing chain generation.
type ProbingData struct {
	Subject  string
	Question string
	Answer   string
}

// ProbeEvalData holds template data for one dialogue round.
type ProbeEvalData struct {
	Question string
	Answer   string
	Step     int // 1-based
	Probing  string
	Response string
}

// Load parses the embedded templates. It is safe to call more than once;
// builders call it lazily, main calls it early to fail fast.
func Load() error {
	loadOnce.Do(func() {
		templates, loadErr = template.ParseFS(templateFS, "templates/*.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt templates: %w", loadErr)
		}
	})
	return loadErr
}

// Questions builds the question generation prompt. Context must already be
// truncated by the caller; it is sanitised here.
func Questions(d QuestionData) (Prompt, error) {
	d.Topic = sanitize(d.Topic)
	d.Subject = sanitize(d.Subject)
	d.Context = sanitize(d.Context)
	return build("questions", d)
}

// ProbingChain builds the probing chain prompt for one question.
func ProbingChain(d ProbingData) (Prompt, error) {
	d.Question = sanitize(d.Question)
	d.Answer = sanitize(d.Answer)
	return build("probing", d)
}

// ProbeEval builds the prompt that evaluates a student's probing response.
func ProbeEval(d ProbeEvalData) (Prompt, error) {
	d.Question = sanitize(d.Question)
	d.Answer = sanitize(d.Answer)
	d.Probing = sanitize(d.Probing)
	d.Response = sanitizeAnswer(d.Response)
	return build("probe_eval", d)
}

func build(name string, data any) (Prompt, error) {
	if err := Load(); err != nil {
		return Prompt{}, err
	}
	var sys, usr bytes.Buffer
	if err := templates.ExecuteTemplate(&sys, name+".system", data); err != nil {
		return Prompt{}, fmt.Errorf("execute %s.system: %w", name, err)
	}
	if err := templates.ExecuteTemplate(&usr, name+".user", data); err != nil {
		return Prompt{}, fmt.Errorf("execute %s.user: %w", name, err)
	}
	return Prompt{System: sys.String(), User: usr.String()}, nil
}

// Truncate returns at most n runes of s. n <= 0 means no limit.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func sanitize(s string) string {
	s = studentAnswerRegex.ReplaceAllString(s, "")
	s = systemInstructionsRegex.ReplaceAllString(s, "")
	s = courseMaterialRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxFieldRunes {
		s = Truncate(s, MaxFieldRunes) + "\n\n[Truncated due to length]"
	}
	return s
}

func sanitizeAnswer(answer string) string {
	answer = sanitize(answer)
	if answer == "" {
		return "[No answer provided]"
	}
	return answer
}
