package model

import (
	"encoding/json"
	"time"
)

// AssignmentStatus is derived from session existence, never stored.
type AssignmentStatus string

const (
	StatusDraft     AssignmentStatus = "draft"
	StatusPublished AssignmentStatus = "published"
)

// QuestionType is advisory only.
type QuestionType string

const (
	TypeConceptual  QuestionType = "conceptual"
	TypeProcedural  QuestionType = "procedural"
	TypeApplication QuestionType = "application"
)

// QuizType selects the answer format of generated questions.
type QuizType string

const (
	QuizOpen QuizType = "open"
	QuizMCQ  QuizType = "mcq"
)

// DefaultTimeLimit is the suggested time for an assignment, in seconds.
const DefaultTimeLimit = 1800

// EventType classifies a client-reported interaction.
type EventType string

const (
	EventHintUsed        EventType = "hint_used"
	EventProbingAnswer   EventType = "probing_answer"
	EventQuestionAttempt EventType = "question_attempt"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventHintUsed, EventProbingAnswer, EventQuestionAttempt:
		return true
	}
	return false
}

// MaxProbingSteps caps every probing chain.
const MaxProbingSteps = 4

// Steps is an explanation rendered as an ordered list of steps. It decodes
// from either a JSON string or a JSON array of strings.
type Steps []string

func (s *Steps) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = Steps{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Question is one item of an assignment.
type Question struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Answer      string       `json:"answer"`
	Explanation Steps        `json:"explanation,omitempty"`
	Type        QuestionType `json:"type,omitempty"`
	Options     []string     `json:"options,omitempty"`
	Position    int          `json:"position"`
}

// ProbingStep is one Socratic sub-question of a chain.
type ProbingStep struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Hint string `json:"hint,omitempty"`
}

// Assignment is a teacher-owned set of questions.
type Assignment struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Subject       string           `json:"subject"`
	Topic         string           `json:"topic"`
	Difficulty    string           `json:"difficulty"`
	ClassGrade    string           `json:"class_grade,omitempty"`
	QuizType      QuizType         `json:"quiz_type"`
	TimeLimit     int              `json:"time_limit"`
	QuestionCount int              `json:"question_count"`
	Status        AssignmentStatus `json:"status"`
	Questions     []Question       `json:"questions"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Question returns the question with the given id, if it belongs to a.
func (a *Assignment) Question(id string) (Question, bool) {
	for _, q := range a.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Session binds an assignment to a shareable id.
type Session struct {
	ID           string    `json:"session_id"`
	AssignmentID string    `json:"assignment_id"`
	ActivatedAt  time.Time `json:"activated_at"`
}

// SessionView is what a student receives for a session id.
type SessionView struct {
	Session       Session                  `json:"session"`
	Assignment    Assignment               `json:"assignment"`
	ProbingChains map[string][]ProbingStep `json:"probing_chains"`
}

// InteractionEvent is a client-reported action on a question.
type InteractionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Content   string    `json:"content,omitempty"`
}

// Submission is one graded attempt. Rows are append-only.
type Submission struct {
	ID                string                        `json:"id"`
	SessionID         string                        `json:"session_id"`
	AssignmentID      string                        `json:"assignment_id"`
	StudentID         string                        `json:"student_id"`
	Answers           map[string]string             `json:"answers"`
	Interactions      map[string][]InteractionEvent `json:"interactions"`
	TimeSpent         map[string]float64            `json:"time_spent"`
	AIScore           int                           `json:"ai_score"`
	TeacherScore      *int                          `json:"teacher_score,omitempty"`
	IsGradeOverridden bool                          `json:"is_grade_overridden"`
	SubmittedAt       time.Time                     `json:"submitted_at"`
}

// SubmissionInput is what a student posts to be graded.
type SubmissionInput struct {
	StudentID    string                        `json:"student_id" validate:"required"`
	Answers      map[string]string             `json:"answers"`
	Interactions map[string][]InteractionEvent `json:"interactions"`
	TimeSpent    map[string]float64            `json:"time_spent"`
}

// InteractionAnalysis aggregates a question's interaction log.
type InteractionAnalysis struct {
	HintsUsed      int     `json:"hints_used"`
	ProbingEngaged int     `json:"probing_engaged"`
	TimeSpent      float64 `json:"time_spent"`
}

// Analyze aggregates one question's events. Every event counts as probing
// engagement; only hint_used events count as hints.
func Analyze(events []InteractionEvent, timeSpent float64) InteractionAnalysis {
	a := InteractionAnalysis{ProbingEngaged: len(events), TimeSpent: timeSpent}
	for _, e := range events {
		if e.Type == EventHintUsed {
			a.HintsUsed++
		}
	}
	return a
}

// FeedbackItem is the per-question grading outcome.
type FeedbackItem struct {
	Correct             bool                `json:"correct"`
	StudentAnswer       string              `json:"student_answer"`
	QuestionText        string              `json:"question_text"`
	Explanation         Steps               `json:"explanation"`
	InteractionAnalysis InteractionAnalysis `json:"interaction_analysis"`
}

// GradedResult is returned from a grading call.
type GradedResult struct {
	SubmissionID   string                  `json:"submission_id"`
	Score          int                     `json:"score"`
	TotalQuestions int                     `json:"total_questions"`
	Feedback       map[string]FeedbackItem `json:"feedback"`
}

// SubmissionDetail is the teacher's view of one submission.
type SubmissionDetail struct {
	Submission      Submission                     `json:"submission"`
	AssignmentTitle string                         `json:"assignment_title"`
	Questions       []Question                     `json:"questions"`
	Analysis        map[string]InteractionAnalysis `json:"interaction_analysis"`
}

// ProbeRequest is one round of the Socratic dialogue. SessionID and
// QuestionID are optional; when both are set the stored chain bounds the
// dialogue.
type ProbeRequest struct {
	QuestionText       string `json:"question_text" validate:"required"`
	TargetAnswer       string `json:"correct_answer" validate:"required"`
	CurrentProbingText string `json:"probing_question" validate:"required"`
	StudentResponse    string `json:"student_response"`
	CurrentIndex       int    `json:"current_index" validate:"gte=0"`
	SessionID          string `json:"session_id,omitempty"`
	QuestionID         string `json:"question_id,omitempty"`
}

// ProbeResult is the evaluated outcome of one dialogue round.
type ProbeResult struct {
	IsCorrect           bool    `json:"is_correct"`
	Feedback            string  `json:"feedback"`
	NextProbingQuestion *string `json:"next_probing_question"`
	IsComplete          bool    `json:"is_complete"`
}

// QuestionImport is used for loading teacher-authored assignments from JSON.
type QuestionImport struct {
	Text        string       `json:"text" validate:"required"`
	Answer      string       `json:"answer" validate:"required"`
	Explanation Steps        `json:"explanation"`
	Type        QuestionType `json:"type"`
	Options     []string     `json:"options"`
}

// AssignmentImport is the on-disk format of an authored assignment.
type AssignmentImport struct {
	Title      string           `json:"title" validate:"required"`
	Subject    string           `json:"subject"`
	Topic      string           `json:"topic"`
	Difficulty string           `json:"difficulty"`
	ClassGrade string           `json:"class_grade"`
	QuizType   QuizType         `json:"quiz_type" validate:"omitempty,oneof=open mcq"`
	TimeLimit  int              `json:"time_limit" validate:"gte=0"`
	Questions  []QuestionImport `json:"questions" validate:"required,min=1,dive"`
}
