package model

import "time"

// SessionExport is the top-level JSON structure for session result export.
type SessionExport struct {
	SessionID       string          `json:"session_id"`
	AssignmentID    string          `json:"assignment_id"`
	Title           string          `json:"title"`
	Subject         string          `json:"subject"`
	ActivatedAt     time.Time       `json:"activated_at"`
	NumQuestions    int             `json:"num_questions"`
	Questions       []Question      `json:"questions"`
	Results         []StudentResult `json:"results"`
	ExportedAt      time.Time       `json:"exported_at"`
	SubmissionCount int             `json:"submission_count"`
}

// StudentResult holds one submission for export.
type StudentResult struct {
	SubmissionID      string                         `json:"submission_id"`
	StudentID         string                         `json:"student_id"`
	AttemptNumber     int                            `json:"attempt_number"`
	SubmittedAt       time.Time                      `json:"submitted_at"`
	AIScore           int                            `json:"ai_score"`
	TeacherScore      *int                           `json:"teacher_score,omitempty"`
	FinalScore        int                            `json:"final_score"`
	IsGradeOverridden bool                           `json:"is_grade_overridden"`
	Answers           map[string]string              `json:"answers"`
	Analysis          map[string]InteractionAnalysis `json:"interaction_analysis"`
}
