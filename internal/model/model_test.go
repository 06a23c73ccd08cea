package model

import (
	"encoding/json"
	"testing"
)

func TestStepsUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"string", `"Divide both sides by 2"`, []string{"Divide both sides by 2"}},
		{"empty string", `""`, nil},
		{"list", `["Step 1: add", "Final Step: 4"]`, []string{"Step 1: add", "Final Step: 4"}},
		{"null", `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Steps
			if err := json.Unmarshal([]byte(tt.in), &s); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if len(s) != len(tt.want) {
				t.Fatalf("got %v, want %v", s, tt.want)
			}
			for i := range s {
				if s[i] != tt.want[i] {
					t.Errorf("step %d = %q, want %q", i, s[i], tt.want[i])
				}
			}
		})
	}

	var s Steps
	if err := json.Unmarshal([]byte(`42`), &s); err == nil {
		t.Error("expected error for numeric explanation")
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range []EventType{EventHintUsed, EventProbingAnswer, EventQuestionAttempt} {
		if !et.Valid() {
			t.Errorf("%q should be valid", et)
		}
	}
	if EventType("copy_paste").Valid() {
		t.Error("unknown event type should be invalid")
	}
}

func TestAssignmentQuestionLookup(t *testing.T) {
	a := Assignment{Questions: []Question{{ID: "q1", Text: "2+2?"}, {ID: "q2"}}}
	if q, ok := a.Question("q1"); !ok || q.Text != "2+2?" {
		t.Errorf("Question(q1) = %+v, %v", q, ok)
	}
	if _, ok := a.Question("nope"); ok {
		t.Error("Question(nope) should be absent")
	}
}

func TestAnalyze(t *testing.T) {
	events := []InteractionEvent{
		{Type: EventHintUsed},
		{Type: EventProbingAnswer, Content: "x = 4"},
		{Type: EventHintUsed},
		{Type: EventQuestionAttempt},
	}
	got := Analyze(events, 42.5)
	want := InteractionAnalysis{HintsUsed: 2, ProbingEngaged: 4, TimeSpent: 42.5}
	if got != want {
		t.Errorf("Analyze = %+v, want %+v", got, want)
	}
	if got := Analyze(nil, 0); got != (InteractionAnalysis{}) {
		t.Errorf("Analyze(nil) = %+v, want zero", got)
	}
}
