package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := NotFound("publish", "assignment %s", "a1")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindInternal},
		{"direct", base, KindNotFound},
		{"wrapped", fmt.Errorf("handler: %w", base), KindNotFound},
		{"validation", Validation("grade", FieldError{Field: "student_id", Error: "required"}), KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindStorage, "store.insert", errors.New("disk full"))
	if got, want := err.Error(), "store.insert: storage: disk full"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap should expose the cause")
	}

	v := Validation("grade", FieldError{Field: "time_spent.q1", Error: "must be >= 0"})
	if v.Detail != "time_spent.q1: must be >= 0" {
		t.Errorf("single field detail = %q", v.Detail)
	}
	if !Is(v, KindValidation) {
		t.Error("Is(validation) should be true")
	}
}
