// Package apperr defines the error kinds shared by the engine, the store and
// the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "validation"
	KindUpstreamGeneration Kind = "upstream_generation"
	KindUpstreamTimeout    Kind = "upstream_timeout"
	KindStorage            Kind = "storage"
	KindAlreadyExists      Kind = "already_exists"
	KindImmutable          Kind = "immutable"
	KindInternal           Kind = "internal"
)

// FieldError points at a single invalid input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Error is a structured failure carrying a Kind, the operation that failed
// and a human-readable detail.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an Error of the given kind.
func E(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap builds an Error of the given kind around err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound reports a missing session, assignment or submission.
func NotFound(op, format string, args ...any) *Error {
	return E(KindNotFound, op, fmt.Sprintf(format, args...))
}

// Validation reports malformed caller input.
func Validation(op string, fields ...FieldError) *Error {
	detail := "invalid input"
	if len(fields) == 1 {
		detail = fields[0].Field + ": " + fields[0].Error
	} else if len(fields) > 1 {
		detail = fmt.Sprintf("%d invalid fields", len(fields))
	}
	return &Error{Kind: KindValidation, Op: op, Detail: detail, Fields: fields}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
