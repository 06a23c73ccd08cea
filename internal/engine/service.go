// Package engine implements the assignment lifecycle: creation, publishing,
// grading, the probing dialogue and teacher review.
package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/cache"
	"github.com/explainly/explainly/internal/generator"
	"github.com/explainly/explainly/internal/model"
)

// Store is the persistence the engine needs. *store.Store implements it.
type Store interface {
	CreateAssignment(ctx context.Context, a *model.Assignment, chains map[string][]model.ProbingStep) error
	CreateImportedAssignment(ctx context.Context, a *model.Assignment, chains map[string][]model.ProbingStep, hash, path string) error
	ImportedAssignment(ctx context.Context, hash string) (string, error)
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	ListAssignments(ctx context.Context) ([]model.Assignment, error)
	UpdateQuestion(ctx context.Context, assignmentID string, q model.Question) error
	GetProbingChains(ctx context.Context, assignmentID string) (map[string][]model.ProbingStep, error)

	CreateSession(ctx context.Context, sess model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, assignmentID string) ([]model.Session, error)

	InsertSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ListSubmissionsBySession(ctx context.Context, sessionID string) ([]model.Submission, error)
	ListSubmissionsByAssignment(ctx context.Context, assignmentID string) ([]model.Submission, error)
	SetTeacherScore(ctx context.Context, id string, score int) (bool, error)

	ExportSession(ctx context.Context, sessionID string) (*model.SessionExport, error)
}

// ContentGenerator produces questions and probing chains.
// *generator.Generator implements it.
type ContentGenerator interface {
	GenerateQuestions(ctx context.Context, p generator.QuestionParams) (generator.Generation, error)
	GenerateProbingChain(ctx context.Context, questionText, answer, subject string) ([]model.ProbingStep, error)
}

// DefaultChainConcurrency bounds parallel probing chain generation.
const DefaultChainConcurrency = 4

// Service is the upward interface used by the HTTP layer and the CLI.
type Service struct {
	store      Store
	gen        ContentGenerator
	llm        generator.Completer
	cache      cache.SessionCache
	validate   *validator.Validate
	chainLimit int
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache serves session snapshots through c.
func WithCache(c cache.SessionCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithChainConcurrency bounds parallel probing chain generation.
func WithChainConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chainLimit = n
		}
	}
}

// New creates a Service. llm is used directly by the probing dialogue.
func New(st Store, gen ContentGenerator, llm generator.Completer, opts ...Option) *Service {
	s := &Service{
		store:      st,
		gen:        gen,
		llm:        llm,
		cache:      cache.Nop{},
		validate:   newValidator(),
		chainLimit: DefaultChainConcurrency,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateRequest checks v against its struct tags with the rules the
// engine applies to its own inputs. Failures are apperr.KindValidation
// errors naming fields by their JSON names.
func (s *Service) ValidateRequest(op string, v any) error {
	return s.validateStruct(op, v)
}

// validateStruct runs struct tags and converts failures to apperr fields.
func (s *Service) validateStruct(op string, v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	return apperr.Validation(op, fieldErrors(verrs)...)
}

// fieldErrors converts validator output into apperr field errors.
func fieldErrors(verrs validator.ValidationErrors) []apperr.FieldError {
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		fields = append(fields, apperr.FieldError{Field: field, Error: msg})
	}
	return fields
}
