package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/engine"
	appI18n "github.com/explainly/explainly/internal/i18n"
	"github.com/explainly/explainly/internal/metrics"
	"github.com/explainly/explainly/internal/tracing"
)

// maxBodyBytes caps request bodies. Course material context is the largest
// field.
const maxBodyBytes = 1 << 20

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc    *engine.Service
	health Pinger
}

// New creates a new Handler. health may be nil.
func New(svc *engine.Service, health Pinger) *Handler {
	return &Handler{svc: svc, health: health}
}

// Router builds the full HTTP stack: middleware, API routes, health and
// metrics.
func (h *Handler) Router(lang string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(tracing.Middleware)
	r.Use(appI18n.Middleware(lang))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api", h.Routes)
	return r
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/assignments", h.handleCreateAssignment)
	r.Post("/assignments/authored", h.handleAuthorAssignment)
	r.Get("/assignments", h.handleListAssignments)
	r.Get("/assignments/{id}", h.handleGetAssignment)
	r.Put("/assignments/{id}/questions/{qid}", h.handleUpdateQuestion)
	r.Post("/assignments/{id}/publish", h.handlePublish)
	r.Get("/assignments/{id}/sessions", h.handleListSessions)
	r.Get("/assignments/{id}/submissions", h.handleListAssignmentSubmissions)

	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Post("/sessions/{sessionID}/submissions", h.handleSubmit)
	r.Get("/sessions/{sessionID}/submissions", h.handleListSubmissions)
	r.Get("/sessions/{sessionID}/export", h.handleExport)

	r.Post("/probe", h.handleProbe)

	r.Get("/submissions/{id}", h.handleGetSubmission)
	r.Put("/submissions/{id}/teacher-score", h.handleOverrideScore)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind   apperr.Kind         `json:"kind"`
	Detail string              `json:"detail"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUpstreamGeneration:
		return http.StatusBadGateway
	case apperr.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindAlreadyExists, apperr.KindImmutable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError renders err as the API error body. Storage and internal
// details stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	body := errorDetail{Kind: kind}

	var e *apperr.Error
	if errors.As(err, &e) {
		body.Detail = e.Detail
		body.Fields = e.Fields
	}
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		body.Detail = http.StatusText(status)
	} else {
		slog.Warn("request rejected", "path", r.URL.Path, "kind", kind, "error", err)
	}
	if body.Detail == "" {
		body.Detail = err.Error()
	}
	writeJSON(w, status, errorBody{Error: body})
}

// queryBool parses an optional boolean query parameter. An absent
// parameter is false.
func queryBool(r *http.Request, op, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation(op, apperr.FieldError{Field: name, Error: "must be a boolean"})
	}
	return v, nil
}

// decode reads a JSON body into v. Malformed JSON is a validation error
// with a localized message.
func decode(r *http.Request, op string, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &apperr.Error{
			Kind:   apperr.KindValidation,
			Op:     op,
			Detail: appI18n.T(r.Context(), "InvalidJSON"),
			Err:    err,
		}
	}
	return nil
}
