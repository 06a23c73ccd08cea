package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/explainly/explainly/internal/model"
)

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in model.SubmissionInput
	if err := decode(r, "handler.submit", &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Grade(r.Context(), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.ListSubmissions(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := h.svc.Export(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req model.ProbeRequest
	if err := decode(r, "handler.probe", &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Evaluate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetSubmissionDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type teacherScoreRequest struct {
	TeacherScore *int `json:"teacher_score" validate:"required"`
}

func (h *Handler) handleOverrideScore(w http.ResponseWriter, r *http.Request) {
	const op = "handler.override_score"
	var body teacherScoreRequest
	if err := decode(r, op, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.ValidateRequest(op, body); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.svc.OverrideScore(r.Context(), chi.URLParam(r, "id"), *body.TeacherScore)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
