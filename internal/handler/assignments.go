package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/explainly/explainly/internal/engine"
	"github.com/explainly/explainly/internal/model"
)

func (h *Handler) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var p engine.CreateParams
	if err := decode(r, "handler.create_assignment", &p); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.svc.CreateAssignment(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleAuthorAssignment(w http.ResponseWriter, r *http.Request) {
	var in model.AssignmentImport
	const op = "handler.author_assignment"
	if err := decode(r, op, &in); err != nil {
		writeError(w, r, err)
		return
	}
	skip, err := queryBool(r, op, "skip_chains")
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.svc.AuthorAssignment(r.Context(), in, engine.AuthorOptions{SkipChains: skip})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAssignments(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var edit engine.QuestionEdit
	if err := decode(r, "handler.update_question", &edit); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.svc.UpdateQuestion(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "qid"), edit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Publish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleListAssignmentSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.ListAssignmentSubmissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}
