package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kioskd/internal/domain"
	"kioskd/internal/storage"
	"kioskd/internal/tasks"
)

const defaultTaskLimit = 100

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(r, defaultTaskLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := storage.InstanceFilter{
		AssignedTo: strings.TrimSpace(q.Get("employee")),
		Limit:      limit,
	}
	if raw := q.Get("status"); raw != "" {
		st, err := domain.ParseStatus(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		f.Status = st
	}
	if raw := strings.TrimSpace(q.Get("source")); raw != "" {
		f.SourceType = domain.SourceType(raw)
		if !f.SourceType.Valid() {
			s.writeError(w, r, domain.Invalid("source", "must be regular or special"))
			return
		}
	}
	list, err := s.deps.Tasks.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.TaskInstance{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	in, err := s.deps.Tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleCreateSpecial(w http.ResponseWriter, r *http.Request) {
	var req tasks.SpecialTask
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.deps.Tasks.CreateSpecial(r.Context(), req)
	s.writeResult(w, r, http.StatusCreated, in, err)
}

type transitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := domain.ParseStatus(req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.deps.Tasks.Transition(r.Context(), chi.URLParam(r, "id"), to, req.Notes)
	s.writeResult(w, r, http.StatusOK, in, err)
}

type reassignRequest struct {
	Employee string `json:"employee"`
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.deps.Tasks.Reassign(r.Context(), chi.URLParam(r, "id"), req.Employee)
	s.writeResult(w, r, http.StatusOK, in, err)
}
