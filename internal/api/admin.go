package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kioskd/internal/domain"
	"kioskd/internal/storage"
	"kioskd/internal/tasks"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := s.deps.Templates.List(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.TaskTemplate{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in tasks.TemplateInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Templates.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in tasks.TemplateInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Templates.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Templates.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Directory.ListEmployees(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Employee{}
	}
	writeJSON(w, http.StatusOK, list)
}

type employeeInput struct {
	Name   *string `json:"name,omitempty"`
	Role   *string `json:"role,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

func (in employeeInput) apply(e *domain.Employee) error {
	if in.Name != nil {
		e.Name = strings.TrimSpace(*in.Name)
	}
	if in.Role != nil {
		e.Role = domain.Role(strings.ToLower(strings.TrimSpace(*in.Role)))
	}
	if in.Active != nil {
		e.Active = *in.Active
	}
	if e.Name == "" {
		return domain.Invalid("name", "must not be empty")
	}
	if !e.Role.Valid() {
		return domain.Invalid("role", "must be employee, manager or admin")
	}
	return nil
}

func (s *Server) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	var in employeeInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	e := domain.Employee{
		ID:        domain.NewID("emp"),
		Role:      domain.RoleEmployee,
		Active:    true,
		CreatedAt: s.deps.Clock.Now(),
	}
	if err := in.apply(&e); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Directory.PutEmployee(r.Context(), e); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	var in employeeInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.deps.Directory.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := in.apply(&e); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Directory.PutEmployee(r.Context(), e); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

const defaultEventLimit = 100

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultEventLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := storage.EventFilter{
		Type:  strings.TrimSpace(r.URL.Query().Get("type")),
		Limit: limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, domain.Invalid("since", "must be RFC3339"))
			return
		}
		f.Since = ts
	}
	list, err := s.deps.Directory.ListEvents(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Scheduler.ForceRun(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}
