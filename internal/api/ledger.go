package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"kioskd/internal/domain"
	"kioskd/internal/ledger"
)

const defaultHistoryLimit = 50

func (s *Server) handleLedgerTotal(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "ledger")
	total, err := s.deps.Ledger.Total(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ledger": name, "total": total})
}

func (s *Server) handleLedgerHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.deps.Ledger.History(r.Context(), chi.URLParam(r, "ledger"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type adjustRequest struct {
	Action   string `json:"action"`
	Amount   *int64 `json:"amount,omitempty"`
	Employee string `json:"employee"`
	Note     string `json:"note,omitempty"`
}

func (s *Server) handleLedgerAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.deps.Ledger.Adjust(r.Context(), ledger.AdjustRequest{
		Ledger:   chi.URLParam(r, "ledger"),
		Action:   action,
		Amount:   req.Amount,
		Employee: req.Employee,
		Note:     req.Note,
	})
	s.writeResult(w, r, http.StatusCreated, entry, err)
}

func (s *Server) handleLedgerUndo(w http.ResponseWriter, r *http.Request) {
	total, err := s.deps.Ledger.UndoLast(r.Context(), chi.URLParam(r, "ledger"))
	s.writeResult(w, r, http.StatusOK, map[string]any{"new_total": total}, err)
}
