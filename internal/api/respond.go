package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"kioskd/internal/domain"
	"kioskd/internal/rotation"
	"kioskd/internal/scheduler"
	logx "kioskd/pkg/logx"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Partial bool   `json:"partial,omitempty"`
	Result  any    `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPartial):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNothingToUndo),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, scheduler.ErrPassInProgress),
		errors.Is(err, rotation.ErrEmptyPool):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes v with status on success. A partial failure still
// carries the stored result so the caller can see what was committed.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err == nil {
		writeJSON(w, status, v)
		return
	}
	if errors.Is(err, domain.ErrPartial) {
		s.log.Error("partial failure", errField(err), pathField(r))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Partial: true, Result: v})
		return
	}
	s.writeError(w, r, err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", errField(err), pathField(r))
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

// decodeJSON strictly decodes a single JSON object from the request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("body", "empty request body")
		}
		return domain.Invalid("body", err.Error())
	}
	if dec.More() {
		return domain.Invalid("body", "unexpected trailing data")
	}
	return nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Invalid("limit", fmt.Sprintf("must be a non-negative integer, got %q", raw))
	}
	return n, nil
}

func errField(err error) logx.Field { return logx.Err(err) }

func pathField(r *http.Request) logx.Field {
	return logx.String("path", r.Method+" "+r.URL.Path)
}
