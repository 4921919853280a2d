package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"grimm.is/palisade/internal/iptables"
	"grimm.is/palisade/internal/policy"
	"grimm.is/palisade/internal/store"
)

// validate checks request DTOs carrying validate tags.
var validate = validator.New()

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSON sends a JSON success response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError sends a JSON error response.
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	json.NewEncoder(w).Encode(resp)
}

// decodeJSON reads the request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// checkStruct runs tag validation on a request DTO, reporting the first
// failed field in a client-readable form.
func checkStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		return fmt.Errorf("field %q failed %q validation", f.Field(), f.Tag())
	}
	return err
}

// writeEngineError maps engine and store errors onto HTTP status codes:
// validation and argument problems are client errors, missing rows are
// 404, anything else is a 500 with the detail logged, not leaked.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	var verr *policy.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, iptables.ErrInvalidArgument),
		errors.Is(err, iptables.ErrUnknownChain),
		errors.Is(err, store.ErrDuplicateChain):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error(op+" failed", "error", err)
		WriteError(w, http.StatusInternalServerError, op+" failed")
	}
}
