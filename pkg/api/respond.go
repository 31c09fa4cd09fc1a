package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/errs"
)

// errorBody is the wire shape for failures:
// {"error": {"code", "message", "statusCode", ...contextual}}.
type errorBody struct {
	Error map[string]any `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", logger.KeyError, err)
	}
}

// writeError maps an error to the taxonomy wire shape. Errors without a
// taxonomy code are surfaced as INTERNAL_ERROR with a generic message; the
// underlying detail goes to the log, not the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var typed *errs.Error
	if !errors.As(err, &typed) {
		logger.Error("unclassified handler error",
			"path", r.URL.Path, logger.KeyError, err)
		typed = errs.Internal("internal server error", nil)
	} else if typed.StatusCode >= 500 {
		logger.Error("handler error",
			"path", r.URL.Path, logger.KeyCode, string(typed.Code), logger.KeyError, err)
	}

	body := map[string]any{
		"code":       typed.Code,
		"message":    typed.Message,
		"statusCode": typed.StatusCode,
	}
	for k, v := range typed.Context {
		body[k] = v
	}
	writeJSON(w, typed.StatusCode, errorBody{Error: body})
}

// decodeJSONBody decodes a JSON request body into v. On failure it writes a
// validation error and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, errs.Validation("invalid request body"))
		return false
	}
	return true
}
