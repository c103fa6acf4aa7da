package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		obslog.WithComponent("httpapi").Error().Err(err).Msg("failed to encode response body")
	}
}

// writeError maps err to its HTTP status and renders the uniform error
// envelope. Non-bin2nlperr errors are treated as internal and their detail
// is never leaked to the caller.
func writeError(w http.ResponseWriter, err error) {
	class := bin2nlperr.ClassOf(err)
	status := bin2nlperr.HTTPStatus(class)

	resp := errorResponse{Class: string(class), Message: "internal error"}
	var bErr *bin2nlperr.Error
	if errors.As(err, &bErr) {
		resp.Message = bErr.Message
		resp.CorrelationID = bErr.CorrelationID
		resp.RetryAfter = bErr.RetryAfter
		resp.Details = bErr.Details
	}
	if status >= http.StatusInternalServerError {
		obslog.WithComponent("httpapi").Error().Err(err).Str("class", string(class)).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func validationError(component string, err error) *bin2nlperr.Error {
	return bin2nlperr.Wrap(bin2nlperr.Validation, component, "request validation failed", err)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
