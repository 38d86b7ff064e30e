package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cardshield/rulegov/pkg/domain"
)

// statusForKind maps the error taxonomy onto HTTP status codes. Every
// handler funnels failures through WriteError so the mapping lives in
// exactly one place.
func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindCompilation:
		return http.StatusUnprocessableEntity
	case domain.KindPublishing:
		return http.StatusBadGateway
	case domain.KindIntegrity:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

type errorEnvelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// WriteError emits the standard error envelope for err. Errors outside
// the taxonomy surface as UnavailableError without leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.Unavailablef("internal error")
	}
	details := de.Details
	if details == nil {
		details = map[string]any{}
	}
	WriteJSON(w, statusForKind(de.Kind), errorEnvelope{
		Error:   string(de.Kind),
		Message: de.Message,
		Details: details,
	})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// maxBodyBytes bounds request bodies. Condition trees are small; anything
// near this limit is malformed or hostile.
const maxBodyBytes = 1 << 20

// decodeJSON parses the request body into dst. Malformed input is a
// ValidationError carrying the decoder's position where available.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return domain.Validationf("request body is not valid JSON").WithCause(err)
	}
	return nil
}
