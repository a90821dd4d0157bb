package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"portero.org/internal/auth"
	"portero.org/internal/obs"
)

// writeAuthError maps service errors to HTTP responses. Typed denials keep
// their code; generic errors fall back to the sentinel they wrap.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := auth.AsError(err); ok {
		details := map[string]any{}
		if e.RemainingSeconds > 0 {
			details["remaining_seconds"] = e.RemainingSeconds
			w.Header().Set("Retry-After", strconv.FormatInt(e.RemainingSeconds, 10))
		}
		status := statusForError(e)
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer error="`+e.Code+`"`)
		}
		writeError(w, r, status, e.Code, e.Message, details)
		return
	}
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, auth.ErrNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, "not_configured", err.Error(), nil)
	default:
		obs.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func statusForError(e *auth.Error) int {
	switch e.Kind {
	case auth.KindAuthentication:
		return http.StatusUnauthorized
	case auth.KindPolicyAdmin:
		return http.StatusConflict
	}
	switch e.Code {
	case auth.ErrWeakPassword.Code, auth.ErrPasswordReused.Code:
		return http.StatusBadRequest
	}
	return http.StatusForbidden
}
