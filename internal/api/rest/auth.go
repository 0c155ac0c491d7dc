package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/admincore/admincore/internal/auth"
	"github.com/admincore/admincore/internal/gateway"
)

// SignIn handles POST /signin. Failed attempts answer 401/403 so the gateway's
// post-response accounting sees them.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "email and password required")
		return
	}
	meta := auth.Meta{
		IP:        gateway.ClientIP(r.Header.Get("X-Forwarded-For"), r.RemoteAddr),
		UserAgent: r.UserAgent(),
	}
	session, err := h.signin.SignIn(r.Context(), creds, meta)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked), errors.Is(err, auth.ErrAccountInactive):
			respondError(w, r, http.StatusForbidden, ErrCodeForbidden, err.Error())
		case errors.Is(err, auth.ErrTwoFactorRequired):
			respondError(w, r, http.StatusUnauthorized, "TWO_FACTOR_REQUIRED", err.Error())
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrTwoFactorInvalid):
			respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
		default:
			respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, session)
}
