package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

// ListLoginAttempts handles GET /admin/security/login-attempts
func (h *Handler) ListLoginAttempts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListLoginAttempts(r.Context(),
		r.URL.Query().Get("email"), r.URL.Query().Get("ip"),
		parseSince(r), nil, parseLimit(r, 100))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// ListSecurityEvents handles GET /admin/security/events
func (h *Handler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	var kind *models.SecurityEventKind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k := models.SecurityEventKind(raw)
		kind = &k
	}
	var severity *models.Severity
	if raw := r.URL.Query().Get("severity"); raw != "" {
		s := models.Severity(raw)
		severity = &s
	}
	rows, err := h.store.ListSecurityEvents(r.Context(), kind, severity,
		r.URL.Query().Get("ip"), parseSince(r), parseLimit(r, 100))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// GetSecurityEvent handles GET /admin/security/events/{id}
func (h *Handler) GetSecurityEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.GetSecurityEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// ListIPBlocks handles GET /admin/security/ip-blocks
func (h *Handler) ListIPBlocks(w http.ResponseWriter, r *http.Request) {
	var status *models.IPBlockStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.IPBlockStatus(raw)
		status = &s
	}
	rows, err := h.store.ListIPBlocks(r.Context(), status, parseLimit(r, 100))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// ipBlockBody is the JSON body for POST /admin/security/ip-blocks
type ipBlockBody struct {
	IPAddress       string `json:"ip_address"`
	Reason          string `json:"reason"`
	DurationMinutes *int   `json:"duration_minutes"` // nil means permanent
}

// CreateIPBlock handles POST /admin/security/ip-blocks: a manual block.
func (h *Handler) CreateIPBlock(w http.ResponseWriter, r *http.Request) {
	var body ipBlockBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.IPAddress == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "ip_address required")
		return
	}
	block := &models.IPBlock{
		IPAddress:       body.IPAddress,
		BlockKind:       models.BlockManual,
		Reason:          body.Reason,
		DurationMinutes: body.DurationMinutes,
		BlockedAt:       time.Now().UTC(),
	}
	if err := h.store.CreateIPBlock(r.Context(), block); err != nil {
		if errors.Is(err, repository.ErrAlreadyBlocked) {
			respondError(w, r, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, block)
}

// RemoveIPBlock handles DELETE /admin/security/ip-blocks/{id}
func (h *Handler) RemoveIPBlock(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveIPBlock(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRateLimitRules handles GET /admin/security/rate-limits
func (h *Handler) ListRateLimitRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListActiveRateLimitRules(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

// rateLimitBody is the JSON body for POST /admin/security/rate-limits
type rateLimitBody struct {
	Name              string `json:"name"`
	Scope             string `json:"scope"`
	Target            string `json:"target"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	RequestsPerHour   int    `json:"requests_per_hour"`
	RequestsPerDay    int    `json:"requests_per_day"`
}

// CreateRateLimitRule handles POST /admin/security/rate-limits
func (h *Handler) CreateRateLimitRule(w http.ResponseWriter, r *http.Request) {
	var body rateLimitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Name == "" || body.Scope == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "name and scope required")
		return
	}
	rule := &models.APIRateLimit{
		Name:              body.Name,
		Scope:             models.RateLimitScope(body.Scope),
		Target:            body.Target,
		RequestsPerMinute: body.RequestsPerMinute,
		RequestsPerHour:   body.RequestsPerHour,
		RequestsPerDay:    body.RequestsPerDay,
		Active:            true,
	}
	if err := h.store.CreateRateLimitRule(r.Context(), rule); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}
