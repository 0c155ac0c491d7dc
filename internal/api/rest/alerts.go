package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/admincore/admincore/internal/auth"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

// alertRuleBody is the JSON body for POST and PUT /admin/alerts/rules
type alertRuleBody struct {
	Name             string                       `json:"name"`
	AlertKind        string                       `json:"alert_kind"`
	Severity         string                       `json:"severity"`
	Status           string                       `json:"status"`
	ThresholdValue   *float64                     `json:"threshold_value"`
	Comparison       string                       `json:"comparison"`
	CheckIntervalSec int                          `json:"check_interval"`
	CooldownSec      int                          `json:"cooldown_period"`
	MaxAlertsPerHour int                          `json:"max_alerts_per_hour"`
	Channels         []models.NotificationChannel `json:"notification_channels"`
	CustomSource     string                       `json:"custom_source"`
}

// ListAlertRules handles GET /admin/alerts/rules
func (h *Handler) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("active") == "true"
	rules, err := h.store.ListAlertRules(r.Context(), onlyActive)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

// CreateAlertRule handles POST /admin/alerts/rules
func (h *Handler) CreateAlertRule(w http.ResponseWriter, r *http.Request) {
	var body alertRuleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Name == "" || body.AlertKind == "" || body.ThresholdValue == nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "name, alert_kind and threshold_value required")
		return
	}
	rule := &models.AlertRule{
		Name:             body.Name,
		AlertKind:        models.AlertKind(body.AlertKind),
		Severity:         models.Severity(body.Severity),
		Status:           models.AlertRuleStatus(body.Status),
		ThresholdValue:   *body.ThresholdValue,
		Comparison:       models.Comparator(body.Comparison),
		CheckIntervalSec: body.CheckIntervalSec,
		CooldownSec:      body.CooldownSec,
		MaxAlertsPerHour: body.MaxAlertsPerHour,
		Channels:         body.Channels,
		CustomSource:     body.CustomSource,
	}
	if rule.Severity == "" {
		rule.Severity = models.SeverityMedium
	}
	if rule.Status == "" {
		rule.Status = models.AlertRuleActive
	}
	if rule.Comparison == "" {
		rule.Comparison = models.CompareGT
	}
	if err := h.store.CreateAlertRule(r.Context(), rule); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// GetAlertRule handles GET /admin/alerts/rules/{id}
func (h *Handler) GetAlertRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetAlertRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// UpdateAlertRule handles PUT /admin/alerts/rules/{id}
func (h *Handler) UpdateAlertRule(w http.ResponseWriter, r *http.Request) {
	existing, err := h.store.GetAlertRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	var body alertRuleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Name != "" {
		existing.Name = body.Name
	}
	if body.AlertKind != "" {
		existing.AlertKind = models.AlertKind(body.AlertKind)
	}
	if body.Severity != "" {
		existing.Severity = models.Severity(body.Severity)
	}
	if body.Status != "" {
		existing.Status = models.AlertRuleStatus(body.Status)
	}
	if body.ThresholdValue != nil {
		existing.ThresholdValue = *body.ThresholdValue
	}
	if body.Comparison != "" {
		existing.Comparison = models.Comparator(body.Comparison)
	}
	if body.CheckIntervalSec > 0 {
		existing.CheckIntervalSec = body.CheckIntervalSec
	}
	if body.CooldownSec > 0 {
		existing.CooldownSec = body.CooldownSec
	}
	if body.MaxAlertsPerHour > 0 {
		existing.MaxAlertsPerHour = body.MaxAlertsPerHour
	}
	if body.Channels != nil {
		existing.Channels = body.Channels
	}
	if body.CustomSource != "" {
		existing.CustomSource = body.CustomSource
	}
	if err := h.store.UpdateAlertRule(r.Context(), existing); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, existing)
}

// DeleteAlertRule handles DELETE /admin/alerts/rules/{id}
func (h *Handler) DeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAlertRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts handles GET /admin/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var status *models.SystemAlertStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.SystemAlertStatus(raw)
		status = &s
	}
	alerts, err := h.store.ListSystemAlerts(r.Context(), status, r.URL.Query().Get("rule_id"), parseLimit(r, 100))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

// GetAlert handles GET /admin/alerts/{id}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetSystemAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ListAlertNotifications handles GET /admin/alerts/{id}/notifications
func (h *Handler) ListAlertNotifications(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListAlertNotifications(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// AcknowledgeAlert handles POST /admin/alerts/{id}/acknowledge
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.transitionAlert(w, r, h.alerts.Acknowledge)
}

// ResolveAlert handles POST /admin/alerts/{id}/resolve
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.transitionAlert(w, r, h.alerts.Resolve)
}

// SuppressAlert handles POST /admin/alerts/{id}/suppress
func (h *Handler) SuppressAlert(w http.ResponseWriter, r *http.Request) {
	h.transitionAlert(w, r, h.alerts.Suppress)
}

func (h *Handler) transitionAlert(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (*models.SystemAlert, error)) {
	actor := "system"
	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		actor = claims.Email
	}
	a, err := fn(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		case errors.Is(err, repository.ErrInvalidTransition):
			respondError(w, r, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
		default:
			respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// AlertStatistics handles GET /admin/alerts/statistics
func (h *Handler) AlertStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetAlertStatistics(r.Context(), time.Now())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// CheckAlerts handles POST /admin/alerts/check: a synchronous sweep over all
// active rules.
func (h *Handler) CheckAlerts(w http.ResponseWriter, r *http.Request) {
	fired, err := h.alerts.CheckAll(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"fired":  len(fired),
		"alerts": fired,
	})
}
