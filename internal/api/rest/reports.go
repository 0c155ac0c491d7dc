package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/report"
	"github.com/admincore/admincore/internal/repository"
)

// reportTemplateBody is the JSON body for POST and PUT /admin/reports/templates
type reportTemplateBody struct {
	Name           string `json:"name"`
	ReportKind     string `json:"report_kind"`
	Format         string `json:"format"`
	QueryConfig    string `json:"query_config"`
	TemplateConfig string `json:"template_config"`
	DefaultFilters string `json:"default_filters"`
}

// scheduledReportBody is the JSON body for POST and PUT /admin/reports/scheduled
type scheduledReportBody struct {
	TemplateID     string                       `json:"template_id"`
	Name           string                       `json:"name"`
	Recurrence     string                       `json:"recurrence"`
	CronExpression string                       `json:"cron_expression"`
	NextRun        *time.Time                   `json:"next_run"`
	Status         string                       `json:"status"`
	Recipients     string                       `json:"recipients"`
	Channels       []models.NotificationChannel `json:"notification_channels"`
	RetentionDays  *int                         `json:"retention_days"`
}

// ListReportTemplates handles GET /admin/reports/templates
func (h *Handler) ListReportTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.ListReportTemplates(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, templates)
}

// CreateReportTemplate handles POST /admin/reports/templates
func (h *Handler) CreateReportTemplate(w http.ResponseWriter, r *http.Request) {
	var body reportTemplateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Name == "" || body.ReportKind == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "name and report_kind required")
		return
	}
	tmpl := &models.ReportTemplate{
		Name:           body.Name,
		ReportKind:     models.ReportKind(body.ReportKind),
		Format:         models.ReportFormat(body.Format),
		QueryConfig:    body.QueryConfig,
		TemplateConfig: body.TemplateConfig,
		DefaultFilters: body.DefaultFilters,
	}
	if tmpl.Format == "" {
		tmpl.Format = models.FormatJSON
	}
	if err := h.store.CreateReportTemplate(r.Context(), tmpl); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, tmpl)
}

// GetReportTemplate handles GET /admin/reports/templates/{id}
func (h *Handler) GetReportTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.store.GetReportTemplate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

// UpdateReportTemplate handles PUT /admin/reports/templates/{id}
func (h *Handler) UpdateReportTemplate(w http.ResponseWriter, r *http.Request) {
	existing, err := h.store.GetReportTemplate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	var body reportTemplateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Name != "" {
		existing.Name = body.Name
	}
	if body.ReportKind != "" {
		existing.ReportKind = models.ReportKind(body.ReportKind)
	}
	if body.Format != "" {
		existing.Format = models.ReportFormat(body.Format)
	}
	if body.QueryConfig != "" {
		existing.QueryConfig = body.QueryConfig
	}
	if body.TemplateConfig != "" {
		existing.TemplateConfig = body.TemplateConfig
	}
	if body.DefaultFilters != "" {
		existing.DefaultFilters = body.DefaultFilters
	}
	if err := h.store.UpdateReportTemplate(r.Context(), existing); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, existing)
}

// DeleteReportTemplate handles DELETE /admin/reports/templates/{id}
func (h *Handler) DeleteReportTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteReportTemplate(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateReport handles POST /admin/reports/templates/{id}/generate: ad-hoc
// execution outside any schedule.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.store.GetReportTemplate(r.Context(), id); err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	exec, err := h.reports.RunNow(r.Context(), id)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// ListScheduledReports handles GET /admin/reports/scheduled
func (h *Handler) ListScheduledReports(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.store.ListScheduledReports(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, schedules)
}

// CreateScheduledReport handles POST /admin/reports/scheduled
func (h *Handler) CreateScheduledReport(w http.ResponseWriter, r *http.Request) {
	var body scheduledReportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.TemplateID == "" || body.Name == "" || body.Recurrence == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "template_id, name and recurrence required")
		return
	}
	if _, err := h.store.GetReportTemplate(r.Context(), body.TemplateID); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "unknown template_id")
		return
	}
	s := &models.ScheduledReport{
		TemplateID:     body.TemplateID,
		Name:           body.Name,
		Recurrence:     models.Recurrence(body.Recurrence),
		CronExpression: body.CronExpression,
		Status:         models.ScheduleActive,
		Recipients:     body.Recipients,
		Channels:       body.Channels,
	}
	if body.Status != "" {
		s.Status = models.ScheduledReportStatus(body.Status)
	}
	if body.RetentionDays != nil {
		s.RetentionDays = *body.RetentionDays
	}
	if body.NextRun != nil {
		s.NextRun = *body.NextRun
	} else {
		next, err := report.NextRun(s, time.Now())
		if err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
			return
		}
		s.NextRun = next
	}
	if err := h.store.CreateScheduledReport(r.Context(), s); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

// GetScheduledReport handles GET /admin/reports/scheduled/{id}
func (h *Handler) GetScheduledReport(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetScheduledReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// UpdateScheduledReport handles PUT /admin/reports/scheduled/{id}
func (h *Handler) UpdateScheduledReport(w http.ResponseWriter, r *http.Request) {
	existing, err := h.store.GetScheduledReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	var body scheduledReportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Name != "" {
		existing.Name = body.Name
	}
	if body.TemplateID != "" {
		existing.TemplateID = body.TemplateID
	}
	if body.Recurrence != "" {
		existing.Recurrence = models.Recurrence(body.Recurrence)
	}
	if body.CronExpression != "" {
		existing.CronExpression = body.CronExpression
	}
	if body.Status != "" {
		existing.Status = models.ScheduledReportStatus(body.Status)
	}
	if body.Recipients != "" {
		existing.Recipients = body.Recipients
	}
	if body.Channels != nil {
		existing.Channels = body.Channels
	}
	if body.RetentionDays != nil {
		existing.RetentionDays = *body.RetentionDays
	}
	if body.NextRun != nil {
		existing.NextRun = *body.NextRun
	}
	if err := h.store.UpdateScheduledReport(r.Context(), existing); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, existing)
}

// DeleteScheduledReport handles DELETE /admin/reports/scheduled/{id}
func (h *Handler) DeleteScheduledReport(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteScheduledReport(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteScheduledReport handles POST /admin/reports/scheduled/{id}/execute:
// manual execution under the schedule's lease.
func (h *Handler) ExecuteScheduledReport(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetScheduledReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	exec, err := h.reports.Execute(r.Context(), s)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionInFlight) {
			respondError(w, r, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// ListReportExecutions handles GET /admin/reports/executions
func (h *Handler) ListReportExecutions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListReportExecutions(r.Context(), r.URL.Query().Get("schedule_id"), parseLimit(r, 100))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// GetReportExecution handles GET /admin/reports/executions/{id}
func (h *Handler) GetReportExecution(w http.ResponseWriter, r *http.Request) {
	x, err := h.store.GetReportExecution(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, x)
}

// CancelReportExecution handles POST /admin/reports/executions/{id}/cancel
func (h *Handler) CancelReportExecution(w http.ResponseWriter, r *http.Request) {
	x, err := h.reports.Cancel(r.Context(), mux.Vars(r)["id"])
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
	respondJSON(w, http.StatusOK, x)
}

// ReportStatistics handles GET /admin/reports/statistics
func (h *Handler) ReportStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetReportStatistics(r.Context(), time.Now())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
