// Package rest implements the admin HTTP surface: alert and report CRUD,
// security audit listings, system endpoints and signin.
package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/admincore/admincore/internal/alert"
	"github.com/admincore/admincore/internal/auth"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/report"
	"github.com/admincore/admincore/internal/repository"
)

// Store is the persistence surface the handlers consume. Satisfied by
// *repository.SQLiteRepository.
type Store interface {
	// Alert rules and alerts.
	CreateAlertRule(ctx context.Context, rule *models.AlertRule) error
	UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error
	GetAlertRule(ctx context.Context, id string) (*models.AlertRule, error)
	ListAlertRules(ctx context.Context, onlyActive bool) ([]*models.AlertRule, error)
	DeleteAlertRule(ctx context.Context, id string) error
	ListSystemAlerts(ctx context.Context, status *models.SystemAlertStatus, ruleID string, limit int) ([]*models.SystemAlert, error)
	GetSystemAlert(ctx context.Context, id string) (*models.SystemAlert, error)
	ListAlertNotifications(ctx context.Context, alertID string) ([]*models.AlertNotification, error)
	GetAlertStatistics(ctx context.Context, now time.Time) (*repository.AlertStatistics, error)

	// Report templates, schedules and executions.
	CreateReportTemplate(ctx context.Context, t *models.ReportTemplate) error
	GetReportTemplate(ctx context.Context, id string) (*models.ReportTemplate, error)
	ListReportTemplates(ctx context.Context) ([]*models.ReportTemplate, error)
	UpdateReportTemplate(ctx context.Context, t *models.ReportTemplate) error
	DeleteReportTemplate(ctx context.Context, id string) error
	CreateScheduledReport(ctx context.Context, s *models.ScheduledReport) error
	GetScheduledReport(ctx context.Context, id string) (*models.ScheduledReport, error)
	ListScheduledReports(ctx context.Context) ([]*models.ScheduledReport, error)
	UpdateScheduledReport(ctx context.Context, s *models.ScheduledReport) error
	DeleteScheduledReport(ctx context.Context, id string) error
	ListReportExecutions(ctx context.Context, scheduleID string, limit int) ([]*models.ReportExecution, error)
	GetReportExecution(ctx context.Context, id string) (*models.ReportExecution, error)
	GetReportStatistics(ctx context.Context, now time.Time) (*repository.ReportStatistics, error)

	// Security audit.
	ListLoginAttempts(ctx context.Context, email, ip string, since, until *time.Time, limit int) ([]*models.LoginAttempt, error)
	ListSecurityEvents(ctx context.Context, kind *models.SecurityEventKind, severity *models.Severity, ip string, since *time.Time, limit int) ([]*models.SecurityEvent, error)
	GetSecurityEvent(ctx context.Context, id string) (*models.SecurityEvent, error)
	ListIPBlocks(ctx context.Context, status *models.IPBlockStatus, limit int) ([]*models.IPBlock, error)
	CreateIPBlock(ctx context.Context, b *models.IPBlock) error
	RemoveIPBlock(ctx context.Context, id string) error
	CreateRateLimitRule(ctx context.Context, rule *models.APIRateLimit) error
	ListActiveRateLimitRules(ctx context.Context) ([]*models.APIRateLimit, error)

	// System.
	BackupTo(ctx context.Context, path string) error
	Ping(ctx context.Context) error
}

// CacheFlusher clears in-memory counters and snapshots.
type CacheFlusher interface {
	Purge()
}

// Handler manages HTTP request handlers
type Handler struct {
	store   Store
	alerts  *alert.Engine
	reports *report.Engine
	sampler *alert.Sampler
	signin  *auth.Service
	probe   SystemProbe
	cache   CacheFlusher

	backupDir   string
	maintenance maintenanceState
}

// NewHandler creates a new HTTP handler
func NewHandler(store Store, alerts *alert.Engine, reports *report.Engine, sampler *alert.Sampler, signin *auth.Service, probe SystemProbe, cacheStore CacheFlusher, backupDir string) *Handler {
	return &Handler{
		store:     store,
		alerts:    alerts,
		reports:   reports,
		sampler:   sampler,
		signin:    signin,
		probe:     probe,
		cache:     cacheStore,
		backupDir: backupDir,
	}
}

// SetupRoutes configures API routes. Fixed paths are registered before their
// parameterized siblings so /alerts/statistics never matches /alerts/{id}.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/signin", h.SignIn).Methods("POST")

	admin := router.PathPrefix("/admin").Subrouter()

	// Alert rules
	admin.HandleFunc("/alerts/rules", h.ListAlertRules).Methods("GET")
	admin.HandleFunc("/alerts/rules", h.CreateAlertRule).Methods("POST")
	admin.HandleFunc("/alerts/rules/{id}", h.GetAlertRule).Methods("GET")
	admin.HandleFunc("/alerts/rules/{id}", h.UpdateAlertRule).Methods("PUT")
	admin.HandleFunc("/alerts/rules/{id}", h.DeleteAlertRule).Methods("DELETE")

	// Alerts
	admin.HandleFunc("/alerts/statistics", h.AlertStatistics).Methods("GET")
	admin.HandleFunc("/alerts/check", h.CheckAlerts).Methods("POST")
	admin.HandleFunc("/alerts", h.ListAlerts).Methods("GET")
	admin.HandleFunc("/alerts/{id}", h.GetAlert).Methods("GET")
	admin.HandleFunc("/alerts/{id}/acknowledge", h.AcknowledgeAlert).Methods("POST")
	admin.HandleFunc("/alerts/{id}/resolve", h.ResolveAlert).Methods("POST")
	admin.HandleFunc("/alerts/{id}/suppress", h.SuppressAlert).Methods("POST")
	admin.HandleFunc("/alerts/{id}/notifications", h.ListAlertNotifications).Methods("GET")

	// Report templates and schedules
	admin.HandleFunc("/reports/templates", h.ListReportTemplates).Methods("GET")
	admin.HandleFunc("/reports/templates", h.CreateReportTemplate).Methods("POST")
	admin.HandleFunc("/reports/templates/{id}", h.GetReportTemplate).Methods("GET")
	admin.HandleFunc("/reports/templates/{id}", h.UpdateReportTemplate).Methods("PUT")
	admin.HandleFunc("/reports/templates/{id}", h.DeleteReportTemplate).Methods("DELETE")
	admin.HandleFunc("/reports/templates/{id}/generate", h.GenerateReport).Methods("POST")
	admin.HandleFunc("/reports/scheduled", h.ListScheduledReports).Methods("GET")
	admin.HandleFunc("/reports/scheduled", h.CreateScheduledReport).Methods("POST")
	admin.HandleFunc("/reports/scheduled/{id}", h.GetScheduledReport).Methods("GET")
	admin.HandleFunc("/reports/scheduled/{id}", h.UpdateScheduledReport).Methods("PUT")
	admin.HandleFunc("/reports/scheduled/{id}", h.DeleteScheduledReport).Methods("DELETE")
	admin.HandleFunc("/reports/scheduled/{id}/execute", h.ExecuteScheduledReport).Methods("POST")
	admin.HandleFunc("/reports/statistics", h.ReportStatistics).Methods("GET")
	admin.HandleFunc("/reports/executions", h.ListReportExecutions).Methods("GET")
	admin.HandleFunc("/reports/executions/{id}", h.GetReportExecution).Methods("GET")
	admin.HandleFunc("/reports/executions/{id}/cancel", h.CancelReportExecution).Methods("POST")

	// Security audit
	admin.HandleFunc("/security/login-attempts", h.ListLoginAttempts).Methods("GET")
	admin.HandleFunc("/security/events", h.ListSecurityEvents).Methods("GET")
	admin.HandleFunc("/security/events/{id}", h.GetSecurityEvent).Methods("GET")
	admin.HandleFunc("/security/ip-blocks", h.ListIPBlocks).Methods("GET")
	admin.HandleFunc("/security/ip-blocks", h.CreateIPBlock).Methods("POST")
	admin.HandleFunc("/security/ip-blocks/{id}", h.RemoveIPBlock).Methods("DELETE")
	admin.HandleFunc("/security/rate-limits", h.ListRateLimitRules).Methods("GET")
	admin.HandleFunc("/security/rate-limits", h.CreateRateLimitRule).Methods("POST")

	// System
	admin.HandleFunc("/system/info", h.SystemInfo).Methods("GET")
	admin.HandleFunc("/system/health", h.SystemHealth).Methods("GET")
	admin.HandleFunc("/system/backup", h.SystemBackup).Methods("POST")
	admin.HandleFunc("/system/cache/clear", h.CacheClear).Methods("POST")
	admin.HandleFunc("/system/maintenance", h.MaintenanceStatus).Methods("GET")
	admin.HandleFunc("/system/maintenance", h.SetMaintenance).Methods("POST")
}

// parseLimit reads a ?limit= query parameter with a default and a hard cap.
func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > 1000 {
		return 1000
	}
	return n
}

// parseSince reads an RFC3339 ?since= query parameter.
func parseSince(r *http.Request) *time.Time {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
