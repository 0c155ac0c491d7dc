package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/admincore/admincore/internal/hostprobe"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

// SourceStore is the query surface the data sources read from.
type SourceStore interface {
	ListUsers(ctx context.Context, f repository.UserFilters) ([]*models.User, error)
	ListAuditLogs(ctx context.Context, since, until *time.Time, limit int) ([]*models.AuditLogEntry, error)
	ListAppLogs(ctx context.Context, levels []models.LogLevel, since, until *time.Time, limit int) ([]*models.AppLog, error)
	ListLoginAttempts(ctx context.Context, email, ip string, since, until *time.Time, limit int) ([]*models.LoginAttempt, error)
	ListSecurityEvents(ctx context.Context, kind *models.SecurityEventKind, severity *models.Severity, ip string, since *time.Time, limit int) ([]*models.SecurityEvent, error)
	ListIPBlocks(ctx context.Context, status *models.IPBlockStatus, limit int) ([]*models.IPBlock, error)
	APIUsageSummary(ctx context.Context, since time.Time) ([]repository.APIUsageRow, error)
}

// MetricsProbe supplies the performance and system snapshots.
type MetricsProbe interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
	DiskPercent() (float64, error)
	Info() hostprobe.SystemInfo
}

// SourceFunc produces the dataset for a custom report kind.
type SourceFunc func(ctx context.Context, tmpl *models.ReportTemplate, f Filters, now time.Time) (*Dataset, error)

// Filters are the template-level query filters. Absent fields keep their
// defaults: a 24h window ending now, no is_active restriction.
type Filters struct {
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	IsActive *bool      `json:"is_active,omitempty"`
}

func parseFilters(raw string) (Filters, error) {
	var f Filters
	if raw == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return f, fmt.Errorf("parse filters: %w", err)
	}
	return f, nil
}

// window resolves the effective time window of the filters.
func (f Filters) window(now time.Time) (since, until time.Time) {
	since = now.Add(-24 * time.Hour)
	until = now
	if f.DateFrom != nil {
		since = *f.DateFrom
	}
	if f.DateTo != nil {
		until = *f.DateTo
	}
	return since, until
}

const sourceRowLimit = 10_000

// Sources routes a report kind to its data-source function.
type Sources struct {
	store SourceStore
	probe MetricsProbe

	mu     sync.RWMutex
	custom map[models.ReportKind]SourceFunc
}

// NewSources builds the source router.
func NewSources(store SourceStore, probe MetricsProbe) *Sources {
	return &Sources{
		store:  store,
		probe:  probe,
		custom: make(map[models.ReportKind]SourceFunc),
	}
}

// RegisterCustom installs the handler for a custom report kind.
func (s *Sources) RegisterCustom(kind models.ReportKind, fn SourceFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[kind] = fn
}

// Collect runs the template's query plan and returns the dataset.
func (s *Sources) Collect(ctx context.Context, tmpl *models.ReportTemplate, now time.Time) (*Dataset, error) {
	filters, err := parseFilters(tmpl.DefaultFilters)
	if err != nil {
		return nil, err
	}
	switch tmpl.ReportKind {
	case models.ReportUsers:
		return s.users(ctx, filters)
	case models.ReportActivity:
		return s.activity(ctx, filters, now)
	case models.ReportSecurity:
		return s.security(ctx, filters, now)
	case models.ReportPerformance:
		return s.performance(now)
	case models.ReportSystem:
		return s.system(now)
	case models.ReportErrors:
		return s.errorLogs(ctx, filters, now)
	case models.ReportAPIUsage:
		return s.apiUsage(ctx, filters, now)
	default:
		s.mu.RLock()
		fn := s.custom[tmpl.ReportKind]
		s.mu.RUnlock()
		if fn != nil {
			return fn(ctx, tmpl, filters, now)
		}
		return nil, fmt.Errorf("unknown report kind")
	}
}

func (s *Sources) users(ctx context.Context, f Filters) (*Dataset, error) {
	users, err := s.store.ListUsers(ctx, repository.UserFilters{
		DateFrom: f.DateFrom,
		DateTo:   f.DateTo,
		IsActive: f.IsActive,
	})
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(users))
	for _, u := range users {
		records = append(records, NewRecord().
			Set("id", u.ID).
			Set("email", u.Email).
			Set("first_name", u.FirstName).
			Set("last_name", u.LastName).
			Set("is_active", u.IsActive).
			Set("is_staff", u.IsStaff).
			Set("date_joined", u.JoinedAt).
			Set("last_login", u.LastLoginAt).
			Set("has_profile", u.FirstName != "" || u.LastName != ""))
	}
	return Tabular(records), nil
}

func (s *Sources) activity(ctx context.Context, f Filters, now time.Time) (*Dataset, error) {
	since, until := f.window(now)
	actions, err := s.store.ListAuditLogs(ctx, &since, &until, sourceRowLimit)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListAppLogs(ctx, nil, &since, &until, sourceRowLimit)
	if err != nil {
		return nil, err
	}
	actionRecords := make([]*Record, 0, len(actions))
	for _, a := range actions {
		actionRecords = append(actionRecords, NewRecord().
			Set("id", a.ID).
			Set("username", a.Username).
			Set("action", a.Action).
			Set("target_kind", a.TargetKind).
			Set("target_id", a.TargetID).
			Set("ip_address", a.IPAddress).
			Set("timestamp", a.Timestamp))
	}
	logRecords := make([]*Record, 0, len(logs))
	for _, l := range logs {
		logRecords = append(logRecords, appLogRecord(l))
	}
	return &Dataset{Sections: []Section{
		{Name: "admin_actions", Records: actionRecords},
		{Name: "admin_logs", Records: logRecords},
	}}, nil
}

func (s *Sources) security(ctx context.Context, f Filters, now time.Time) (*Dataset, error) {
	since, until := f.window(now)
	attempts, err := s.store.ListLoginAttempts(ctx, "", "", &since, &until, sourceRowLimit)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListSecurityEvents(ctx, nil, nil, "", &since, sourceRowLimit)
	if err != nil {
		return nil, err
	}
	blocks, err := s.store.ListIPBlocks(ctx, nil, sourceRowLimit)
	if err != nil {
		return nil, err
	}

	attemptRecords := make([]*Record, 0, len(attempts))
	for _, a := range attempts {
		attemptRecords = append(attemptRecords, NewRecord().
			Set("id", a.ID).
			Set("email", a.Email).
			Set("status", string(a.Status)).
			Set("ip_address", a.IPAddress).
			Set("country", a.Country).
			Set("city", a.City).
			Set("failure_reason", a.FailureReason).
			Set("attempted_at", a.CreatedAt))
	}
	eventRecords := make([]*Record, 0, len(events))
	for _, e := range events {
		eventRecords = append(eventRecords, NewRecord().
			Set("id", e.ID).
			Set("event_kind", string(e.EventKind)).
			Set("severity", string(e.Severity)).
			Set("title", e.Title).
			Set("ip_address", e.IPAddress).
			Set("created_at", e.CreatedAt))
	}
	blockRecords := make([]*Record, 0, len(blocks))
	for _, b := range blocks {
		blockRecords = append(blockRecords, NewRecord().
			Set("id", b.ID).
			Set("ip_address", b.IPAddress).
			Set("block_kind", string(b.BlockKind)).
			Set("reason", b.Reason).
			Set("status", string(b.Status)).
			Set("blocked_at", b.BlockedAt).
			Set("expires_at", b.ExpiresAt))
	}
	return &Dataset{Sections: []Section{
		{Name: "login_attempts", Records: attemptRecords},
		{Name: "security_events", Records: eventRecords},
		{Name: "ip_blocks", Records: blockRecords},
	}}, nil
}

func (s *Sources) performance(now time.Time) (*Dataset, error) {
	cpu, err := s.probe.CPUPercent()
	if err != nil {
		return nil, err
	}
	mem, err := s.probe.MemoryPercent()
	if err != nil {
		return nil, err
	}
	disk, err := s.probe.DiskPercent()
	if err != nil {
		return nil, err
	}
	return Tabular([]*Record{NewRecord().
		Set("cpu_percent", cpu).
		Set("memory_percent", mem).
		Set("disk_percent", disk).
		Set("timestamp", now),
	}), nil
}

func (s *Sources) system(now time.Time) (*Dataset, error) {
	info := s.probe.Info()
	return Tabular([]*Record{NewRecord().
		Set("hostname", info.Hostname).
		Set("os", info.OS).
		Set("architecture", info.Architecture).
		Set("num_cpu", info.NumCPU).
		Set("go_version", info.GoVersion).
		Set("pid", info.PID).
		Set("timestamp", now),
	}), nil
}

func (s *Sources) errorLogs(ctx context.Context, f Filters, now time.Time) (*Dataset, error) {
	since, until := f.window(now)
	logs, err := s.store.ListAppLogs(ctx, []models.LogLevel{models.LogError, models.LogCritical}, &since, &until, sourceRowLimit)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(logs))
	for _, l := range logs {
		records = append(records, appLogRecord(l))
	}
	return Tabular(records), nil
}

func (s *Sources) apiUsage(ctx context.Context, f Filters, now time.Time) (*Dataset, error) {
	since, _ := f.window(now)
	rows, err := s.store.APIUsageSummary(ctx, since)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, NewRecord().
			Set("endpoint_id", row.EndpointID).
			Set("requests", row.Requests).
			Set("limited", row.Limited))
	}
	return Tabular(records), nil
}

func appLogRecord(l *models.AppLog) *Record {
	return NewRecord().
		Set("id", l.ID).
		Set("level", string(l.Level)).
		Set("message", l.Message).
		Set("source", l.Source).
		Set("created_at", l.CreatedAt)
}
