package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/admincore/admincore/internal/models"
)

// ErrExecutionInFlight is returned when a schedule already has a non-terminal
// execution. The unique partial index is the enforcement.
var ErrExecutionInFlight = errors.New("schedule already has an execution in flight")

// CreateReportTemplate stores a template.
func (r *SQLiteRepository) CreateReportTemplate(ctx context.Context, t *models.ReportTemplate) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	query := `
		INSERT INTO report_templates (id, name, report_kind, format, query_config, template_config, default_filters, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Name, t.ReportKind, t.Format, t.QueryConfig, t.TemplateConfig, t.DefaultFilters, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetReportTemplate fetches one template.
func (r *SQLiteRepository) GetReportTemplate(ctx context.Context, id string) (*models.ReportTemplate, error) {
	var t models.ReportTemplate
	err := r.db.GetContext(ctx, &t, `SELECT * FROM report_templates WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

// ListReportTemplates returns all templates.
func (r *SQLiteRepository) ListReportTemplates(ctx context.Context) ([]*models.ReportTemplate, error) {
	var out []*models.ReportTemplate
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM report_templates ORDER BY name ASC`)
	return out, err
}

// UpdateReportTemplate rewrites a template.
func (r *SQLiteRepository) UpdateReportTemplate(ctx context.Context, t *models.ReportTemplate) error {
	t.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE report_templates
		SET name = ?, report_kind = ?, format = ?, query_config = ?, template_config = ?, default_filters = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.ReportKind, t.Format, t.QueryConfig, t.TemplateConfig, t.DefaultFilters, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReportTemplate removes a template.
func (r *SQLiteRepository) DeleteReportTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM report_templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateScheduledReport stores a schedule.
func (r *SQLiteRepository) CreateScheduledReport(ctx context.Context, s *models.ScheduledReport) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = models.ScheduleActive
	}
	if err := encodeChannels(&s.ChannelsRaw, s.Channels); err != nil {
		return err
	}
	query := `
		INSERT INTO scheduled_reports (id, template_id, name, recurrence, cron_expression, next_run, last_run, status, recipients, notification_channels, retention_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.TemplateID, s.Name, s.Recurrence, s.CronExpression, s.NextRun, s.LastRun,
		s.Status, s.Recipients, s.ChannelsRaw, s.RetentionDays, s.CreatedAt, s.UpdatedAt)
	return err
}

// GetScheduledReport fetches one schedule.
func (r *SQLiteRepository) GetScheduledReport(ctx context.Context, id string) (*models.ScheduledReport, error) {
	var s models.ScheduledReport
	err := r.db.GetContext(ctx, &s, `SELECT * FROM scheduled_reports WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeChannels(s.ChannelsRaw, &s.Channels); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListScheduledReports returns all schedules.
func (r *SQLiteRepository) ListScheduledReports(ctx context.Context) ([]*models.ScheduledReport, error) {
	var out []*models.ScheduledReport
	if err := r.db.SelectContext(ctx, &out, `SELECT * FROM scheduled_reports ORDER BY created_at ASC`); err != nil {
		return nil, err
	}
	for _, s := range out {
		if err := decodeChannels(s.ChannelsRaw, &s.Channels); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
	}
	return out, nil
}

// UpdateScheduledReport rewrites a schedule.
func (r *SQLiteRepository) UpdateScheduledReport(ctx context.Context, s *models.ScheduledReport) error {
	s.UpdatedAt = time.Now()
	if err := encodeChannels(&s.ChannelsRaw, s.Channels); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_reports
		SET template_id = ?, name = ?, recurrence = ?, cron_expression = ?, next_run = ?, last_run = ?,
		    status = ?, recipients = ?, notification_channels = ?, retention_days = ?, updated_at = ?
		WHERE id = ?`,
		s.TemplateID, s.Name, s.Recurrence, s.CronExpression, s.NextRun, s.LastRun,
		s.Status, s.Recipients, s.ChannelsRaw, s.RetentionDays, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteScheduledReport removes a schedule.
func (r *SQLiteRepository) DeleteScheduledReport(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_reports WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueSchedules returns active schedules with next_run at or before now.
func (r *SQLiteRepository) ListDueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduledReport, error) {
	var out []*models.ScheduledReport
	if err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM scheduled_reports WHERE status = 'active' AND next_run <= ? ORDER BY next_run ASC`, now); err != nil {
		return nil, err
	}
	for _, s := range out {
		if err := decodeChannels(s.ChannelsRaw, &s.Channels); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
	}
	return out, nil
}

// AdvanceSchedule records a completed or failed run: last_run is set and
// next_run advanced.
func (r *SQLiteRepository) AdvanceSchedule(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_reports SET last_run = ?, next_run = ?, updated_at = ? WHERE id = ?`,
		lastRun, nextRun, time.Now(), id)
	return err
}

// CreateReportExecution inserts a pending execution. For schedule-bound
// executions the unique partial index rejects a second non-terminal row, which
// is surfaced as ErrExecutionInFlight — this is the per-schedule lease.
func (r *SQLiteRepository) CreateReportExecution(ctx context.Context, e *models.ReportExecution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = models.ExecutionPending
	}
	query := `
		INSERT INTO report_executions (id, schedule_id, template_id, status, started_at, ended_at, duration_ms, file_path, file_size, record_count, error_message, parameters, execution_log, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.ScheduleID, e.TemplateID, e.Status, e.StartedAt, e.EndedAt, e.DurationMs,
		e.FilePath, e.FileSize, e.RecordCount, e.ErrorMsg, e.Parameters, e.Log, e.CreatedAt, e.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrExecutionInFlight
	}
	return err
}

// GetReportExecution fetches one execution.
func (r *SQLiteRepository) GetReportExecution(ctx context.Context, id string) (*models.ReportExecution, error) {
	var e models.ReportExecution
	err := r.db.GetContext(ctx, &e, `SELECT * FROM report_executions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

// ListReportExecutions returns executions newest-first, optionally per schedule.
func (r *SQLiteRepository) ListReportExecutions(ctx context.Context, scheduleID string, limit int) ([]*models.ReportExecution, error) {
	query := `SELECT * FROM report_executions WHERE 1=1`
	args := []interface{}{}
	if scheduleID != "" {
		query += " AND schedule_id = ?"
		args = append(args, scheduleID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	var out []*models.ReportExecution
	err := r.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// TransitionReportExecution applies one lifecycle step inside a transaction.
// The update function mutates the row (end time, file metadata, error message)
// after the transition check passes.
func (r *SQLiteRepository) TransitionReportExecution(ctx context.Context, id string, next models.ReportExecutionStatus, update func(*models.ReportExecution)) (*models.ReportExecution, error) {
	var out models.ReportExecution
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var e models.ReportExecution
		if err := tx.GetContext(ctx, &e, `SELECT * FROM report_executions WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !e.Status.CanAdvance(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
		}
		e.Status = next
		if update != nil {
			update(&e)
		}
		e.UpdatedAt = time.Now()
		_, err := tx.ExecContext(ctx, `
			UPDATE report_executions
			SET status = ?, started_at = ?, ended_at = ?, duration_ms = ?, file_path = ?, file_size = ?,
			    record_count = ?, error_message = ?, parameters = ?, execution_log = ?, updated_at = ?
			WHERE id = ?`,
			e.Status, e.StartedAt, e.EndedAt, e.DurationMs, e.FilePath, e.FileSize,
			e.RecordCount, e.ErrorMsg, e.Parameters, e.Log, e.UpdatedAt, e.ID)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExpiredExecutions returns completed executions for a schedule older than
// cutoff, for the retention sweeper.
func (r *SQLiteRepository) ListExpiredExecutions(ctx context.Context, scheduleID string, cutoff time.Time) ([]*models.ReportExecution, error) {
	var out []*models.ReportExecution
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM report_executions
		WHERE schedule_id = ? AND created_at < ? AND status IN ('completed', 'failed', 'cancelled')`,
		scheduleID, cutoff)
	return out, err
}

// DeleteReportExecution removes one execution row.
func (r *SQLiteRepository) DeleteReportExecution(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM report_executions WHERE id = ?`, id)
	return err
}

// ReportStatistics aggregates execution counts for /reports/statistics.
type ReportStatistics struct {
	ByStatus     map[string]int `json:"by_status"`
	Last24h      int            `json:"last_24h"`
	TotalBytes   int64          `json:"total_bytes"`
	TotalRecords int64          `json:"total_records"`
}

// GetReportStatistics computes execution aggregates.
func (r *SQLiteRepository) GetReportStatistics(ctx context.Context, now time.Time) (*ReportStatistics, error) {
	stats := &ReportStatistics{ByStatus: map[string]int{}}
	type bucket struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}
	var rows []bucket
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT status AS key, COUNT(*) AS count FROM report_executions GROUP BY status`); err != nil {
		return nil, err
	}
	for _, b := range rows {
		stats.ByStatus[b.Key] = b.Count
	}
	if err := r.db.GetContext(ctx, &stats.Last24h,
		`SELECT COUNT(*) FROM report_executions WHERE created_at >= ?`, now.Add(-24*time.Hour)); err != nil {
		return nil, err
	}
	if err := r.db.GetContext(ctx, &stats.TotalBytes,
		`SELECT COALESCE(SUM(file_size), 0) FROM report_executions WHERE status = 'completed'`); err != nil {
		return nil, err
	}
	if err := r.db.GetContext(ctx, &stats.TotalRecords,
		`SELECT COALESCE(SUM(record_count), 0) FROM report_executions WHERE status = 'completed'`); err != nil {
		return nil, err
	}
	return stats, nil
}
