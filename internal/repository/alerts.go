package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/admincore/admincore/internal/models"
)

// CreateAlertRule stores a new alert rule.
func (r *SQLiteRepository) CreateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if rule.Status == "" {
		rule.Status = models.AlertRuleActive
	}
	if err := encodeChannels(&rule.ChannelsRaw, rule.Channels); err != nil {
		return err
	}
	query := `
		INSERT INTO alert_rules (id, name, alert_kind, severity, status, threshold_value, comparison, check_interval, cooldown_period, max_alerts_per_hour, notification_channels, escalation_rules, custom_source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.AlertKind, rule.Severity, rule.Status,
		rule.ThresholdValue, rule.Comparison, rule.CheckIntervalSec, rule.CooldownSec, rule.MaxAlertsPerHour,
		rule.ChannelsRaw, rule.EscalationRules, rule.CustomSource, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// UpdateAlertRule rewrites a rule.
func (r *SQLiteRepository) UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	rule.UpdatedAt = time.Now()
	if err := encodeChannels(&rule.ChannelsRaw, rule.Channels); err != nil {
		return err
	}
	query := `
		UPDATE alert_rules
		SET name = ?, alert_kind = ?, severity = ?, status = ?, threshold_value = ?, comparison = ?,
		    check_interval = ?, cooldown_period = ?, max_alerts_per_hour = ?, notification_channels = ?,
		    escalation_rules = ?, custom_source = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.AlertKind, rule.Severity, rule.Status, rule.ThresholdValue, rule.Comparison,
		rule.CheckIntervalSec, rule.CooldownSec, rule.MaxAlertsPerHour, rule.ChannelsRaw,
		rule.EscalationRules, rule.CustomSource, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAlertRule fetches one rule.
func (r *SQLiteRepository) GetAlertRule(ctx context.Context, id string) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := r.db.GetContext(ctx, &rule, `SELECT * FROM alert_rules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeChannels(rule.ChannelsRaw, &rule.Channels); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListAlertRules returns rules, optionally only active ones.
func (r *SQLiteRepository) ListAlertRules(ctx context.Context, onlyActive bool) ([]*models.AlertRule, error) {
	query := `SELECT * FROM alert_rules`
	if onlyActive {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY created_at ASC`
	var rules []*models.AlertRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if err := decodeChannels(rule.ChannelsRaw, &rule.Channels); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}
	return rules, nil
}

// DeleteAlertRule removes a rule.
func (r *SQLiteRepository) DeleteAlertRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSystemAlert stores one firing.
func (r *SQLiteRepository) CreateSystemAlert(ctx context.Context, a *models.SystemAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = models.AlertTriggered
	}
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = now
	}
	query := `
		INSERT INTO system_alerts (id, rule_id, title, message, status, current_value, threshold_value, severity, triggered_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.RuleID, a.Title, a.Message, a.Status, a.CurrentValue, a.ThresholdValue, a.Severity,
		a.TriggeredAt, a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt, a.ResolvedBy, a.Context,
		a.CreatedAt, a.UpdatedAt)
	return err
}

// GetSystemAlert fetches one alert.
func (r *SQLiteRepository) GetSystemAlert(ctx context.Context, id string) (*models.SystemAlert, error) {
	var a models.SystemAlert
	err := r.db.GetContext(ctx, &a, `SELECT * FROM system_alerts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

// ListSystemAlerts returns alerts newest first with optional status filter.
func (r *SQLiteRepository) ListSystemAlerts(ctx context.Context, status *models.SystemAlertStatus, ruleID string, limit int) ([]*models.SystemAlert, error) {
	query := `SELECT * FROM system_alerts WHERE 1=1`
	args := []interface{}{}
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	if ruleID != "" {
		query += " AND rule_id = ?"
		args = append(args, ruleID)
	}
	query += " ORDER BY triggered_at DESC LIMIT ?"
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	var alerts []*models.SystemAlert
	err := r.db.SelectContext(ctx, &alerts, query, args...)
	return alerts, err
}

// LatestUnresolvedAlert returns the newest triggered-or-acknowledged alert for
// a rule, or (nil, nil). Drives the cooldown check.
func (r *SQLiteRepository) LatestUnresolvedAlert(ctx context.Context, ruleID string) (*models.SystemAlert, error) {
	var a models.SystemAlert
	err := r.db.GetContext(ctx, &a, `
		SELECT * FROM system_alerts
		WHERE rule_id = ? AND status IN ('triggered', 'acknowledged')
		ORDER BY triggered_at DESC LIMIT 1`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &a, err
}

// CountAlertsSince counts alerts for a rule triggered at or after since.
// Drives the hourly cap.
func (r *SQLiteRepository) CountAlertsSince(ctx context.Context, ruleID string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM system_alerts WHERE rule_id = ? AND triggered_at >= ?`, ruleID, since)
	return n, err
}

// TransitionSystemAlert moves an alert to next inside a single transaction,
// recording actor and time for acknowledge/resolve. Violating the lifecycle
// graph returns ErrInvalidTransition and aborts.
func (r *SQLiteRepository) TransitionSystemAlert(ctx context.Context, id string, next models.SystemAlertStatus, actor string, at time.Time) (*models.SystemAlert, error) {
	var out models.SystemAlert
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var a models.SystemAlert
		if err := tx.GetContext(ctx, &a, `SELECT * FROM system_alerts WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !a.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
		}
		a.Status = next
		a.UpdatedAt = at
		switch next {
		case models.AlertAcknowledged:
			a.AcknowledgedAt = &at
			a.AcknowledgedBy = &actor
		case models.AlertResolved:
			a.ResolvedAt = &at
			a.ResolvedBy = &actor
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE system_alerts
			SET status = ?, acknowledged_at = ?, acknowledged_by = ?, resolved_at = ?, resolved_by = ?, updated_at = ?
			WHERE id = ?`,
			a.Status, a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt, a.ResolvedBy, a.UpdatedAt, a.ID)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AlertStatistics aggregates counts by severity, by kind, and rolling totals.
type AlertStatistics struct {
	BySeverity map[string]int `json:"by_severity"`
	ByKind     map[string]int `json:"by_type"`
	Last24h    int            `json:"last_24h"`
	Last7d     int            `json:"last_7d"`
	Active     int            `json:"active"`
}

// GetAlertStatistics computes the /alerts/statistics payload.
func (r *SQLiteRepository) GetAlertStatistics(ctx context.Context, now time.Time) (*AlertStatistics, error) {
	stats := &AlertStatistics{
		BySeverity: map[string]int{},
		ByKind:     map[string]int{},
	}
	type bucket struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}
	var rows []bucket
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT severity AS key, COUNT(*) AS count FROM system_alerts GROUP BY severity`); err != nil {
		return nil, err
	}
	for _, b := range rows {
		stats.BySeverity[b.Key] = b.Count
	}
	rows = rows[:0]
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT r.alert_kind AS key, COUNT(*) AS count
		FROM system_alerts a JOIN alert_rules r ON r.id = a.rule_id
		GROUP BY r.alert_kind`); err != nil {
		return nil, err
	}
	for _, b := range rows {
		stats.ByKind[b.Key] = b.Count
	}
	if err := r.db.GetContext(ctx, &stats.Last24h,
		`SELECT COUNT(*) FROM system_alerts WHERE triggered_at >= ?`, now.Add(-24*time.Hour)); err != nil {
		return nil, err
	}
	if err := r.db.GetContext(ctx, &stats.Last7d,
		`SELECT COUNT(*) FROM system_alerts WHERE triggered_at >= ?`, now.Add(-7*24*time.Hour)); err != nil {
		return nil, err
	}
	if err := r.db.GetContext(ctx, &stats.Active,
		`SELECT COUNT(*) FROM system_alerts WHERE status IN ('triggered', 'acknowledged')`); err != nil {
		return nil, err
	}
	return stats, nil
}

// CreateAlertNotification stores one pending delivery row.
func (r *SQLiteRepository) CreateAlertNotification(ctx context.Context, n *models.AlertNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = models.NotifyPending
	}
	query := `
		INSERT INTO alert_notifications (id, alert_id, channel, recipient, status, subject, message, sent_at, delivered_at, error_message, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.AlertID, n.Channel, n.Recipient, n.Status, n.Subject, n.Message,
		n.SentAt, n.DeliveredAt, n.ErrorMsg, n.RetryCount, n.CreatedAt, n.UpdatedAt)
	return err
}

// UpdateAlertNotificationStatus records a delivery outcome.
func (r *SQLiteRepository) UpdateAlertNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, sentAt *time.Time, errMsg string, retryCount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alert_notifications
		SET status = ?, sent_at = COALESCE(?, sent_at), error_message = ?, retry_count = ?, updated_at = ?
		WHERE id = ?`,
		status, sentAt, errMsg, retryCount, time.Now(), id)
	return err
}

// ListAlertNotifications returns the delivery rows for one alert.
func (r *SQLiteRepository) ListAlertNotifications(ctx context.Context, alertID string) ([]*models.AlertNotification, error) {
	var out []*models.AlertNotification
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM alert_notifications WHERE alert_id = ? ORDER BY created_at ASC`, alertID)
	return out, err
}

func encodeChannels(raw *string, channels []models.NotificationChannel) error {
	if channels == nil {
		channels = []models.NotificationChannel{}
	}
	b, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	*raw = string(b)
	return nil
}

func decodeChannels(raw string, channels *[]models.NotificationChannel) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), channels); err != nil {
		return fmt.Errorf("decode channels: %w", err)
	}
	return nil
}
