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

// CreateLoginAttempt appends a login attempt row.
func (r *SQLiteRepository) CreateLoginAttempt(ctx context.Context, a *models.LoginAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO login_attempts (id, email, user_id, status, ip_address, user_agent, country, city, failure_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Email, a.UserID, a.Status, a.IPAddress, a.UserAgent, a.Country, a.City, a.FailureReason, a.CreatedAt)
	return err
}

// ListLoginAttempts returns attempts filtered by optional email, IP and time window,
// newest first.
func (r *SQLiteRepository) ListLoginAttempts(ctx context.Context, email, ip string, since, until *time.Time, limit int) ([]*models.LoginAttempt, error) {
	query := `SELECT * FROM login_attempts WHERE 1=1`
	args := []interface{}{}
	if email != "" {
		query += " AND email = ?"
		args = append(args, email)
	}
	if ip != "" {
		query += " AND ip_address = ?"
		args = append(args, ip)
	}
	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, *since)
	}
	if until != nil {
		query += " AND created_at <= ?"
		args = append(args, *until)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	var attempts []*models.LoginAttempt
	err := r.db.SelectContext(ctx, &attempts, query, args...)
	return attempts, err
}

// CountFailedAttempts counts failed attempts from ip (and optionally for email)
// since the window start. Used by the auto-block side effect.
func (r *SQLiteRepository) CountFailedAttempts(ctx context.Context, ip, email string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM login_attempts WHERE ip_address = ? AND status IN ('failed', 'blocked') AND created_at >= ?`
	args := []interface{}{ip, since}
	if email != "" {
		query += " AND email = ?"
		args = append(args, email)
	}
	var n int
	err := r.db.GetContext(ctx, &n, query, args...)
	return n, err
}

// CreateSecurityEvent appends a security event, filling defaulted fields.
func (r *SQLiteRepository) CreateSecurityEvent(ctx context.Context, e *models.SecurityEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Severity == "" {
		e.Severity = models.DefaultSeverity(e.EventKind)
	} else {
		e.Severity = models.MaxSeverity(e.Severity, models.DefaultSeverity(e.EventKind))
	}
	if e.Status == "" {
		e.Status = models.EventStatusProcessing
	}
	query := `
		INSERT INTO security_events (id, event_kind, severity, title, description, ip_address, user_id, user_agent, country, city, metadata, status, actions_taken, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.EventKind, e.Severity, e.Title, e.Description, e.IPAddress, e.UserID,
		e.UserAgent, e.Country, e.City, e.Metadata, e.Status, e.ActionsTaken, e.CreatedAt)
	return err
}

// ListSecurityEvents filters by optional kind, severity, IP and window, newest first.
func (r *SQLiteRepository) ListSecurityEvents(ctx context.Context, kind *models.SecurityEventKind, severity *models.Severity, ip string, since *time.Time, limit int) ([]*models.SecurityEvent, error) {
	query := `SELECT * FROM security_events WHERE 1=1`
	args := []interface{}{}
	if kind != nil {
		query += " AND event_kind = ?"
		args = append(args, *kind)
	}
	if severity != nil {
		query += " AND severity = ?"
		args = append(args, *severity)
	}
	if ip != "" {
		query += " AND ip_address = ?"
		args = append(args, ip)
	}
	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, *since)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	var events []*models.SecurityEvent
	err := r.db.SelectContext(ctx, &events, query, args...)
	return events, err
}

// GetSecurityEvent returns one event by id.
func (r *SQLiteRepository) GetSecurityEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	err := r.db.GetContext(ctx, &e, `SELECT * FROM security_events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

// CountSecurityEvents counts events created since the given time.
func (r *SQLiteRepository) CountSecurityEvents(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM security_events WHERE created_at >= ?`, since)
	return n, err
}

// CreateIPBlock inserts a new block. Returns ErrAlreadyBlocked when an active
// block for the IP exists (unique partial index).
var ErrAlreadyBlocked = errors.New("ip already blocked")

func (r *SQLiteRepository) CreateIPBlock(ctx context.Context, b *models.IPBlock) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.BlockedAt.IsZero() {
		b.BlockedAt = now
	}
	if b.Status == "" {
		b.Status = models.BlockActive
	}
	if b.DurationMinutes != nil && b.ExpiresAt == nil {
		exp := b.BlockedAt.Add(time.Duration(*b.DurationMinutes) * time.Minute)
		b.ExpiresAt = &exp
	}
	query := `
		INSERT INTO ip_blocks (id, ip_address, block_kind, reason, duration_minutes, blocked_at, expires_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.IPAddress, b.BlockKind, b.Reason, b.DurationMinutes, b.BlockedAt, b.ExpiresAt, b.Status, b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyBlocked
	}
	return err
}

// ActiveIPBlock returns the active block for ip, expiring a stale temporary
// block as a side effect. Returns (nil, nil) when the IP is not blocked.
func (r *SQLiteRepository) ActiveIPBlock(ctx context.Context, ip string, now time.Time) (*models.IPBlock, error) {
	var b models.IPBlock
	err := r.db.GetContext(ctx, &b, `SELECT * FROM ip_blocks WHERE ip_address = ? AND status = 'active'`, ip)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b.Expired(now) {
		if err := r.expireIPBlock(ctx, b.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &b, nil
}

// expireIPBlock transitions a stale block to expired inside one transaction.
func (r *SQLiteRepository) expireIPBlock(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ip_blocks SET status = 'expired', updated_at = ? WHERE id = ? AND status = 'active'`,
			time.Now(), id)
		if err != nil {
			return err
		}
		// A concurrent expiry already won; nothing to do.
		_, _ = res.RowsAffected()
		return nil
	})
}

// RemoveIPBlock manually lifts an active block.
func (r *SQLiteRepository) RemoveIPBlock(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ip_blocks SET status = 'manually_removed', updated_at = ? WHERE id = ? AND status = 'active'`,
			time.Now(), id)
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
	})
}

// ListIPBlocks returns blocks newest first, optionally filtered by status.
func (r *SQLiteRepository) ListIPBlocks(ctx context.Context, status *models.IPBlockStatus, limit int) ([]*models.IPBlock, error) {
	query := `SELECT * FROM ip_blocks WHERE 1=1`
	args := []interface{}{}
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	var blocks []*models.IPBlock
	err := r.db.SelectContext(ctx, &blocks, query, args...)
	return blocks, err
}

// GetUserSecurity returns the security profile for userID, or ErrNotFound.
func (r *SQLiteRepository) GetUserSecurity(ctx context.Context, userID string) (*models.UserSecurity, error) {
	var u models.UserSecurity
	err := r.db.GetContext(ctx, &u, `SELECT * FROM user_security WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeUserSecurity(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveUserSecurity inserts or rewrites the whole profile (last writer wins for
// the advisory lists).
func (r *SQLiteRepository) SaveUserSecurity(ctx context.Context, u *models.UserSecurity) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Status == "" {
		u.Status = models.UserSecurityActive
	}
	if err := encodeUserSecurity(u); err != nil {
		return err
	}
	query := `
		INSERT INTO user_security (id, user_id, status, failed_login_count, last_failed_login, last_successful_login,
			last_login_ip, last_login_country, last_login_city, recent_ips, known_devices,
			require_2fa, allow_concurrent_sessions, max_concurrent_sessions,
			notify_email, notify_sms, notify_push,
			allowed_countries, denied_countries, allowed_weekdays, allowed_hours_start, allowed_hours_end,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			status = excluded.status,
			failed_login_count = excluded.failed_login_count,
			last_failed_login = excluded.last_failed_login,
			last_successful_login = excluded.last_successful_login,
			last_login_ip = excluded.last_login_ip,
			last_login_country = excluded.last_login_country,
			last_login_city = excluded.last_login_city,
			recent_ips = excluded.recent_ips,
			known_devices = excluded.known_devices,
			require_2fa = excluded.require_2fa,
			allow_concurrent_sessions = excluded.allow_concurrent_sessions,
			max_concurrent_sessions = excluded.max_concurrent_sessions,
			notify_email = excluded.notify_email,
			notify_sms = excluded.notify_sms,
			notify_push = excluded.notify_push,
			allowed_countries = excluded.allowed_countries,
			denied_countries = excluded.denied_countries,
			allowed_weekdays = excluded.allowed_weekdays,
			allowed_hours_start = excluded.allowed_hours_start,
			allowed_hours_end = excluded.allowed_hours_end,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.UserID, u.Status, u.FailedLoginCount, u.LastFailedLogin, u.LastSuccessfulLogin,
		u.LastLoginIP, u.LastLoginCountry, u.LastLoginCity, u.RecentIPsRaw, u.KnownDevicesRaw,
		u.RequireTwoFactor, u.AllowConcurrent, u.MaxConcurrent,
		u.NotifyEmail, u.NotifySMS, u.NotifyPush,
		u.AllowedCountries, u.DeniedCountries, u.AllowedWeekdays, u.AllowedHoursStart, u.AllowedHoursEnd,
		u.CreatedAt, u.UpdatedAt)
	return err
}

func encodeUserSecurity(u *models.UserSecurity) error {
	ips, err := json.Marshal(u.RecentIPs)
	if err != nil {
		return fmt.Errorf("encode recent ips: %w", err)
	}
	devices, err := json.Marshal(u.KnownDevices)
	if err != nil {
		return fmt.Errorf("encode known devices: %w", err)
	}
	u.RecentIPsRaw = string(ips)
	u.KnownDevicesRaw = string(devices)
	return nil
}

func decodeUserSecurity(u *models.UserSecurity) error {
	if u.RecentIPsRaw != "" {
		if err := json.Unmarshal([]byte(u.RecentIPsRaw), &u.RecentIPs); err != nil {
			return fmt.Errorf("decode recent ips: %w", err)
		}
	}
	if u.KnownDevicesRaw != "" {
		if err := json.Unmarshal([]byte(u.KnownDevicesRaw), &u.KnownDevices); err != nil {
			return fmt.Errorf("decode known devices: %w", err)
		}
	}
	return nil
}

// CreateSecurityRule stores a declarative rule.
func (r *SQLiteRepository) CreateSecurityRule(ctx context.Context, rule *models.SecurityRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	cond, err := json.Marshal(rule.Condition)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return err
	}
	rule.ConditionRaw = string(cond)
	rule.ActionsRaw = string(actions)
	query := `
		INSERT INTO security_rules (id, name, rule_kind, condition, actions, priority, status, trigger_count, last_triggered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.RuleKind, rule.ConditionRaw, rule.ActionsRaw,
		rule.Priority, rule.Status, rule.TriggerCount, rule.LastTriggered, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// ListSecurityRules returns rules in priority order (higher first).
func (r *SQLiteRepository) ListSecurityRules(ctx context.Context, onlyActive bool) ([]*models.SecurityRule, error) {
	query := `SELECT * FROM security_rules`
	if onlyActive {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY priority DESC, created_at ASC`
	var rules []*models.SecurityRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if rule.ConditionRaw != "" {
			if err := json.Unmarshal([]byte(rule.ConditionRaw), &rule.Condition); err != nil {
				return nil, fmt.Errorf("decode rule %s condition: %w", rule.ID, err)
			}
		}
		if rule.ActionsRaw != "" {
			if err := json.Unmarshal([]byte(rule.ActionsRaw), &rule.Actions); err != nil {
				return nil, fmt.Errorf("decode rule %s actions: %w", rule.ID, err)
			}
		}
	}
	return rules, nil
}

// RecordSecurityRuleTrigger bumps the trigger counter and timestamp.
func (r *SQLiteRepository) RecordSecurityRuleTrigger(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE security_rules SET trigger_count = trigger_count + 1, last_triggered = ?, updated_at = ? WHERE id = ?`,
		at, at, id)
	return err
}

// CreateRateLimitRule stores an APIRateLimit rule.
func (r *SQLiteRepository) CreateRateLimitRule(ctx context.Context, rule *models.APIRateLimit) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	query := `
		INSERT INTO api_rate_limits (id, name, scope, target, requests_per_minute, requests_per_hour, requests_per_day, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Scope, rule.Target,
		rule.RequestsPerMinute, rule.RequestsPerHour, rule.RequestsPerDay, rule.Active,
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

// ListActiveRateLimitRules returns the active rules.
func (r *SQLiteRepository) ListActiveRateLimitRules(ctx context.Context) ([]*models.APIRateLimit, error) {
	var rules []*models.APIRateLimit
	err := r.db.SelectContext(ctx, &rules, `SELECT * FROM api_rate_limits WHERE active = 1 ORDER BY created_at ASC`)
	return rules, err
}

// UpsertRateLimitUsage persists an audit copy of a windowed counter. Not on
// the admission critical path; callers run it asynchronously.
func (r *SQLiteRepository) UpsertRateLimitUsage(ctx context.Context, u *models.RateLimitUsage) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	query := `
		INSERT INTO rate_limit_usage (id, rule_id, user_id, ip_address, endpoint_id, api_key, window_start, window_end, request_count, is_limited, limit_reached_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, user_id, ip_address, endpoint_id, api_key, window_start) DO UPDATE SET
			request_count = excluded.request_count,
			is_limited = is_limited OR excluded.is_limited,
			limit_reached_at = COALESCE(limit_reached_at, excluded.limit_reached_at),
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.RuleID, u.UserID, u.IPAddress, u.EndpointID, u.APIKey,
		u.WindowStart, u.WindowEnd, u.RequestCount, u.IsLimited, u.LimitReachedAt,
		u.CreatedAt, u.UpdatedAt)
	return err
}

// GetRateLimitUsage fetches the audit row for one counter key.
func (r *SQLiteRepository) GetRateLimitUsage(ctx context.Context, ruleID, userID, ip, endpointID, apiKey string, windowStart time.Time) (*models.RateLimitUsage, error) {
	var u models.RateLimitUsage
	err := r.db.GetContext(ctx, &u, `
		SELECT * FROM rate_limit_usage
		WHERE rule_id = ? AND user_id = ? AND ip_address = ? AND endpoint_id = ? AND api_key = ? AND window_start = ?`,
		ruleID, userID, ip, endpointID, apiKey, windowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &u, err
}

// APIUsageRow is one rolled-up request count for the api_usage report.
type APIUsageRow struct {
	EndpointID string `db:"endpoint_id"`
	Requests   int64  `db:"requests"`
	Limited    int64  `db:"limited"`
}

// APIUsageSummary rolls rate_limit_usage up per endpoint since the given
// time. Rows without an endpoint are grouped under the empty id.
func (r *SQLiteRepository) APIUsageSummary(ctx context.Context, since time.Time) ([]APIUsageRow, error) {
	var rows []APIUsageRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT endpoint_id,
		       SUM(request_count) AS requests,
		       SUM(CASE WHEN is_limited THEN 1 ELSE 0 END) AS limited
		FROM rate_limit_usage
		WHERE window_start >= ?
		GROUP BY endpoint_id
		ORDER BY requests DESC`, since)
	return rows, err
}
