package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/admincore/admincore/internal/models"
)

// CreateUser stores an account record.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.JoinedAt.IsZero() {
		u.JoinedAt = now
	}
	query := `
		INSERT INTO users (id, email, first_name, last_name, password_hash, is_active, is_staff, two_factor_enabled, totp_secret, joined_at, last_login_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.IsActive, u.IsStaff,
		u.TwoFactorEnabled, u.TOTPSecret, u.JoinedAt, u.LastLoginAt, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail looks up an account by email, or (nil, nil).
func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &u, err
}

// GetUser fetches one account.
func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &u, err
}

// UserFilters narrows the users report projection.
type UserFilters struct {
	DateFrom *time.Time
	DateTo   *time.Time
	IsActive *bool
}

// ListUsers returns accounts matching the filters, oldest join first.
func (r *SQLiteRepository) ListUsers(ctx context.Context, f UserFilters) ([]*models.User, error) {
	query := `SELECT * FROM users WHERE 1=1`
	args := []interface{}{}
	if f.DateFrom != nil {
		query += " AND joined_at >= ?"
		args = append(args, *f.DateFrom)
	}
	if f.DateTo != nil {
		query += " AND joined_at <= ?"
		args = append(args, *f.DateTo)
	}
	if f.IsActive != nil {
		query += " AND is_active = ?"
		args = append(args, *f.IsActive)
	}
	query += " ORDER BY joined_at ASC"
	var users []*models.User
	err := r.db.SelectContext(ctx, &users, query, args...)
	return users, err
}

// CountActiveUsersSince counts distinct users with a successful login at or
// after since. Drives the "user" alert signal.
func (r *SQLiteRepository) CountActiveUsersSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(DISTINCT user_id) FROM login_attempts
		WHERE status = 'success' AND user_id IS NOT NULL AND created_at >= ?`, since)
	return n, err
}

// RecordUserLogin updates the account's last-login time.
func (r *SQLiteRepository) RecordUserLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`, at, at, userID)
	return err
}

// CreateAuditLog appends an administrative action record.
func (r *SQLiteRepository) CreateAuditLog(ctx context.Context, e *models.AuditLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Username == "" {
		e.Username = "anonymous"
	}
	query := `
		INSERT INTO audit_logs (id, user_id, username, action, target_kind, target_id, ip_address, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.Username, e.Action, e.TargetKind, e.TargetID, e.IPAddress, e.Details, e.Timestamp)
	return err
}

// ListAuditLogs returns entries in a window, newest first.
func (r *SQLiteRepository) ListAuditLogs(ctx context.Context, since, until *time.Time, limit int) ([]*models.AuditLogEntry, error) {
	query := `SELECT * FROM audit_logs WHERE 1=1`
	args := []interface{}{}
	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *since)
	}
	if until != nil {
		query += " AND timestamp <= ?"
		args = append(args, *until)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	var out []*models.AuditLogEntry
	err := r.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// CreateAppLog appends an application log row.
func (r *SQLiteRepository) CreateAppLog(ctx context.Context, l *models.AppLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	query := `INSERT INTO app_logs (id, level, message, source, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, l.ID, l.Level, l.Message, l.Source, l.Details, l.CreatedAt)
	return err
}

// ListAppLogs returns log rows filtered by levels and window, newest first.
func (r *SQLiteRepository) ListAppLogs(ctx context.Context, levels []models.LogLevel, since, until *time.Time, limit int) ([]*models.AppLog, error) {
	query := `SELECT * FROM app_logs WHERE 1=1`
	args := []interface{}{}
	if len(levels) > 0 {
		query += " AND level IN ("
		for i, lv := range levels {
			if i > 0 {
				query += ", "
			}
			query += "?"
			args = append(args, lv)
		}
		query += ")"
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
		limit = 1000
	}
	args = append(args, limit)
	var out []*models.AppLog
	err := r.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// ErrorLogRate returns the percentage of error+critical rows among all app
// logs since the given time. Zero rows yields zero.
func (r *SQLiteRepository) ErrorLogRate(ctx context.Context, since time.Time) (float64, error) {
	var total, bad int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM app_logs WHERE created_at >= ?`, since); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	if err := r.db.GetContext(ctx, &bad,
		`SELECT COUNT(*) FROM app_logs WHERE created_at >= ? AND level IN ('error', 'critical')`, since); err != nil {
		return 0, err
	}
	return float64(bad) / float64(total) * 100, nil
}
