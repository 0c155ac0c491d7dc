package models

import "time"

// User is an account record. Only the fields the admission pipeline, signin
// flow and the users report consume are modeled here.
type User struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	FirstName        string     `json:"first_name" db:"first_name"`
	LastName         string     `json:"last_name" db:"last_name"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	IsStaff          bool       `json:"is_staff" db:"is_staff"`
	TwoFactorEnabled bool       `json:"two_factor_enabled" db:"two_factor_enabled"`
	TOTPSecret       string     `json:"-" db:"totp_secret"`
	JoinedAt         time.Time  `json:"joined_at" db:"joined_at"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// AuditLogEntry is an administrative action record, append-only.
type AuditLogEntry struct {
	ID         string    `json:"id" db:"id"`
	UserID     *string   `json:"user_id,omitempty" db:"user_id"`
	Username   string    `json:"username" db:"username"`
	Action     string    `json:"action" db:"action"`
	TargetKind string    `json:"target_kind,omitempty" db:"target_kind"`
	TargetID   string    `json:"target_id,omitempty" db:"target_id"`
	IPAddress  string    `json:"ip_address,omitempty" db:"ip_address"`
	Details    string    `json:"details,omitempty" db:"details"` // JSON
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// LogLevel for application log rows consumed by the errors report source.
type LogLevel string

const (
	LogDebug    LogLevel = "debug"
	LogInfo     LogLevel = "info"
	LogWarning  LogLevel = "warning"
	LogError    LogLevel = "error"
	LogCritical LogLevel = "critical"
)

// AppLog is one persisted application log row.
type AppLog struct {
	ID        string    `json:"id" db:"id"`
	Level     LogLevel  `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	Source    string    `json:"source,omitempty" db:"source"`
	Details   string    `json:"details,omitempty" db:"details"` // JSON
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
