package models

import "time"

// LoginAttemptStatus is the outcome of a single authentication attempt.
type LoginAttemptStatus string

const (
	LoginAttemptSuccess LoginAttemptStatus = "success"
	LoginAttemptFailed  LoginAttemptStatus = "failed"
	LoginAttemptBlocked LoginAttemptStatus = "blocked"
	LoginAttemptLocked  LoginAttemptStatus = "locked"
)

// LoginAttempt is an append-only record of an authentication attempt.
type LoginAttempt struct {
	ID            string             `json:"id" db:"id"`
	Email         string             `json:"email" db:"email"`
	UserID        *string            `json:"user_id,omitempty" db:"user_id"`
	Status        LoginAttemptStatus `json:"status" db:"status"`
	IPAddress     string             `json:"ip_address" db:"ip_address"`
	UserAgent     string             `json:"user_agent,omitempty" db:"user_agent"`
	Country       string             `json:"country,omitempty" db:"country"`
	City          string             `json:"city,omitempty" db:"city"`
	FailureReason string             `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}

// SecurityEventKind enumerates the audited event categories.
type SecurityEventKind string

const (
	EventLoginSuccess       SecurityEventKind = "login_success"
	EventLoginFailed        SecurityEventKind = "login_failed"
	EventLoginBlocked       SecurityEventKind = "login_blocked"
	EventPasswordChanged    SecurityEventKind = "password_changed"
	EventPasswordReset      SecurityEventKind = "password_reset"
	EventProfileUpdated     SecurityEventKind = "profile_updated"
	EventTwoFactorEnabled   SecurityEventKind = "2fa_enabled"
	EventTwoFactorDisabled  SecurityEventKind = "2fa_disabled"
	EventSuspiciousActivity SecurityEventKind = "suspicious_activity"
	EventIPBlocked          SecurityEventKind = "ip_blocked"
	EventRateLimitExceeded  SecurityEventKind = "rate_limit_exceeded"
	EventUnusualLocation    SecurityEventKind = "unusual_location"
	EventMultipleDevices    SecurityEventKind = "multiple_devices"
	EventOther              SecurityEventKind = "other"
)

// Severity is the four-level severity scale shared by security events and alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityDefaults maps each event kind to its baseline severity. Callers may
// raise the severity of an individual event but never lower it below this table.
var severityDefaults = map[SecurityEventKind]Severity{
	EventLoginSuccess:       SeverityLow,
	EventLoginFailed:        SeverityMedium,
	EventLoginBlocked:       SeverityHigh,
	EventPasswordChanged:    SeverityMedium,
	EventPasswordReset:      SeverityMedium,
	EventProfileUpdated:     SeverityLow,
	EventTwoFactorEnabled:   SeverityLow,
	EventTwoFactorDisabled:  SeverityMedium,
	EventSuspiciousActivity: SeverityHigh,
	EventIPBlocked:          SeverityHigh,
	EventRateLimitExceeded:  SeverityMedium,
	EventUnusualLocation:    SeverityMedium,
	EventMultipleDevices:    SeverityMedium,
	EventOther:              SeverityLow,
}

// DefaultSeverity returns the baseline severity for kind.
func DefaultSeverity(kind SecurityEventKind) Severity {
	if s, ok := severityDefaults[kind]; ok {
		return s
	}
	return SeverityLow
}

// severityRank orders severities so callers can raise but never lower them.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[a] >= severityRank[b] {
		return a
	}
	return b
}

// SecurityEventStatus is the processing state of a security event.
type SecurityEventStatus string

const (
	EventStatusProcessing SecurityEventStatus = "processing"
	EventStatusProcessed  SecurityEventStatus = "processed"
	EventStatusIgnored    SecurityEventStatus = "ignored"
	EventStatusEscalated  SecurityEventStatus = "escalated"
)

// SecurityEvent is an append-only audit record.
type SecurityEvent struct {
	ID           string              `json:"id" db:"id"`
	EventKind    SecurityEventKind   `json:"event_kind" db:"event_kind"`
	Severity     Severity            `json:"severity" db:"severity"`
	Title        string              `json:"title" db:"title"`
	Description  string              `json:"description,omitempty" db:"description"`
	IPAddress    string              `json:"ip_address" db:"ip_address"`
	UserID       *string             `json:"user_id,omitempty" db:"user_id"`
	UserAgent    string              `json:"user_agent,omitempty" db:"user_agent"`
	Country      string              `json:"country,omitempty" db:"country"`
	City         string              `json:"city,omitempty" db:"city"`
	Metadata     string              `json:"metadata,omitempty" db:"metadata"` // JSON
	Status       SecurityEventStatus `json:"status" db:"status"`
	ActionsTaken string              `json:"actions_taken,omitempty" db:"actions_taken"` // JSON array
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
}

// IPBlockKind distinguishes how a block came to exist.
type IPBlockKind string

const (
	BlockTemporary IPBlockKind = "temporary"
	BlockPermanent IPBlockKind = "permanent"
	BlockManual    IPBlockKind = "manual"
	BlockAutomatic IPBlockKind = "automatic"
)

// IPBlockStatus is the lifecycle state of a block.
type IPBlockStatus string

const (
	BlockActive          IPBlockStatus = "active"
	BlockExpired         IPBlockStatus = "expired"
	BlockManuallyRemoved IPBlockStatus = "manually_removed"
)

// IPBlock is an active or historical block on a source IP. At most one active
// block exists per IP.
type IPBlock struct {
	ID              string        `json:"id" db:"id"`
	IPAddress       string        `json:"ip_address" db:"ip_address"`
	BlockKind       IPBlockKind   `json:"block_kind" db:"block_kind"`
	Reason          string        `json:"reason" db:"reason"`
	DurationMinutes *int          `json:"duration_minutes,omitempty" db:"duration_minutes"`
	BlockedAt       time.Time     `json:"blocked_at" db:"blocked_at"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	Status          IPBlockStatus `json:"status" db:"status"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// Expired reports whether a temporary block has passed its expiry at the given
// time. Permanent blocks (nil ExpiresAt) never expire.
func (b *IPBlock) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// RemainingBlockTime returns how long the block still applies, zero for
// permanent blocks.
func (b *IPBlock) RemainingBlockTime(now time.Time) time.Duration {
	if b.ExpiresAt == nil {
		return 0
	}
	if d := b.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// UserSecurityStatus is the account-level security state.
type UserSecurityStatus string

const (
	UserSecurityActive              UserSecurityStatus = "active"
	UserSecuritySuspended           UserSecurityStatus = "suspended"
	UserSecurityLocked              UserSecurityStatus = "locked"
	UserSecurityPendingVerification UserSecurityStatus = "pending_verification"
)

const (
	// MaxFailedLogins is the consecutive-failure count that locks an account.
	MaxFailedLogins = 5
	// MaxRecentIPs bounds the advisory recent-IP list (FIFO).
	MaxRecentIPs = 10
	// MaxRecentDevices bounds the advisory device list (FIFO, last-seen updated).
	MaxRecentDevices = 20
)

// KnownDevice is one entry in the bounded per-user device list.
type KnownDevice struct {
	UserAgent string    `json:"user_agent"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// UserSecurity is the per-user security profile. The bounded lists are stored
// JSON-encoded and rewritten whole on update; concurrent logins may race and
// the last writer wins.
type UserSecurity struct {
	ID                  string             `json:"id" db:"id"`
	UserID              string             `json:"user_id" db:"user_id"`
	Status              UserSecurityStatus `json:"status" db:"status"`
	FailedLoginCount    int                `json:"failed_login_count" db:"failed_login_count"`
	LastFailedLogin     *time.Time         `json:"last_failed_login,omitempty" db:"last_failed_login"`
	LastSuccessfulLogin *time.Time         `json:"last_successful_login,omitempty" db:"last_successful_login"`
	LastLoginIP         string             `json:"last_login_ip,omitempty" db:"last_login_ip"`
	LastLoginCountry    string             `json:"last_login_country,omitempty" db:"last_login_country"`
	LastLoginCity       string             `json:"last_login_city,omitempty" db:"last_login_city"`
	RecentIPs           []string           `json:"recent_ips" db:"-"`
	RecentIPsRaw        string             `json:"-" db:"recent_ips"` // JSON array
	KnownDevices        []KnownDevice      `json:"known_devices" db:"-"`
	KnownDevicesRaw     string             `json:"-" db:"known_devices"` // JSON array
	RequireTwoFactor    bool               `json:"require_2fa" db:"require_2fa"`
	AllowConcurrent     bool               `json:"allow_concurrent_sessions" db:"allow_concurrent_sessions"`
	MaxConcurrent       int                `json:"max_concurrent_sessions" db:"max_concurrent_sessions"`
	NotifyEmail         bool               `json:"notify_email" db:"notify_email"`
	NotifySMS           bool               `json:"notify_sms" db:"notify_sms"`
	NotifyPush          bool               `json:"notify_push" db:"notify_push"`
	AllowedCountries    string             `json:"allowed_countries,omitempty" db:"allowed_countries"` // JSON array
	DeniedCountries     string             `json:"denied_countries,omitempty" db:"denied_countries"`   // JSON array
	AllowedWeekdays     string             `json:"allowed_weekdays,omitempty" db:"allowed_weekdays"`   // JSON array of 0-6
	AllowedHoursStart   *int               `json:"allowed_hours_start,omitempty" db:"allowed_hours_start"`
	AllowedHoursEnd     *int               `json:"allowed_hours_end,omitempty" db:"allowed_hours_end"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`
}

// RecordIP pushes ip onto the bounded recent-IP list, newest first, dropping
// duplicates and trimming to MaxRecentIPs.
func (u *UserSecurity) RecordIP(ip string) {
	out := make([]string, 0, MaxRecentIPs)
	out = append(out, ip)
	for _, prev := range u.RecentIPs {
		if prev == ip {
			continue
		}
		out = append(out, prev)
		if len(out) == MaxRecentIPs {
			break
		}
	}
	u.RecentIPs = out
}

// RecordDevice updates the last-seen time for a known user agent or appends a
// new entry, trimming the oldest beyond MaxRecentDevices.
func (u *UserSecurity) RecordDevice(userAgent string, now time.Time) {
	for i := range u.KnownDevices {
		if u.KnownDevices[i].UserAgent == userAgent {
			u.KnownDevices[i].LastSeen = now
			return
		}
	}
	u.KnownDevices = append(u.KnownDevices, KnownDevice{UserAgent: userAgent, FirstSeen: now, LastSeen: now})
	if len(u.KnownDevices) > MaxRecentDevices {
		u.KnownDevices = u.KnownDevices[len(u.KnownDevices)-MaxRecentDevices:]
	}
}

// SecurityRuleStatus gates whether a declarative rule is evaluated.
type SecurityRuleStatus string

const (
	RuleActive   SecurityRuleStatus = "active"
	RuleInactive SecurityRuleStatus = "inactive"
	RuleTesting  SecurityRuleStatus = "testing"
)

// SecurityRuleAction is one action attached to a security rule.
type SecurityRuleAction struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

// SecurityRule is a declarative condition/action pair evaluated against a
// request-context map. The condition is a conjunction of equality predicates.
type SecurityRule struct {
	ID            string               `json:"id" db:"id"`
	Name          string               `json:"name" db:"name"`
	RuleKind      string               `json:"rule_kind" db:"rule_kind"`
	Condition     map[string]string    `json:"condition" db:"-"`
	ConditionRaw  string               `json:"-" db:"condition"` // JSON object
	Actions       []SecurityRuleAction `json:"actions" db:"-"`
	ActionsRaw    string               `json:"-" db:"actions"` // JSON array
	Priority      int                  `json:"priority" db:"priority"`
	Status        SecurityRuleStatus   `json:"status" db:"status"`
	TriggerCount  int64                `json:"trigger_count" db:"trigger_count"`
	LastTriggered *time.Time           `json:"last_triggered,omitempty" db:"last_triggered"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at" db:"updated_at"`
}

// Matches evaluates the rule condition against ctx. Evaluation is pure: every
// condition key must be present in ctx with an equal value.
func (r *SecurityRule) Matches(ctx map[string]string) bool {
	for k, want := range r.Condition {
		if got, ok := ctx[k]; !ok || got != want {
			return false
		}
	}
	return true
}
