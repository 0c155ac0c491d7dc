package models

import (
	"fmt"
	"time"
)

// AlertKind names the signal an alert rule monitors.
type AlertKind string

const (
	AlertCPU      AlertKind = "cpu"
	AlertMemory   AlertKind = "memory"
	AlertDisk     AlertKind = "disk"
	AlertSystem   AlertKind = "system"
	AlertDatabase AlertKind = "database"
	AlertAPI      AlertKind = "api"
	AlertError    AlertKind = "error"
	AlertUser     AlertKind = "user"
	AlertSecurity AlertKind = "security"
	AlertCustom   AlertKind = "custom"
)

var alertKindNames = map[AlertKind]string{
	AlertCPU:      "CPU Usage",
	AlertMemory:   "Memory Usage",
	AlertDisk:     "Disk Usage",
	AlertSystem:   "System Health",
	AlertDatabase: "Database Health",
	AlertAPI:      "API Response Time",
	AlertError:    "Error Rate",
	AlertUser:     "Active Users",
	AlertSecurity: "Security Events",
	AlertCustom:   "Custom Metric",
}

// DisplayName returns the human-readable name for k.
func (k AlertKind) DisplayName() string {
	if n, ok := alertKindNames[k]; ok {
		return n
	}
	return string(k)
}

// Comparator is the threshold comparison operator of an alert rule.
type Comparator string

const (
	CompareGT Comparator = ">"
	CompareGE Comparator = ">="
	CompareLT Comparator = "<"
	CompareLE Comparator = "<="
	CompareEQ Comparator = "="
	CompareNE Comparator = "!="
)

// Apply evaluates value against threshold. The = and != comparators use exact
// floating-point equality; no tolerance is applied.
func (c Comparator) Apply(value, threshold float64) bool {
	switch c {
	case CompareGT:
		return value > threshold
	case CompareGE:
		return value >= threshold
	case CompareLT:
		return value < threshold
	case CompareLE:
		return value <= threshold
	case CompareEQ:
		return value == threshold
	case CompareNE:
		return value != threshold
	}
	return false
}

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	switch c {
	case CompareGT, CompareGE, CompareLT, CompareLE, CompareEQ, CompareNE:
		return true
	}
	return false
}

// AlertRuleStatus gates rule scheduling.
type AlertRuleStatus string

const (
	AlertRuleActive   AlertRuleStatus = "active"
	AlertRuleInactive AlertRuleStatus = "inactive"
	AlertRulePaused   AlertRuleStatus = "paused"
)

// NotificationChannel is one fan-out target of an alert rule: a channel kind
// plus a recipient address (email address, phone number, or webhook URL).
type NotificationChannel struct {
	Type      ChannelKind `json:"type"`
	Recipient string      `json:"recipient"`
}

// AlertRule is a threshold-driven monitor over one system signal.
type AlertRule struct {
	ID                 string                `json:"id" db:"id"`
	Name               string                `json:"name" db:"name"`
	AlertKind          AlertKind             `json:"alert_kind" db:"alert_kind"`
	Severity           Severity              `json:"severity" db:"severity"`
	Status             AlertRuleStatus       `json:"status" db:"status"`
	ThresholdValue     float64               `json:"threshold_value" db:"threshold_value"`
	Comparison         Comparator            `json:"comparison" db:"comparison"`
	CheckIntervalSec   int                   `json:"check_interval" db:"check_interval"`
	CooldownSec        int                   `json:"cooldown_period" db:"cooldown_period"`
	MaxAlertsPerHour   int                   `json:"max_alerts_per_hour" db:"max_alerts_per_hour"`
	Channels           []NotificationChannel `json:"notification_channels" db:"-"`
	ChannelsRaw        string                `json:"-" db:"notification_channels"` // JSON array
	EscalationRules    string                `json:"escalation_rules,omitempty" db:"escalation_rules"` // JSON
	CustomSource       string                `json:"custom_source,omitempty" db:"custom_source"`       // sampler tag for kind=custom
	CreatedAt          time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at" db:"updated_at"`
}

// CheckInterval returns the rule's tick period.
func (r *AlertRule) CheckInterval() time.Duration {
	if r.CheckIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(r.CheckIntervalSec) * time.Second
}

// Cooldown returns the minimum spacing between fires of this rule.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSec) * time.Second
}

// SystemAlertStatus is the lifecycle state of one alert instance.
// Transitions: triggered -> acknowledged -> resolved, triggered -> resolved,
// and any non-terminal state -> suppressed. Backward moves are forbidden.
type SystemAlertStatus string

const (
	AlertTriggered    SystemAlertStatus = "triggered"
	AlertAcknowledged SystemAlertStatus = "acknowledged"
	AlertResolved     SystemAlertStatus = "resolved"
	AlertSuppressed   SystemAlertStatus = "suppressed"
)

// Terminal reports whether s admits no further transitions.
func (s SystemAlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertSuppressed
}

// SystemAlert is one firing of an alert rule, with severity, threshold and
// current value snapshotted from the rule at trigger time.
type SystemAlert struct {
	ID             string            `json:"id" db:"id"`
	RuleID         string            `json:"rule_id" db:"rule_id"`
	Title          string            `json:"title" db:"title"`
	Message        string            `json:"message" db:"message"`
	Status         SystemAlertStatus `json:"status" db:"status"`
	CurrentValue   float64           `json:"current_value" db:"current_value"`
	ThresholdValue float64           `json:"threshold_value" db:"threshold_value"`
	Severity       Severity          `json:"severity" db:"severity"`
	TriggeredAt    time.Time         `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy *string           `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy     *string           `json:"resolved_by,omitempty" db:"resolved_by"`
	Context        string            `json:"context,omitempty" db:"context"` // JSON
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// CanTransition reports whether moving from the alert's current status to next
// is legal under the lifecycle graph.
func (a *SystemAlert) CanTransition(next SystemAlertStatus) bool {
	switch next {
	case AlertAcknowledged:
		return a.Status == AlertTriggered
	case AlertResolved:
		return a.Status == AlertTriggered || a.Status == AlertAcknowledged
	case AlertSuppressed:
		return !a.Status.Terminal()
	}
	return false
}

// ChannelKind is the transport for one alert notification.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelSMS     ChannelKind = "sms"
	ChannelWebhook ChannelKind = "webhook"
	ChannelSlack   ChannelKind = "slack"
	ChannelTeams   ChannelKind = "teams"
	ChannelDiscord ChannelKind = "discord"
)

// NotificationStatus is the delivery state of one notification row.
type NotificationStatus string

const (
	NotifyPending   NotificationStatus = "pending"
	NotifySent      NotificationStatus = "sent"
	NotifyFailed    NotificationStatus = "failed"
	NotifyDelivered NotificationStatus = "delivered"
)

// AlertNotification is one delivery attempt record per channel per alert.
type AlertNotification struct {
	ID          string             `json:"id" db:"id"`
	AlertID     string             `json:"alert_id" db:"alert_id"`
	Channel     ChannelKind        `json:"channel" db:"channel"`
	Recipient   string             `json:"recipient" db:"recipient"`
	Status      NotificationStatus `json:"status" db:"status"`
	Subject     string             `json:"subject" db:"subject"`
	Message     string             `json:"message" db:"message"`
	SentAt      *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty" db:"delivered_at"`
	ErrorMsg    string             `json:"error_message,omitempty" db:"error_message"`
	RetryCount  int                `json:"retry_count" db:"retry_count"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}

// AlertMessage renders the firing message for a rule and sampled value. The
// exact phrasing is not contractual, but the kind display name, current value,
// operator, threshold and severity must all appear.
func AlertMessage(rule *AlertRule, currentValue float64) string {
	return fmt.Sprintf("%s is %.2f (%s %.2f), severity %s",
		rule.AlertKind.DisplayName(), currentValue, rule.Comparison, rule.ThresholdValue, rule.Severity)
}
