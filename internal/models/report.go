package models

import "time"

// ReportKind names one of the predefined query families a template can run.
type ReportKind string

const (
	ReportUsers       ReportKind = "users"
	ReportActivity    ReportKind = "activity"
	ReportSecurity    ReportKind = "security"
	ReportPerformance ReportKind = "performance"
	ReportSystem      ReportKind = "system"
	ReportErrors      ReportKind = "errors"
	ReportAPIUsage    ReportKind = "api_usage"
	ReportCustom      ReportKind = "custom"
)

// ReportFormat is the artifact file format.
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
	FormatXLSX ReportFormat = "xlsx"
	FormatPDF  ReportFormat = "pdf"
	FormatHTML ReportFormat = "html"
)

// ReportTemplate is a stored query plan.
type ReportTemplate struct {
	ID             string       `json:"id" db:"id"`
	Name           string       `json:"name" db:"name"`
	ReportKind     ReportKind   `json:"report_kind" db:"report_kind"`
	Format         ReportFormat `json:"format" db:"format"`
	QueryConfig    string       `json:"query_config,omitempty" db:"query_config"`       // JSON
	TemplateConfig string       `json:"template_config,omitempty" db:"template_config"` // JSON
	DefaultFilters string       `json:"default_filters,omitempty" db:"default_filters"` // JSON
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// Recurrence is the schedule cadence.
type Recurrence string

const (
	RecurHourly    Recurrence = "hourly"
	RecurDaily     Recurrence = "daily"
	RecurWeekly    Recurrence = "weekly"
	RecurMonthly   Recurrence = "monthly"
	RecurQuarterly Recurrence = "quarterly"
	RecurYearly    Recurrence = "yearly"
	RecurCron      Recurrence = "custom_cron"
)

// ScheduledReportStatus gates schedule scanning.
type ScheduledReportStatus string

const (
	ScheduleActive   ScheduledReportStatus = "active"
	ScheduleInactive ScheduledReportStatus = "inactive"
	SchedulePaused   ScheduledReportStatus = "paused"
	ScheduleError    ScheduledReportStatus = "error"
)

// ScheduledReport drives recurring executions of a template.
type ScheduledReport struct {
	ID             string                `json:"id" db:"id"`
	TemplateID     string                `json:"template_id" db:"template_id"`
	Name           string                `json:"name" db:"name"`
	Recurrence     Recurrence            `json:"recurrence" db:"recurrence"`
	CronExpression string                `json:"cron_expression,omitempty" db:"cron_expression"`
	NextRun        time.Time             `json:"next_run" db:"next_run"`
	LastRun        *time.Time            `json:"last_run,omitempty" db:"last_run"`
	Status         ScheduledReportStatus `json:"status" db:"status"`
	Recipients     string                `json:"recipients,omitempty" db:"recipients"` // JSON array
	Channels       []NotificationChannel `json:"notification_channels" db:"-"`
	ChannelsRaw    string                `json:"-" db:"notification_channels"` // JSON array
	RetentionDays  int                   `json:"retention_days" db:"retention_days"`
	CreatedAt      time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at" db:"updated_at"`
}

// ReportExecutionStatus is the lifecycle state of one execution attempt.
// Transitions: pending -> running -> completed | failed | cancelled.
type ReportExecutionStatus string

const (
	ExecutionPending   ReportExecutionStatus = "pending"
	ExecutionRunning   ReportExecutionStatus = "running"
	ExecutionCompleted ReportExecutionStatus = "completed"
	ExecutionFailed    ReportExecutionStatus = "failed"
	ExecutionCancelled ReportExecutionStatus = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s ReportExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// CanAdvance reports whether the transition s -> next is legal in the
// execution lifecycle graph.
func (s ReportExecutionStatus) CanAdvance(next ReportExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionFailed || next == ExecutionCancelled
	case ExecutionRunning:
		return next == ExecutionCompleted || next == ExecutionFailed || next == ExecutionCancelled
	}
	return false
}

// ReportExecution is one execution attempt of a schedule (or an ad-hoc run,
// in which case ScheduleID is empty).
type ReportExecution struct {
	ID          string                `json:"id" db:"id"`
	ScheduleID  string                `json:"schedule_id,omitempty" db:"schedule_id"`
	TemplateID  string                `json:"template_id" db:"template_id"`
	Status      ReportExecutionStatus `json:"status" db:"status"`
	StartedAt   *time.Time            `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time            `json:"ended_at,omitempty" db:"ended_at"`
	DurationMs  int64                 `json:"duration_ms" db:"duration_ms"`
	FilePath    string                `json:"file_path,omitempty" db:"file_path"`
	FileSize    int64                 `json:"file_size" db:"file_size"`
	RecordCount int64                 `json:"record_count" db:"record_count"`
	ErrorMsg    string                `json:"error_message,omitempty" db:"error_message"`
	Parameters  string                `json:"parameters,omitempty" db:"parameters"`       // JSON snapshot
	Log         string                `json:"execution_log,omitempty" db:"execution_log"` // JSON lines
	CreatedAt   time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at" db:"updated_at"`
}
