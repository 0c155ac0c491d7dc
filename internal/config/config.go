package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port               int      `mapstructure:"port"`
	DatabasePath       string   `mapstructure:"database_path"`
	LogLevel           string   `mapstructure:"log_level"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`

	// Report engine
	ReportsDir        string `mapstructure:"reports_dir"`
	ReportScanSec     int    `mapstructure:"report_scan_sec"`     // due-schedule scan cadence; must stay <= 60
	RetentionSweepSec int    `mapstructure:"retention_sweep_sec"` // artifact retention sweeper cadence

	// Security gateway
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"` // default rule fallbacks
	RateLimitPerHour   int `mapstructure:"rate_limit_per_hour"`
	RateLimitPerDay    int `mapstructure:"rate_limit_per_day"`
	AutoBlockThreshold int `mapstructure:"auto_block_threshold"` // failed attempts within window before auto block
	AutoBlockMinutes   int `mapstructure:"auto_block_minutes"`   // duration of an automatic block
	FailedWindowMin    int `mapstructure:"failed_window_min"`    // failed-attempt accounting window

	// Alert engine
	AlertReconcileSec int `mapstructure:"alert_reconcile_sec"` // rule change pickup bound

	// Notifications
	NotifyChannels   []string `mapstructure:"notify_channels"` // enabled channel kinds
	NotifyMaxRetries int      `mapstructure:"notify_max_retries"`

	// SMTP; empty host degrades email delivery to log-only
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	SMTPFrom string `mapstructure:"smtp_from"`
	SMTPUser string `mapstructure:"smtp_user"`
	SMTPPass string `mapstructure:"smtp_pass"`

	// Backups
	BackupsDir string `mapstructure:"backups_dir"`

	// JWT principal extraction for the admin surface
	JWTSecret string `mapstructure:"jwt_secret"`

	// Tracing
	OTLPEndpoint string `mapstructure:"otlp_endpoint"` // empty disables the exporter
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/admincore/")
	viper.AddConfigPath("$HOME/.admincore")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("database_path", "./admincore.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("reports_dir", "./reports")
	viper.SetDefault("report_scan_sec", 30)
	viper.SetDefault("retention_sweep_sec", 3600)
	viper.SetDefault("rate_limit_per_minute", 60)
	viper.SetDefault("rate_limit_per_hour", 1000)
	viper.SetDefault("rate_limit_per_day", 10000)
	viper.SetDefault("auto_block_threshold", 5)
	viper.SetDefault("auto_block_minutes", 60)
	viper.SetDefault("failed_window_min", 15)
	viper.SetDefault("alert_reconcile_sec", 5)
	viper.SetDefault("notify_channels", []string{"email", "webhook", "slack", "teams", "discord"})
	viper.SetDefault("notify_max_retries", 3)
	viper.SetDefault("smtp_host", "")
	viper.SetDefault("smtp_port", 587)
	viper.SetDefault("smtp_from", "alerts@admincore.local")
	viper.SetDefault("smtp_user", "")
	viper.SetDefault("smtp_pass", "")
	viper.SetDefault("backups_dir", "./backups")
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("otlp_endpoint", "")

	// Environment variables
	viper.SetEnvPrefix("ADMINCORE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.ReportScanSec <= 0 || cfg.ReportScanSec > 60 {
		return nil, fmt.Errorf("report_scan_sec must be in 1..60, got %d", cfg.ReportScanSec)
	}

	return &cfg, nil
}
