// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	IsDatabaseEnabled() bool
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetAPIKey() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// WhatsAppConfig provides settings for the chat client relay.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetSessionDir() string
}

// ConnectionConfig provides settings for the connection lifecycle manager.
type ConnectionConfig interface {
	GetInitTimeout() time.Duration
	GetReconnectBaseDelay() time.Duration
	GetReconnectMaxDelay() time.Duration
	GetReconnectMaxAttempts() int
	GetRestartLimit() int
	GetCriticalRetryDelay() time.Duration
	GetSessionMaxBytes() int64
}

// HealthConfig provides settings for the health monitor.
type HealthConfig interface {
	GetLivenessInterval() time.Duration
	GetIntegrityInterval() time.Duration
	GetHousekeepingInterval() time.Duration
	GetBackupInterval() time.Duration
}

// ResilienceConfig provides settings for the retry/circuit breaker layer.
type ResilienceConfig interface {
	GetRetryMaxAttempts() int
	GetRetryBaseDelay() time.Duration
	GetRetryMaxDelay() time.Duration
	GetBreakerThreshold() int
	GetBreakerCooldown() time.Duration
	GetBreakerHalfOpenProbes() int
}

// ValidationConfig provides settings for the phone validation cache.
type ValidationConfig interface {
	GetValidationTTL() time.Duration
	GetDefaultRegion() string
}

// DispatchConfig provides settings for the status-driven dispatch engine.
type DispatchConfig interface {
	GetPollInterval() time.Duration
	GetReminderDelay() time.Duration
	GetFollowUpDelay() time.Duration
	GetStatusMapFile() string
}

// SheetsConfig provides settings for the spreadsheet data source.
type SheetsConfig interface {
	GetSheetsBaseURL() string
	GetSheetID() string
	GetSheetRange() string
	GetSheetsAPIKey() string
	GetSheetsRateRPS() float64
}

// SchedulerConfig provides settings for the asynq scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// BackupConfig provides settings for session backups to object storage.
type BackupConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketSessionBackups() string
	IsBackupEnabled() bool
}

// AlertConfig provides settings for operator email alerts.
type AlertConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetAlertFromAddress() string
	GetAlertToAddress() string
	IsAlertsEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                       string
	HTTPAddr                  string
	APIKey                    string
	CORSAllowAll              bool
	CORSOrigins               []string
	DatabaseURL               string
	RedisURL                  string
	RedisTLSInsecure          bool
	AsynqQueueName            string
	AsynqConcurrency          int
	WhatsAppURL               string
	WhatsAppKey               string
	WhatsAppDeviceID          string
	SessionDir                string
	SessionMaxBytes           int64
	InitTimeout               time.Duration
	ReconnectBaseDelay        time.Duration
	ReconnectMaxDelay         time.Duration
	ReconnectMaxAttempts      int
	RestartLimit              int
	CriticalRetryDelay        time.Duration
	LivenessInterval          time.Duration
	IntegrityInterval         time.Duration
	HousekeepingInterval      time.Duration
	BackupInterval            time.Duration
	RetryMaxAttempts          int
	RetryBaseDelay            time.Duration
	RetryMaxDelay             time.Duration
	BreakerThreshold          int
	BreakerCooldown           time.Duration
	BreakerHalfOpenProbes     int
	ValidationTTL             time.Duration
	DefaultRegion             string
	PollInterval              time.Duration
	ReminderDelay             time.Duration
	FollowUpDelay             time.Duration
	StatusMapFile             string
	SheetsBaseURL             string
	SheetID                   string
	SheetRange                string
	SheetsAPIKey              string
	SheetsRateRPS             float64
	MinIOEndpoint             string
	MinIOAccessKey            string
	MinIOSecretKey            string
	MinIOUseSSL               bool
	MinioBucketSessionBackups string
	SMTPHost                  string
	SMTPPort                  int
	SMTPUsername              string
	SMTPPassword              string
	AlertFromAddress          string
	AlertToAddress            string
	AlertsEnabled             bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string  { return c.DatabaseURL }
func (c *Config) IsDatabaseEnabled() bool { return c.DatabaseURL != "" }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetAPIKey() string        { return c.APIKey }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }
func (c *Config) GetSessionDir() string       { return c.SessionDir }

// ConnectionConfig implementation
func (c *Config) GetInitTimeout() time.Duration        { return c.InitTimeout }
func (c *Config) GetReconnectBaseDelay() time.Duration { return c.ReconnectBaseDelay }
func (c *Config) GetReconnectMaxDelay() time.Duration  { return c.ReconnectMaxDelay }
func (c *Config) GetReconnectMaxAttempts() int         { return c.ReconnectMaxAttempts }
func (c *Config) GetRestartLimit() int                 { return c.RestartLimit }
func (c *Config) GetCriticalRetryDelay() time.Duration { return c.CriticalRetryDelay }
func (c *Config) GetSessionMaxBytes() int64            { return c.SessionMaxBytes }

// HealthConfig implementation
func (c *Config) GetLivenessInterval() time.Duration     { return c.LivenessInterval }
func (c *Config) GetIntegrityInterval() time.Duration    { return c.IntegrityInterval }
func (c *Config) GetHousekeepingInterval() time.Duration { return c.HousekeepingInterval }
func (c *Config) GetBackupInterval() time.Duration       { return c.BackupInterval }

// ResilienceConfig implementation
func (c *Config) GetRetryMaxAttempts() int            { return c.RetryMaxAttempts }
func (c *Config) GetRetryBaseDelay() time.Duration    { return c.RetryBaseDelay }
func (c *Config) GetRetryMaxDelay() time.Duration     { return c.RetryMaxDelay }
func (c *Config) GetBreakerThreshold() int            { return c.BreakerThreshold }
func (c *Config) GetBreakerCooldown() time.Duration   { return c.BreakerCooldown }
func (c *Config) GetBreakerHalfOpenProbes() int       { return c.BreakerHalfOpenProbes }

// ValidationConfig implementation
func (c *Config) GetValidationTTL() time.Duration { return c.ValidationTTL }
func (c *Config) GetDefaultRegion() string        { return c.DefaultRegion }

// DispatchConfig implementation
func (c *Config) GetPollInterval() time.Duration  { return c.PollInterval }
func (c *Config) GetReminderDelay() time.Duration { return c.ReminderDelay }
func (c *Config) GetFollowUpDelay() time.Duration { return c.FollowUpDelay }
func (c *Config) GetStatusMapFile() string        { return c.StatusMapFile }

// SheetsConfig implementation
func (c *Config) GetSheetsBaseURL() string  { return c.SheetsBaseURL }
func (c *Config) GetSheetID() string        { return c.SheetID }
func (c *Config) GetSheetRange() string     { return c.SheetRange }
func (c *Config) GetSheetsAPIKey() string   { return c.SheetsAPIKey }
func (c *Config) GetSheetsRateRPS() float64 { return c.SheetsRateRPS }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string      { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// BackupConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketSessionBackups() string {
	return c.MinioBucketSessionBackups
}
func (c *Config) IsBackupEnabled() bool { return c.MinIOEndpoint != "" }

// AlertConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetAlertFromAddress() string { return c.AlertFromAddress }
func (c *Config) GetAlertToAddress() string   { return c.AlertToAddress }
func (c *Config) IsAlertsEnabled() bool {
	return c.AlertsEnabled && c.SMTPHost != "" && c.AlertToAddress != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		APIKey:                    getEnv("API_KEY", ""),
		CORSAllowAll:              corsAllowAll,
		CORSOrigins:               corsOrigins,
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		RedisURL:                  getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure:          strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:            getEnv("ASYNQ_QUEUE", "orderbot"),
		AsynqConcurrency:          mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		WhatsAppURL:               getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:               getEnv("WHATSAPP_API_KEY", ""),
		WhatsAppDeviceID:          getEnv("WHATSAPP_DEVICE_ID", ""),
		SessionDir:                getEnv("WHATSAPP_SESSION_DIR", ".wwebjs_auth"),
		SessionMaxBytes:           mustInt64(getEnv("SESSION_MAX_BYTES", "524288000")),
		InitTimeout:               mustDuration(getEnv("INIT_TIMEOUT", "120s")),
		ReconnectBaseDelay:        mustDuration(getEnv("RECONNECT_BASE_DELAY", "3s")),
		ReconnectMaxDelay:         mustDuration(getEnv("RECONNECT_MAX_DELAY", "30s")),
		ReconnectMaxAttempts:      mustInt(getEnv("RECONNECT_MAX_ATTEMPTS", "8")),
		RestartLimit:              mustInt(getEnv("RESTART_LIMIT", "3")),
		CriticalRetryDelay:        mustDuration(getEnv("CRITICAL_RETRY_DELAY", "5m")),
		LivenessInterval:          mustDuration(getEnv("LIVENESS_INTERVAL", "12s")),
		IntegrityInterval:         mustDuration(getEnv("INTEGRITY_INTERVAL", "60s")),
		HousekeepingInterval:      mustDuration(getEnv("HOUSEKEEPING_INTERVAL", "5m")),
		BackupInterval:            mustDuration(getEnv("BACKUP_INTERVAL", "30m")),
		RetryMaxAttempts:          mustInt(getEnv("RETRY_MAX_ATTEMPTS", "3")),
		RetryBaseDelay:            mustDuration(getEnv("RETRY_BASE_DELAY", "500ms")),
		RetryMaxDelay:             mustDuration(getEnv("RETRY_MAX_DELAY", "10s")),
		BreakerThreshold:          mustInt(getEnv("BREAKER_THRESHOLD", "10")),
		BreakerCooldown:           mustDuration(getEnv("BREAKER_COOLDOWN", "60s")),
		BreakerHalfOpenProbes:     mustInt(getEnv("BREAKER_HALF_OPEN_PROBES", "2")),
		ValidationTTL:             mustDuration(getEnv("VALIDATION_TTL", "24h")),
		DefaultRegion:             getEnv("PHONE_DEFAULT_REGION", "NL"),
		PollInterval:              mustDuration(getEnv("POLL_INTERVAL", "60s")),
		ReminderDelay:             mustDuration(getEnv("REMINDER_DELAY", "24h")),
		FollowUpDelay:             mustDuration(getEnv("FOLLOWUP_DELAY", "45m")),
		StatusMapFile:             getEnv("STATUS_MAP_FILE", ""),
		SheetsBaseURL:             getEnv("SHEETS_BASE_URL", "https://sheets.googleapis.com"),
		SheetID:                   getEnv("SHEET_ID", ""),
		SheetRange:                getEnv("SHEET_RANGE", "Orders!A2:H"),
		SheetsAPIKey:              getEnv("SHEETS_API_KEY", ""),
		SheetsRateRPS:             mustFloat(getEnv("SHEETS_RATE_RPS", "1")),
		MinIOEndpoint:             getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:            getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:            getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:               strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketSessionBackups: getEnv("MINIO_BUCKET_SESSION_BACKUPS", "session-backups"),
		SMTPHost:                  getEnv("SMTP_HOST", ""),
		SMTPPort:                  mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:              getEnv("SMTP_USERNAME", ""),
		SMTPPassword:              getEnv("SMTP_PASSWORD", ""),
		AlertFromAddress:          getEnv("ALERT_FROM_ADDRESS", ""),
		AlertToAddress:            getEnv("ALERT_TO_ADDRESS", ""),
		AlertsEnabled:             strings.EqualFold(getEnv("ALERTS_ENABLED", "true"), "true"),
	}

	if cfg.WhatsAppURL == "" {
		return nil, fmt.Errorf("WHATSAPP_URL is required")
	}
	if cfg.SheetID == "" || cfg.SheetsAPIKey == "" {
		return nil, fmt.Errorf("SHEET_ID and SHEETS_API_KEY are required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.ReconnectBaseDelay <= 0 || cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		return nil, fmt.Errorf("invalid reconnect delay configuration")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
