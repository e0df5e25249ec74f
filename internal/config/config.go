package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the comunicasync application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	SourceBaseURL string `json:"source_base_url"`

	// SourceRateLimit: maximum requests per minute against the external source.
	SourceRateLimit int `json:"source_rate_limit"`

	SourceTimeout    time.Duration `json:"-"`
	SourceTimeoutStr string        `json:"source_timeout"`

	// DefaultTimezone is used for schedules with an unknown or empty timezone.
	DefaultTimezone string `json:"default_timezone"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
	RunnerDrainTimeout     time.Duration `json:"-"`
	RunnerDrainTimeoutStr  string        `json:"runner_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// SchedulerRefreshInterval: how often the timer registry is reconciled
	// against the schedules stored in the database.
	SchedulerRefreshInterval    time.Duration `json:"-"`
	SchedulerRefreshIntervalStr string        `json:"scheduler_refresh_interval"`

	SweeperInterval    time.Duration `json:"-"`
	SweeperIntervalStr string        `json:"sweeper_interval"`

	// SweeperThreshold must exceed the longest expected run duration.
	SweeperThreshold    time.Duration `json:"-"`
	SweeperThresholdStr string        `json:"sweeper_threshold"`

	SweeperBatchSize int `json:"sweeper_batch_size"`
	RunBusBufferSize int `json:"runbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	WebhookTimeout    time.Duration `json:"-"`
	WebhookTimeoutStr string        `json:"webhook_timeout"`

	// AnalyticsRetention: how long per-schedule run counters are kept in Redis.
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                 os.Getenv("DATABASE_URL"),
		RedisAddr:                   os.Getenv("REDIS_ADDR"),
		HTTPAddr:                    os.Getenv("HTTP_ADDR"),
		SourceBaseURL:               os.Getenv("CNJ_BASE_URL"),
		SourceTimeoutStr:            os.Getenv("CNJ_TIMEOUT"),
		DefaultTimezone:             os.Getenv("DEFAULT_TIMEZONE"),
		DBOpTimeoutStr:              os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:        os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:        os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:      os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		RunnerDrainTimeoutStr:       os.Getenv("RUNNER_DRAIN_TIMEOUT"),
		MetricsEnabled:              os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                 os.Getenv("METRICS_PATH"),
		SchedulerRefreshIntervalStr: os.Getenv("SCHEDULER_REFRESH_INTERVAL"),
		SweeperIntervalStr:          os.Getenv("SWEEPER_INTERVAL"),
		SweeperThresholdStr:         os.Getenv("SWEEPER_THRESHOLD"),
		WebhookTimeoutStr:           os.Getenv("WEBHOOK_TIMEOUT"),
		AnalyticsRetentionStr:       os.Getenv("ANALYTICS_RETENTION"),
	}

	if rateStr := os.Getenv("CNJ_RATE_LIMIT"); rateStr != "" {
		if n, err := parseInt(rateStr); err == nil && n > 0 {
			cfg.SourceRateLimit = n
		} else {
			log.Printf("config: invalid CNJ_RATE_LIMIT %q (must be a positive integer), using default 60", rateStr)
		}
	}
	if cfg.SourceRateLimit == 0 {
		cfg.SourceRateLimit = 60
	}

	if batchStr := os.Getenv("SWEEPER_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.SweeperBatchSize = batch
		}
	}
	if cfg.SweeperBatchSize == 0 {
		cfg.SweeperBatchSize = 100
	}

	if bufStr := os.Getenv("RUNBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.RunBusBufferSize = n
		} else {
			log.Printf("config: invalid RUNBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.RunBusBufferSize == 0 {
		cfg.RunBusBufferSize = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")

	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 615243", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 615243
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.SourceBaseURL == "" {
		cfg.SourceBaseURL = "https://comunicaapi.pje.jus.br"
	}
	if cfg.SourceTimeoutStr == "" {
		cfg.SourceTimeoutStr = "30s"
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "America/Sao_Paulo"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.RunnerDrainTimeoutStr == "" {
		cfg.RunnerDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.SchedulerRefreshIntervalStr == "" {
		cfg.SchedulerRefreshIntervalStr = "1m"
	}
	if cfg.SweeperIntervalStr == "" {
		cfg.SweeperIntervalStr = "5m"
	}
	if cfg.SweeperThresholdStr == "" {
		cfg.SweeperThresholdStr = "1h"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.WebhookTimeoutStr == "" {
		cfg.WebhookTimeoutStr = "30s"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.SourceTimeoutStr); err == nil {
		cfg.SourceTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RunnerDrainTimeoutStr); err == nil {
		cfg.RunnerDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.SchedulerRefreshIntervalStr); err == nil {
		cfg.SchedulerRefreshInterval = d
	}
	if d, err := time.ParseDuration(cfg.SweeperIntervalStr); err == nil {
		cfg.SweeperInterval = d
	}
	if d, err := time.ParseDuration(cfg.SweeperThresholdStr); err == nil {
		cfg.SweeperThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.WebhookTimeoutStr); err == nil {
		cfg.WebhookTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL              string `json:"database_url"`
		RedisAddr                string `json:"redis_addr,omitempty"`
		HTTPAddr                 string `json:"http_addr"`
		SourceBaseURL            string `json:"source_base_url"`
		SourceRateLimit          int    `json:"source_rate_limit"`
		SourceTimeout            string `json:"source_timeout"`
		DefaultTimezone          string `json:"default_timezone"`
		DBOpTimeout              string `json:"db_op_timeout"`
		DBMaxOpenConns           int    `json:"db_max_open_conns"`
		DBMaxIdleConns           int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime        string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime        string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout      string `json:"http_shutdown_timeout"`
		RunnerDrainTimeout       string `json:"runner_drain_timeout"`
		MetricsEnabled           bool   `json:"metrics_enabled"`
		MetricsPath              string `json:"metrics_path"`
		SchedulerRefreshInterval string `json:"scheduler_refresh_interval"`
		SweeperInterval          string `json:"sweeper_interval"`
		SweeperThreshold         string `json:"sweeper_threshold"`
		SweeperBatchSize         int    `json:"sweeper_batch_size"`
		RunBusBufferSize         int    `json:"runbus_buffer_size"`
		CircuitBreakerThreshold  int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown   string `json:"circuit_breaker_cooldown"`
		WebhookTimeout           string `json:"webhook_timeout"`
		AnalyticsRetention       string `json:"analytics_retention"`
		LeaderLockKey            int64  `json:"leader_lock_key"`
		LeaderRetryInterval      string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval  string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:              maskSecret(c.DatabaseURL),
		RedisAddr:                c.RedisAddr,
		HTTPAddr:                 c.HTTPAddr,
		SourceBaseURL:            c.SourceBaseURL,
		SourceRateLimit:          c.SourceRateLimit,
		SourceTimeout:            c.SourceTimeoutStr,
		DefaultTimezone:          c.DefaultTimezone,
		DBOpTimeout:              c.DBOpTimeoutStr,
		DBMaxOpenConns:           c.DBMaxOpenConns,
		DBMaxIdleConns:           c.DBMaxIdleConns,
		DBConnMaxLifetime:        c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:        c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:      c.HTTPShutdownTimeoutStr,
		RunnerDrainTimeout:       c.RunnerDrainTimeoutStr,
		MetricsEnabled:           c.MetricsEnabled,
		MetricsPath:              c.MetricsPath,
		SchedulerRefreshInterval: c.SchedulerRefreshIntervalStr,
		SweeperInterval:          c.SweeperIntervalStr,
		SweeperThreshold:         c.SweeperThresholdStr,
		SweeperBatchSize:         c.SweeperBatchSize,
		RunBusBufferSize:         c.RunBusBufferSize,
		CircuitBreakerThreshold:  c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:   c.CircuitBreakerCooldownStr,
		WebhookTimeout:           c.WebhookTimeoutStr,
		AnalyticsRetention:       c.AnalyticsRetentionStr,
		LeaderLockKey:            c.LeaderLockKey,
		LeaderRetryInterval:      c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval:  c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
