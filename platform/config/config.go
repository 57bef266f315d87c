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
	GetDatabaseMaxConns() int
}

// MigrationConfig controls startup migrations.
type MigrationConfig interface {
	DatabaseConfig
	GetMigrationsEnabled() bool
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// StoreConfig bounds every database call.
type StoreConfig interface {
	GetStoreTimeout() time.Duration
	GetStoreReadRetries() int
}

// ScoringConfig provides settings for the lead scoring module.
type ScoringConfig interface {
	StoreConfig
	GetScoreConfigCacheTTL() time.Duration
	GetRecalculateWorkers() int
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetStaleScanCron() string
}

// BrokerConfig provides settings for the outbound AMQP notification publisher.
type BrokerConfig interface {
	GetAMQPURL() string
	GetAMQPExchange() string
	IsBrokerEnabled() bool
}

// AIConfig provides settings for LLM-generated score insights.
type AIConfig interface {
	GetMoonshotAPIKey() string
	GetMoonshotModel() string
	IsInsightsEnabled() bool
}

// IngestConfig provides settings for inbound lead webhooks.
type IngestConfig interface {
	StoreConfig
	GetDefaultTimezone() string
	GetPhoneDefaultRegion() string
	GetWebhookRateLimitPerMin() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	DatabaseMaxConns       int
	MigrationsEnabled      bool
	JWTAccessSecret        string
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	StaleScanCron          string
	StoreTimeout           time.Duration
	StoreReadRetries       int
	ScoreConfigCacheTTL    time.Duration
	RecalculateWorkers     int
	AMQPURL                string
	AMQPExchange           string
	MoonshotAPIKey         string
	MoonshotModel          string
	DefaultTimezone        string
	PhoneDefaultRegion     string
	WebhookRateLimitPerMin int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int   { return c.DatabaseMaxConns }
func (c *Config) GetMigrationsEnabled() bool { return c.MigrationsEnabled }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// StoreConfig implementation
func (c *Config) GetStoreTimeout() time.Duration { return c.StoreTimeout }
func (c *Config) GetStoreReadRetries() int       { return c.StoreReadRetries }

// ScoringConfig implementation
func (c *Config) GetScoreConfigCacheTTL() time.Duration { return c.ScoreConfigCacheTTL }
func (c *Config) GetRecalculateWorkers() int            { return c.RecalculateWorkers }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) GetStaleScanCron() string  { return c.StaleScanCron }

// BrokerConfig implementation
func (c *Config) GetAMQPURL() string      { return c.AMQPURL }
func (c *Config) GetAMQPExchange() string { return c.AMQPExchange }
func (c *Config) IsBrokerEnabled() bool   { return c.AMQPURL != "" }

// AIConfig implementation
func (c *Config) GetMoonshotAPIKey() string { return c.MoonshotAPIKey }
func (c *Config) GetMoonshotModel() string  { return c.MoonshotModel }
func (c *Config) IsInsightsEnabled() bool   { return c.MoonshotAPIKey != "" }

// IngestConfig implementation
func (c *Config) GetDefaultTimezone() string    { return c.DefaultTimezone }
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }
func (c *Config) GetWebhookRateLimitPerMin() int {
	return c.WebhookRateLimitPerMin
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:       mustInt(getEnv("DATABASE_MAX_CONNS", "25")),
		MigrationsEnabled:      strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		JWTAccessSecret:        getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		StaleScanCron:          getEnv("STALE_SCAN_CRON", "@every 1h"),
		StoreTimeout:           mustDuration(getEnv("STORE_TIMEOUT", "5s")),
		StoreReadRetries:       mustInt(getEnv("STORE_READ_RETRIES", "3")),
		ScoreConfigCacheTTL:    mustDuration(getEnv("SCORE_CONFIG_CACHE_TTL", "5m")),
		RecalculateWorkers:     mustInt(getEnv("RECALCULATE_WORKERS", "4")),
		AMQPURL:                getEnv("AMQP_URL", ""),
		AMQPExchange:           getEnv("AMQP_EXCHANGE", "crm.notifications"),
		MoonshotAPIKey:         getEnv("MOONSHOT_API_KEY", ""),
		MoonshotModel:          getEnv("MOONSHOT_MODEL", ""),
		DefaultTimezone:        getEnv("DEFAULT_TIMEZONE", "America/Sao_Paulo"),
		PhoneDefaultRegion:     getEnv("PHONE_DEFAULT_REGION", "BR"),
		WebhookRateLimitPerMin: mustInt(getEnv("WEBHOOK_RATE_LIMIT_PER_MIN", "120")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.StoreTimeout <= 0 {
		return nil, fmt.Errorf("STORE_TIMEOUT must be a positive duration")
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("DEFAULT_TIMEZONE is invalid: %w", err)
	}
	if cfg.RecalculateWorkers < 1 {
		cfg.RecalculateWorkers = 1
	}
	if cfg.DatabaseMaxConns < 1 {
		cfg.DatabaseMaxConns = 25
	}
	if cfg.StoreReadRetries < 1 {
		cfg.StoreReadRetries = 1
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
	result, err := strconv.Atoi(strings.TrimSpace(value))
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
