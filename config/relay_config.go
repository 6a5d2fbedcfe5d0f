package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "relay"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Storage
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Admin API
	AdminJWTSecret  string
	AllowedOrigins  []string
	BodyLimitBytes  int
	RateLimitPerMin int

	// Webhook
	WebhookURL         string
	WebhookAllowedHost string
	WebhookTimeout     time.Duration

	// Payload
	PayloadPrefix    string
	ExcludedFormIDs  []int64
	RulesetFile      string
	DefaultFormTitle string
	Timezone         string
	CheckedMarkers   []string

	// Worker
	WorkerID         string
	WorkerCount      int
	WorkerQueueSize  int
	WorkerMaxRetries int

	// Consumer (Redis Stream)
	StreamGroup             string
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// Cache
	SettingsCacheTTL time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "formrelay"),
		RedisURL:    getEnv("REDIS_URL", ""),

		AdminJWTSecret:  getEnv("ADMIN_JWT_SECRET", ""),
		AllowedOrigins:  getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		BodyLimitBytes:  getEnvInt("BODY_LIMIT_BYTES", 1<<20),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 120),

		WebhookURL:         getEnv("WEBHOOK_URL", ""),
		WebhookAllowedHost: getEnv("WEBHOOK_ALLOWED_HOST", "hooks.zapier.com"),
		WebhookTimeout:     time.Duration(getEnvInt("WEBHOOK_TIMEOUT_SEC", 5)) * time.Second,

		PayloadPrefix:    getEnv("PAYLOAD_PREFIX", ""),
		RulesetFile:      getEnv("RULESET_FILE", ""),
		DefaultFormTitle: getEnv("DEFAULT_FORM_TITLE", "Untitled"),
		Timezone:         getEnv("TIMEZONE", "UTC"),
		CheckedMarkers:   getEnvSlice("CHECKED_MARKERS", []string{"Checked", "Zaznaczone"}),

		WorkerID:         getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:      getEnvInt("WORKER_COUNT", 4),
		WorkerQueueSize:  getEnvInt("WORKER_QUEUE_SIZE", 1000),
		WorkerMaxRetries: getEnvInt("WORKER_MAX_RETRIES", 3),

		StreamGroup:             getEnv("STREAM_GROUP", "relay-workers"),
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 20),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 60),

		SettingsCacheTTL: time.Duration(getEnvInt("SETTINGS_CACHE_TTL_SEC", 300)) * time.Second,
	}

	ids, err := getEnvInt64Slice("EXCLUDED_FORM_IDS")
	if err != nil {
		return nil, err
	}
	cfg.ExcludedFormIDs = ids

	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma separated value, trimming blanks.
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt64Slice(key string) ([]int64, error) {
	var out []int64
	for _, part := range getEnvSlice(key, nil) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid form id %q", key, part)
		}
		out = append(out, id)
	}
	return out, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UseStreams reports whether deliveries go through Redis Streams.
func (c *Config) UseStreams() bool {
	return c.RedisURL != "" && !getEnvBool("DISABLE_STREAMS", false)
}
