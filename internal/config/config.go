// Package config centralises configuration parsing for the fittrack binaries.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration values.
type Config struct {
	HTTPAddress        string
	MetricsAddress     string
	PostgresURL        string // Empty selects the in-memory store.
	RedisURL           string // Empty disables cross-instance import locking.
	KafkaBrokers       []string
	SchemaRegistryURL  string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	JWTSecret          string
	JWTIssuer          string
	DLQPollInterval    time.Duration // Interval between DLQ polling iterations.
	DLQMaxRetries      int           // Maximum number of DLQ retry attempts before quarantine.
	DLQBaseDelay       time.Duration // Base delay used for exponential backoff.
	ConsumerGroupID    string
	ConsumerTopics     []string
	ConsumerRetries    int           // Handler attempts before a message is left uncommitted.
	ConsumerBackoff    time.Duration // Initial delay between handler attempts.
	CORSAllowedOrigin  string
	ImportCooldown     time.Duration
	Strava             StravaConfig
}

// StravaConfig holds OAuth client credentials for the Strava integration.
type StravaConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether the integration has credentials.
func (s StravaConfig) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// Load reads environment variables into Config, applying sensible defaults for local dev.
// A .env file in the working directory is honoured when present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":8080"),
		MetricsAddress:     getEnv("METRICS_ADDRESS", ":9102"),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		SchemaRegistryURL:  getEnv("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		OutboxPollInterval: getDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getIntEnv("OUTBOX_BATCH_SIZE", 25),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:          getEnv("JWT_ISSUER", "fittrack.identity"),
		DLQPollInterval:    getDurationEnv("DLQ_POLL_INTERVAL", 30*time.Second),
		DLQMaxRetries:      getIntEnv("DLQ_MAX_RETRIES", 5),
		DLQBaseDelay:       getDurationEnv("DLQ_BASE_DELAY", time.Minute),
		ConsumerGroupID:    getEnv("CONSUMER_GROUP_ID", "fittrack-feed-projector"),
		ConsumerRetries:    getIntEnv("CONSUMER_RETRIES", 3),
		ConsumerBackoff:    getDurationEnv("CONSUMER_BACKOFF", 250*time.Millisecond),
		CORSAllowedOrigin:  getEnv("CORS_ALLOWED_ORIGIN", "*"),
		ImportCooldown:     getDurationEnv("IMPORT_COOLDOWN", 15*time.Minute),
		Strava: StravaConfig{
			ClientID:     getEnv("STRAVA_CLIENT_ID", ""),
			ClientSecret: getEnv("STRAVA_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("STRAVA_REDIRECT_URL", "http://localhost:8080/v1/integrations/strava/callback"),
		},
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092"))
	cfg.ConsumerTopics = splitAndTrim(getEnv("CONSUMER_TOPICS", "activity_events,progress_events"))
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
