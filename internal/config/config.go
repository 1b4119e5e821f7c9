package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	CORSOrigins string
	TablePrefix string

	// EventBackend selects the event log implementation: "postgres" (default
	// when DATABASE_URL is set) or "memory" for development without a database.
	EventBackend string

	// Retention defaults applied to every thread unless overridden per thread.
	RetentionMaxEntries int
	RetentionMaxAge     time.Duration

	// PublishTimeout bounds how long a workflow step may wait on the event
	// log before the publish is dropped as a logged no-op.
	PublishTimeout time.Duration

	// LLM configuration
	AnthropicAPIKey string
	DefaultModel    string

	// Debug enables verbose streaming diagnostics
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	dbURL := getEnv("DATABASE_URL", "")

	backend := getEnv("EVENT_BACKEND", "")
	if backend == "" {
		if dbURL != "" {
			backend = "postgres"
		} else {
			backend = "memory"
		}
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		DatabaseURL: dbURL,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix: getEnv("TABLE_PREFIX", ""),

		EventBackend: backend,

		RetentionMaxEntries: getEnvInt("RETENTION_MAX_ENTRIES", 1000),
		RetentionMaxAge:     getEnvDuration("RETENTION_MAX_AGE", 24*time.Hour),

		PublishTimeout: getEnvDuration("PUBLISH_TIMEOUT", 2*time.Second),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		DefaultModel:    getEnv("DEFAULT_MODEL", defaultModelForKey()),

		// Default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// defaultModelForKey picks the lorem development model when no Anthropic key
// is configured, so a fresh checkout streams without credentials.
func defaultModelForKey() string {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return "claude-haiku-4-5-20251001"
	}
	return "lorem-fast"
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
