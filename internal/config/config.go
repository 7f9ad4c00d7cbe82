package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings. Values come from the environment
// with development defaults.
type Config struct {
	ServerPort string

	// Storage backend: "postgres" or "bolt" (embedded file store).
	StoreBackend string
	BoltPath     string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// ProcessorURL is the base URL of the external payment processor.
	// When empty the embedded simulator is mounted and used instead.
	ProcessorURL string

	// Outbound retry policy: attempt count and the base of the
	// exponential backoff (delay = base * 2^(attempt-1)).
	ProcessorAttempts    int
	ProcessorBackoffBase time.Duration

	// ChallengeTTL is how long a pending 3-D Secure challenge may stay
	// unresolved before it expires as FAILED.
	ChallengeTTL time.Duration

	// ResolveDelay simulates processing time between a completed
	// challenge and its success notification.
	ResolveDelay time.Duration

	// NotifyDelay is the simulator's delay before delivering a direct
	// outcome notification.
	NotifyDelay time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),

		StoreBackend: getEnv("STORE_BACKEND", "postgres"),
		BoltPath:     getEnv("BOLT_PATH", "payment-gateway.db"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "payment_gateway"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ProcessorURL:         getEnv("PROCESSOR_URL", ""),
		ProcessorAttempts:    getEnvInt("PROCESSOR_ATTEMPTS", 3),
		ProcessorBackoffBase: getEnvDuration("PROCESSOR_BACKOFF_BASE", 200*time.Millisecond),

		ChallengeTTL: getEnvDuration("CHALLENGE_TTL", 5*time.Minute),
		ResolveDelay: getEnvDuration("RESOLVE_DELAY", 2*time.Second),
		NotifyDelay:  getEnvDuration("NOTIFY_DELAY", 100*time.Millisecond),
	}
}

// GetDBConnectionString builds a lib/pq connection string.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
