package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPlatformAccessToken is the variable the credential is resolved from;
// error messages name it so operators know what to set.
const EnvPlatformAccessToken = "PLATFORM_ACCESS_TOKEN"

type Config struct {
	Platform Platform
	Cache    CacheConfig
	Retry    RetryConfig
	Server   ServerConfig
	Redis    RedisConfig
	Audit    AuditConfig
	Log      LogConfig
}

// Platform holds the resolved coordinates of the remote licensing endpoint.
// AccessToken is a pointer on purpose: an unset variable and a blank one are
// both "missing", but the distinction matters when reporting the failure.
type Platform struct {
	Endpoint       string
	AccessToken    *string
	ConnectTimeout time.Duration
}

type CacheConfig struct {
	// Backend selects the token cache: "memory" or "redis" (memory L1 + redis L2).
	Backend string
	TTL     time.Duration
	Prefix  string
}

type RetryConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	JitterFactor      float64
	RetryableStatuses []int
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// APIKeyHash is a bcrypt hash of the key callers must present.
	// Empty disables authentication on the facade.
	APIKeyHash string
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type AuditConfig struct {
	// DSN enables the Postgres fetch log when non-empty.
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Platform: Platform{
			Endpoint:       getEnv("PLATFORM_ENDPOINT", ""),
			AccessToken:    getEnvOptional("PLATFORM_ACCESS_TOKEN"),
			ConnectTimeout: getDurationEnv("PLATFORM_CONNECT_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			Backend: getEnv("CACHE_BACKEND", "memory"),
			TTL:     getDurationEnv("CACHE_TTL", time.Hour),
			Prefix:  getEnv("CACHE_PREFIX", "fusion_tokens"),
		},
		Retry: RetryConfig{
			MaxAttempts:       getIntEnv("RETRY_MAX_ATTEMPTS", 10),
			BaseDelay:         getDurationEnv("RETRY_BASE_DELAY", 450*time.Millisecond),
			MaxDelay:          getDurationEnv("RETRY_MAX_DELAY", 90*time.Second),
			JitterFactor:      getFloatEnv("RETRY_JITTER_FACTOR", 0.5),
			RetryableStatuses: getIntListEnv("RETRY_STATUSES", []int{408, 429, 500, 502, 503, 504}),
		},
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			Port:         getEnv("SERVER_PORT", "9443"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			APIKeyHash:   getEnv("BROKER_API_KEY_HASH", ""),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Audit: AuditConfig{
			DSN:             getEnv("AUDIT_DB_DSN", ""),
			MaxOpenConns:    getIntEnv("AUDIT_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("AUDIT_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("AUDIT_DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("AUDIT_DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Cache.Backend != "memory" && cfg.Cache.Backend != "redis" {
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOptional returns nil when the variable is unset or blank.
func getEnvOptional(key string) *string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntListEnv(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
