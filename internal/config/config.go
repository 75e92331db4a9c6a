// Package config loads the connector hub configuration from environment
// variables with sensible defaults. A .env file in the working directory is
// honored when present.
//
// Environment Variables:
//
// Application Settings:
//   - LOG_LEVEL: Logging level (default: info)
//
// Storage Configuration:
//   - STORAGE_BACKEND: Token storage backend - "memory", "redis" or "postgres" (default: memory)
//   - POSTGRES_DSN: PostgreSQL connection string (required if using postgres)
//
// Redis Configuration (token storage and refresh coordination):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Token Encryption:
//   - TOKEN_ENCRYPTION_KEY: Active encryption key, 64 hex characters (optional;
//     tokens are stored as plaintext JSON when unset)
//   - TOKEN_ENCRYPTION_PREVIOUS_KEYS: Comma-separated retired keys still
//     accepted for decryption
//
// Refresh Behavior:
//   - TOKEN_RETENTION_BUFFER: How long expired tokens stay readable (default: 5m)
//   - PRE_REFRESH_MARGIN: Refresh tokens this long before expiry (default: 5m)
//   - REFRESH_LOCK_TTL: Distributed lease duration (default: 10s)
//   - REFRESH_WAIT_TIMEOUT: How long a waiter polls a held lease (default: 5s)
//   - REFRESH_SWEEP_SCHEDULE: Cron spec for the proactive refresh sweep (default: @every 5m)
//
// Outbound HTTP:
//   - HTTP_TIMEOUT: Per-request timeout (default: 30s)
//   - HTTP_MAX_RETRIES: Retry attempts after the first (default: 3)
//   - HTTP_RETRY_BASE_DELAY: First backoff step (default: 1s)
//   - HTTP_RETRY_MAX_DELAY: Backoff cap (default: 30s)
//   - BREAKER_THRESHOLD: Consecutive failures before the circuit opens (default: 5)
//   - BREAKER_RESET_TIMEOUT: Cooldown before the circuit closes again (default: 60s)
//   - ETAG_CACHE_TTL: Conditional-request cache entry lifetime (default: 1h)
//   - ETAG_CACHE_MAX_SIZE: Conditional-request cache capacity (default: 1000)
//   - RATE_LIMIT_CONCURRENCY: Default per-provider concurrency cap (default: 5)
//   - RATE_LIMIT_PER_SECOND: Default per-provider request rate (default: 2)
//
// OAuth provider registrations are read per provider with an uppercased
// prefix, e.g. GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET, GITHUB_AUTH_URL,
// GITHUB_TOKEN_URL, GITHUB_SCOPES (comma separated).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"connector-hub/internal/circuitbreaker"
	"connector-hub/internal/etagcache"
	"connector-hub/internal/oauth2client"
	"connector-hub/internal/ratelimit"
	"connector-hub/internal/redisx"
	"connector-hub/internal/refreshlock"
	"connector-hub/internal/storage"
	"connector-hub/internal/tokenstore"
)

// Config holds all configuration values for the connector hub
type Config struct {
	LogLevel string

	// Storage
	StorageBackend string
	PostgresDSN    string

	// Redis
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Encryption
	TokenEncryptionKey          string
	TokenEncryptionPreviousKeys []string

	// Refresh behavior
	TokenRetentionBuffer time.Duration
	PreRefreshMargin     time.Duration
	RefreshLockTTL       time.Duration
	RefreshWaitTimeout   time.Duration
	RefreshSweepSchedule string

	// Outbound HTTP
	HTTPTimeout          time.Duration
	HTTPMaxRetries       int
	HTTPRetryBaseDelay   time.Duration
	HTTPRetryMaxDelay    time.Duration
	BreakerThreshold     int
	BreakerResetTimeout  time.Duration
	ETagCacheTTL         time.Duration
	ETagCacheMaxSize     int
	RateLimitConcurrency int64
	RateLimitPerSecond   float64
}

// Load reads configuration from the environment, consulting a .env file when
// one exists. The result is not validated; call Validate before use.
func Load() *Config {
	_ = godotenv.Load()

	breaker := circuitbreaker.DefaultConfig()

	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StorageBackend: getEnv("STORAGE_BACKEND", "memory"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		TokenEncryptionKey:          getEnv("TOKEN_ENCRYPTION_KEY", ""),
		TokenEncryptionPreviousKeys: getListEnv("TOKEN_ENCRYPTION_PREVIOUS_KEYS"),

		TokenRetentionBuffer: getDurationEnv("TOKEN_RETENTION_BUFFER", tokenstore.DefaultRetentionBuffer),
		PreRefreshMargin:     getDurationEnv("PRE_REFRESH_MARGIN", 5*time.Minute),
		RefreshLockTTL:       getDurationEnv("REFRESH_LOCK_TTL", refreshlock.DefaultLeaseTTL),
		RefreshWaitTimeout:   getDurationEnv("REFRESH_WAIT_TIMEOUT", refreshlock.DefaultWaitTimeout),
		RefreshSweepSchedule: getEnv("REFRESH_SWEEP_SCHEDULE", "@every 5m"),

		HTTPTimeout:          getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		HTTPMaxRetries:       getIntEnv("HTTP_MAX_RETRIES", 3),
		HTTPRetryBaseDelay:   getDurationEnv("HTTP_RETRY_BASE_DELAY", time.Second),
		HTTPRetryMaxDelay:    getDurationEnv("HTTP_RETRY_MAX_DELAY", 30*time.Second),
		BreakerThreshold:     getIntEnv("BREAKER_THRESHOLD", breaker.Threshold),
		BreakerResetTimeout:  getDurationEnv("BREAKER_RESET_TIMEOUT", breaker.ResetTimeout),
		ETagCacheTTL:         getDurationEnv("ETAG_CACHE_TTL", etagcache.DefaultTTL),
		ETagCacheMaxSize:     getIntEnv("ETAG_CACHE_MAX_SIZE", etagcache.DefaultMaxSize),
		RateLimitConcurrency: int64(getIntEnv("RATE_LIMIT_CONCURRENCY", 5)),
		RateLimitPerSecond:   getFloatEnv("RATE_LIMIT_PER_SECOND", 2),
	}
}

// Validate checks that the configuration can actually boot the hub
func (c *Config) Validate() error {
	switch storage.Kind(c.StorageBackend) {
	case storage.KindMemory, storage.KindRedis:
	case storage.KindPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORAGE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 'memory', 'redis' or 'postgres'")
	}

	if c.StorageBackend == string(storage.KindRedis) && c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when STORAGE_BACKEND is redis")
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	if c.TokenEncryptionKey != "" && len(c.TokenEncryptionKey) != 64 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}
	for _, key := range c.TokenEncryptionPreviousKeys {
		if len(key) != 64 {
			return fmt.Errorf("every TOKEN_ENCRYPTION_PREVIOUS_KEYS entry must be 64 hex characters")
		}
	}

	if c.HTTPMaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES must not be negative")
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("BREAKER_THRESHOLD must be at least 1")
	}
	if c.ETagCacheMaxSize < 1 {
		return fmt.Errorf("ETAG_CACHE_MAX_SIZE must be at least 1")
	}
	if c.RateLimitConcurrency < 1 {
		return fmt.Errorf("RATE_LIMIT_CONCURRENCY must be at least 1")
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SECOND must be positive")
	}

	return nil
}

// RedisConfig builds the Redis client configuration
func (c *Config) RedisConfig() *redisx.Config {
	return &redisx.Config{
		Address:  c.RedisAddress,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		PoolSize: c.RedisPoolSize,
	}
}

// StorageConfig builds the token storage configuration
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Kind:        storage.Kind(c.StorageBackend),
		Redis:       c.RedisConfig(),
		PostgresDSN: c.PostgresDSN,
	}
}

// RateLimitConfig builds the default per-provider rate limits
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Concurrency:       c.RateLimitConcurrency,
		RequestsPerSecond: c.RateLimitPerSecond,
	}
}

// OAuthProvider reads the OAuth client registration for one provider, e.g.
// provider "github" reads GITHUB_CLIENT_ID and friends. The second return is
// false when no registration exists.
func (c *Config) OAuthProvider(provider string) (oauth2client.ProviderConfig, bool) {
	prefix := strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_"
	clientID := getEnv(prefix+"CLIENT_ID", "")
	if clientID == "" {
		return oauth2client.ProviderConfig{}, false
	}
	return oauth2client.ProviderConfig{
		ClientID:     clientID,
		ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
		AuthURL:      getEnv(prefix+"AUTH_URL", ""),
		TokenURL:     getEnv(prefix+"TOKEN_URL", ""),
		Scopes:       getListEnv(prefix + "SCOPES"),
	}, true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
