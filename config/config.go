package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide configuration for the pool daemon: the
// per-origin pool defaults, the admin HTTP surface, and the optional
// cross-process snapshot publisher.
type Config struct {
	// Server
	Env             string
	AdminAddr       string
	GracefulTimeout time.Duration

	// Pool defaults, applied to every origin unless a caller overrides
	// them for a specific origin.
	MaxConnectionsPerOrigin int
	ConnectTimeout          time.Duration
	IdleTimeout             time.Duration
	DialRatePerSecond       float64
	DialBurst               int

	// Cross-process snapshot publishing. Empty RedisURL disables it.
	RedisURL         string
	SnapshotTopic    string
	SnapshotInterval time.Duration

	EventLoops int

	LogLevel string
}

// Load reads configuration from environment variables and an optional
// .env file in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("POOL_GRACEFUL_TIMEOUT_SEC", 15)
	connectTimeoutSec := getEnvInt("POOL_CONNECT_TIMEOUT_SEC", 30)
	idleTimeoutSec := getEnvInt("POOL_IDLE_TIMEOUT_SEC", 90)
	snapshotIntervalSec := getEnvInt("POOL_SNAPSHOT_INTERVAL_SEC", 5)

	return &Config{
		Env:                     getEnv("ENV", "development"),
		AdminAddr:               getEnv("POOL_ADMIN_ADDR", ":8090"),
		GracefulTimeout:         time.Duration(gracefulSec) * time.Second,
		MaxConnectionsPerOrigin: getEnvInt("POOL_MAX_CONNECTIONS_PER_ORIGIN", 8),
		ConnectTimeout:          time.Duration(connectTimeoutSec) * time.Second,
		IdleTimeout:             time.Duration(idleTimeoutSec) * time.Second,
		DialRatePerSecond:       getEnvFloat("POOL_DIAL_RATE_PER_SEC", 0),
		DialBurst:               getEnvInt("POOL_DIAL_BURST", 4),
		RedisURL:                getEnv("REDIS_URL", ""),
		SnapshotTopic:           getEnv("POOL_SNAPSHOT_TOPIC", "httpclient:pool:snapshots"),
		SnapshotInterval:        time.Duration(snapshotIntervalSec) * time.Second,
		EventLoops:              getEnvInt("POOL_EVENT_LOOPS", 4),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// PoolConfig narrows Config down to what pool.Config needs, letting
// callers that want per-origin overrides start from the process
// defaults.
type PoolConfig struct {
	MaxConnections int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

func (c *Config) PoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections: c.MaxConnectionsPerOrigin,
		ConnectTimeout: c.ConnectTimeout,
		IdleTimeout:    c.IdleTimeout,
	}
}

// SnapshotEnabled reports whether cross-process snapshot publishing is
// configured.
func (c *Config) SnapshotEnabled() bool {
	return c.RedisURL != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
