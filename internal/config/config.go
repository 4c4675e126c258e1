package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv    string
	Port      string
	RedisURL  string
	LogLevel  string
	LogFormat string

	// DatabaseURL is optional; when empty the tiered rate limiter uses
	// the default tier for every user instead of a Postgres lookup.
	DatabaseURL string

	HeartbeatInterval  time.Duration
	BroadcastQueueSize int

	// ConnectionMessageLimit caps inbound frames per connection per minute.
	ConnectionMessageLimit int

	MaxConnections      int64
	MaxConnectionsPerIP int

	// StreamSymbols and StreamInterval drive the market-data streamer.
	// An empty symbol list disables the streamer.
	StreamSymbols  []string
	StreamInterval time.Duration

	// VendorRequestsPerMinute / VendorBurst throttle outbound calls to the
	// upstream quote vendor.
	VendorRequestsPerMinute int
	VendorRequestsPerHour   int
	VendorBurst             int
	VendorCooldown          time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
	}

	var err error
	if cfg.HeartbeatInterval, err = getDuration("HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BroadcastQueueSize, err = getInt("BROADCAST_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.ConnectionMessageLimit, err = getInt("CONNECTION_MESSAGE_LIMIT", 100); err != nil {
		return nil, err
	}
	maxConns, err := getInt("MAX_CONNECTIONS", 10000)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnections = int64(maxConns)
	if cfg.MaxConnectionsPerIP, err = getInt("MAX_CONNECTIONS_PER_IP", 20); err != nil {
		return nil, err
	}
	if cfg.StreamInterval, err = getDuration("STREAM_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.VendorRequestsPerMinute, err = getInt("VENDOR_REQUESTS_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.VendorRequestsPerHour, err = getInt("VENDOR_REQUESTS_PER_HOUR", 1800); err != nil {
		return nil, err
	}
	if cfg.VendorBurst, err = getInt("VENDOR_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.VendorCooldown, err = getDuration("VENDOR_COOLDOWN", 60*time.Second); err != nil {
		return nil, err
	}

	if symbols := getEnv("STREAM_SYMBOLS", ""); symbols != "" {
		for _, s := range strings.Split(symbols, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				cfg.StreamSymbols = append(cfg.StreamSymbols, s)
			}
		}
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.HeartbeatInterval < time.Second {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL must be at least 1s, got %s", cfg.HeartbeatInterval)
	}
	if cfg.BroadcastQueueSize < 1 {
		return nil, fmt.Errorf("BROADCAST_QUEUE_SIZE must be positive, got %d", cfg.BroadcastQueueSize)
	}
	if cfg.ConnectionMessageLimit < 1 {
		return nil, fmt.Errorf("CONNECTION_MESSAGE_LIMIT must be positive, got %d", cfg.ConnectionMessageLimit)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 30s): %w", key, err)
	}
	return d, nil
}
