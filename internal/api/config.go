package api

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	Token           string // bearer token for pull/ack; empty disables auth
	AdminToken      string // bearer token for PUT/DELETE; defaults to Token
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitPull  int // GET /toggles per client per minute (default: 120)
	RateLimitPush  int // POST /toggles/ack per client per minute (default: 60)
	RateLimitAdmin int // admin writes per client per minute (default: 300)
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/toggles.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitPull:  120,
		RateLimitPush:  60,
		RateLimitAdmin: 300,
	}

	if v := os.Getenv("TOGGLE_SYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TOGGLE_SYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TOGGLE_SYNC_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("TOGGLE_SYNC_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("TOGGLE_SYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("TOGGLE_SYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TOGGLE_SYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	setLimit := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	setLimit("TOGGLE_SYNC_RATE_LIMIT_PULL", &cfg.RateLimitPull)
	setLimit("TOGGLE_SYNC_RATE_LIMIT_PUSH", &cfg.RateLimitPush)
	setLimit("TOGGLE_SYNC_RATE_LIMIT_ADMIN", &cfg.RateLimitAdmin)

	return cfg
}

func (c Config) adminToken() string {
	if c.AdminToken != "" {
		return c.AdminToken
	}
	return c.Token
}
