// Package config loads toggle settings from a YAML file with environment
// variable overrides.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvRemoteURL      = "TOGGLE_REMOTE_URL"
	EnvToken          = "TOGGLE_TOKEN"
	EnvDeviceID       = "TOGGLE_DEVICE_ID"
	EnvSyncInterval   = "TOGGLE_SYNC_INTERVAL"
	EnvBackoffBase    = "TOGGLE_BACKOFF_BASE"
	EnvBackoffMax     = "TOGGLE_BACKOFF_MAX"
	EnvRequestTimeout = "TOGGLE_REQUEST_TIMEOUT"
	EnvStorageBackend = "TOGGLE_STORAGE_BACKEND"
	EnvStoragePath    = "TOGGLE_STORAGE_PATH"
	EnvLogLevel       = "TOGGLE_LOG_LEVEL"
	EnvLogFormat      = "TOGGLE_LOG_FORMAT"
	EnvWebhookURL     = "TOGGLE_WEBHOOK_URL"
	EnvWebhookSecret  = "TOGGLE_WEBHOOK_SECRET"
	EnvConfigPath     = "TOGGLE_CONFIG"
)

// Defaults
const (
	DefaultSyncInterval   = 5 * time.Minute
	DefaultBackoffBase    = time.Second
	DefaultBackoffMax     = 5 * time.Minute
	DefaultRequestTimeout = 15 * time.Second
	DefaultBackend        = "file"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Config is the on-disk configuration.
type Config struct {
	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Webhook WebhookConfig `yaml:"webhook,omitempty"`
	Context ContextConfig `yaml:"context,omitempty"`
}

// RemoteConfig locates the remote source of truth.
type RemoteConfig struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token,omitempty"`
	DeviceID string `yaml:"device_id"`
}

// SyncConfig tunes the coordinator.
type SyncConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // file, sqlite, leveldb, memory
	Path    string `yaml:"path"`
}

// LogConfig configures slog for the binaries.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// WebhookConfig enables the analytics webhook sink.
type WebhookConfig struct {
	URL    string `yaml:"url,omitempty"`
	Secret string `yaml:"secret,omitempty"`
}

// ContextConfig is the default evaluation context used by the CLI.
type ContextConfig struct {
	UserID   string   `yaml:"user_id,omitempty"`
	GroupIDs []string `yaml:"group_ids,omitempty"`
}

// Dir returns the toggle config directory (~/.config/toggle).
func Dir() string {
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, "toggle")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "toggle")
}

// DefaultPath returns the config file path: $TOGGLE_CONFIG or Dir()/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			Interval:       DefaultSyncInterval,
			BackoffBase:    DefaultBackoffBase,
			BackoffMax:     DefaultBackoffMax,
			RequestTimeout: DefaultRequestTimeout,
		},
		Storage: StorageConfig{
			Backend: DefaultBackend,
			Path:    filepath.Join(Dir(), "data"),
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load reads path, fills defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults repairs zero values left by a partial file.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = d.Sync.Interval
	}
	if c.Sync.BackoffBase <= 0 {
		c.Sync.BackoffBase = d.Sync.BackoffBase
	}
	if c.Sync.BackoffMax <= 0 {
		c.Sync.BackoffMax = d.Sync.BackoffMax
	}
	if c.Sync.RequestTimeout <= 0 {
		c.Sync.RequestTimeout = d.Sync.RequestTimeout
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString(EnvRemoteURL, &cfg.Remote.URL)
	setString(EnvToken, &cfg.Remote.Token)
	setString(EnvDeviceID, &cfg.Remote.DeviceID)
	setString(EnvStorageBackend, &cfg.Storage.Backend)
	setString(EnvStoragePath, &cfg.Storage.Path)
	setString(EnvLogLevel, &cfg.Log.Level)
	setString(EnvLogFormat, &cfg.Log.Format)
	setString(EnvWebhookURL, &cfg.Webhook.URL)
	setString(EnvWebhookSecret, &cfg.Webhook.Secret)

	for key, dst := range map[string]*time.Duration{
		EnvSyncInterval:   &cfg.Sync.Interval,
		EnvBackoffBase:    &cfg.Sync.BackoffBase,
		EnvBackoffMax:     &cfg.Sync.BackoffMax,
		EnvRequestTimeout: &cfg.Sync.RequestTimeout,
	} {
		if err := setDuration(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "file", "sqlite", "leveldb", "memory":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_max (%s) is below sync.backoff_base (%s)", c.Sync.BackoffMax, c.Sync.BackoffBase)
	}
	return nil
}

// EnsureDeviceID assigns a random device ID when none is set.
// Returns true when the config changed and should be saved.
func (c *Config) EnsureDeviceID() bool {
	if c.Remote.DeviceID != "" {
		return false
	}
	c.Remote.DeviceID = uuid.NewString()
	return true
}

// Save writes the config to disk using atomic write (temp file + rename).
// The file may hold a token, so it is created 0600.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.yaml.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}

// Handler builds the slog handler described by l, writing to w.
// Unknown levels fall back to info; any format other than json is text.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(l.Format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
