// Package config loads marionette.yaml and MARIONETTE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/retry"
)

// DefaultPath is read when no config file is given.
const DefaultPath = "marionette.yaml"

// Browser drivers.
const (
	DriverStatic     = "static"
	DriverRod        = "rod"
	DriverPlaywright = "playwright"
)

// Checkpoint stores.
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config holds all marionette settings.
type Config struct {
	Log        LogConfig           `mapstructure:"log"`
	Browser    BrowserConfig       `mapstructure:"browser"`
	Retry      retry.Config        `mapstructure:"retry"`
	Match      runtime.MatchConfig `mapstructure:"match"`
	Checkpoint CheckpointConfig    `mapstructure:"checkpoint"`
	Metrics    MetricsConfig       `mapstructure:"metrics"`
	Server     ServerConfig        `mapstructure:"server"`

	// MapConcurrency bounds parallel element evaluation in pipelines.
	MapConcurrency int `mapstructure:"map_concurrency"`

	// Extensions lists installed extensions by name and version.
	Extensions map[string]string `mapstructure:"extensions"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BrowserConfig selects the Page implementation.
type BrowserConfig struct {
	Driver   string `mapstructure:"driver"`
	Headless bool   `mapstructure:"headless"`
	// ControlURL connects to a running browser instead of launching one (rod).
	ControlURL string `mapstructure:"control_url"`
	// Bin overrides the browser executable.
	Bin     string        `mapstructure:"bin"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CheckpointConfig selects and secures the checkpoint store.
type CheckpointConfig struct {
	Store    string        `mapstructure:"store"`
	Dir      string        `mapstructure:"dir"`
	RedisURL string        `mapstructure:"redis_url"`
	SQLite   string        `mapstructure:"sqlite"`
	TTL      time.Duration `mapstructure:"ttl"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	// Interval is the minimum time between automatic checkpoints.
	Interval time.Duration `mapstructure:"interval"`
	// EncryptionKey is a base64 AES-256 key; empty disables encryption.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
	// PII lists regular expressions of global names masked before saving.
	PII []string `mapstructure:"pii"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Browser: BrowserConfig{Driver: DriverStatic, Headless: true, Timeout: 30 * time.Second},
		Retry:   retry.DefaultConfig(),
		Match:   runtime.DefaultMatchConfig(),
		Checkpoint: CheckpointConfig{
			Store:    StoreFile,
			Dir:      ".marionette/checkpoints",
			SQLite:   ".marionette/checkpoints.db",
			LockTTL:  30 * time.Second,
			Interval: 5 * time.Second,
		},
		Metrics:        MetricsConfig{Enabled: true},
		Server:         ServerConfig{Addr: ":8080"},
		MapConcurrency: runtime.DefaultMapConcurrency,
	}
}

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	"MARIONETTE_LOG_LEVEL":           "log.level",
	"MARIONETTE_LOG_FORMAT":          "log.format",
	"MARIONETTE_BROWSER_DRIVER":      "browser.driver",
	"MARIONETTE_BROWSER_HEADLESS":    "browser.headless",
	"MARIONETTE_BROWSER_CONTROL_URL": "browser.control_url",
	"MARIONETTE_BROWSER_BIN":         "browser.bin",
	"MARIONETTE_CHECKPOINT_STORE":    "checkpoint.store",
	"MARIONETTE_CHECKPOINT_DIR":      "checkpoint.dir",
	"MARIONETTE_CHECKPOINT_INTERVAL": "checkpoint.interval",
	"MARIONETTE_REDIS_URL":           "checkpoint.redis_url",
	"MARIONETTE_SQLITE_PATH":         "checkpoint.sqlite",
	"MARIONETTE_ENCRYPTION_KEY":      "checkpoint.encryption_key",
	"MARIONETTE_METRICS_ENABLED":     "metrics.enabled",
	"MARIONETTE_SERVER_ADDR":         "server.addr",
	"MARIONETTE_MAP_CONCURRENCY":     "map_concurrency",
	"MARIONETTE_RETRY_TIMEOUT_MAX":   "retry.timeout_max",
	"MARIONETTE_MATCH_TIMEOUT_MAX":   "match.timeout_max",
}

// Load reads path over the defaults and applies environment overrides.
// A missing file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	raw := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	applyEnv(raw, os.LookupEnv)

	cfg := Default()
	if err := decode(raw, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// applyEnv writes every set variable of envKeys into raw at its dotted key.
func applyEnv(raw map[string]any, lookup func(string) (string, bool)) {
	for env, key := range envKeys {
		v, ok := lookup(env)
		if !ok || v == "" {
			continue
		}
		parts := strings.Split(key, ".")
		m := raw
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
}

// Validate checks enumerations and bounds.
func (c *Config) Validate() error {
	switch c.Browser.Driver {
	case DriverStatic, DriverRod, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver: unknown driver %q", c.Browser.Driver)
	}
	switch c.Checkpoint.Store {
	case StoreNone, StoreMemory, StoreFile, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("checkpoint.store: unknown store %q", c.Checkpoint.Store)
	}
	if c.Checkpoint.Store == StoreRedis && c.Checkpoint.RedisURL == "" {
		return fmt.Errorf("checkpoint.redis_url is required for the redis store")
	}
	if c.MapConcurrency < 1 {
		return fmt.Errorf("map_concurrency: must be at least 1, got %d", c.MapConcurrency)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Logger builds the application logger.
func (c *Config) Logger() *slog.Logger {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.New(logging.Options{Level: level, Format: c.Log.Format})
}
