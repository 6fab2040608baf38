package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marionette.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
browser:
  driver: rod
  headless: false
retry:
  timeout_max: 10s
match:
  timeout_idle: 2s
checkpoint:
  store: sqlite
  sqlite: /tmp/cp.db
  pii: ["^password", "^card"]
map_concurrency: 8
extensions:
  ocr: 1.4.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, DriverRod, cfg.Browser.Driver)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 10*time.Second, cfg.Retry.TimeoutMax)
	assert.Equal(t, Default().Retry.TimeoutMin, cfg.Retry.TimeoutMin, "unset keys keep their defaults")
	assert.Equal(t, 2*time.Second, cfg.Match.TimeoutIdle)
	assert.Equal(t, StoreSQLite, cfg.Checkpoint.Store)
	assert.Equal(t, "/tmp/cp.db", cfg.Checkpoint.SQLite)
	assert.Equal(t, []string{"^password", "^card"}, cfg.Checkpoint.PII)
	assert.Equal(t, 8, cfg.MapConcurrency)
	assert.Equal(t, map[string]string{"ocr": "1.4.0"}, cfg.Extensions)
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")
	t.Setenv("MARIONETTE_LOG_LEVEL", "error")
	t.Setenv("MARIONETTE_BROWSER_HEADLESS", "false")
	t.Setenv("MARIONETTE_CHECKPOINT_INTERVAL", "1m")
	t.Setenv("MARIONETTE_MAP_CONCURRENCY", "2")
	t.Setenv("MARIONETTE_CHECKPOINT_STORE", "redis")
	t.Setenv("MARIONETTE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, time.Minute, cfg.Checkpoint.Interval)
	assert.Equal(t, 2, cfg.MapConcurrency)
	assert.Equal(t, StoreRedis, cfg.Checkpoint.Store)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Checkpoint.RedisURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "colour: red\n"},
		{"unknown driver", "browser:\n  driver: netscape\n"},
		{"unknown store", "checkpoint:\n  store: floppy\n"},
		{"redis without url", "checkpoint:\n  store: redis\n"},
		{"bad duration", "retry:\n  interval: soon\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"zero concurrency", "map_concurrency: 0\n"},
		{"not yaml", "log: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	raw := map[string]any{"log": map[string]any{"format": "json"}}
	env := map[string]string{"MARIONETTE_LOG_LEVEL": "debug", "MARIONETTE_SERVER_ADDR": ":9000"}
	applyEnv(raw, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, map[string]any{
		"log":    map[string]any{"format": "json", "level": "debug"},
		"server": map[string]any{"addr": ":9000"},
	}, raw)
}
