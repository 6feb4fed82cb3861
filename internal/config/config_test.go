package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// isolate points the loader at an empty config dir and clears VAMOS_* variables.
func isolate(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "VAMOS_") {
			key, _, _ := strings.Cut(kv, "=")
			t.Setenv(key, "")
		}
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.ReconnectAttempts)
	assert.Equal(t, int64(1_000_000_000), cfg.MaxUploadBytes)
	assert.Equal(t, []string{".mp4", ".mov", ".mkv", ".avi"}, cfg.AllowedExtensions)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("VAMOS_API_URL", "https://vamos.example.com")
	t.Setenv("VAMOS_REQUEST_TIMEOUT", "5s")
	t.Setenv("VAMOS_STALE_TIMEOUT", "2m")
	t.Setenv("VAMOS_RECONNECT_ATTEMPTS", "0")
	t.Setenv("VAMOS_LOG_LEVEL", "debug")
	t.Setenv("VAMOS_ALLOWED_EXTENSIONS", "MP4, webm")
	t.Setenv("VAMOS_PLAYER_ARGS", "--no-audio {url}")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://vamos.example.com", cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.StaleTimeout)
	assert.Equal(t, 0, cfg.ReconnectAttempts)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{".mp4", ".webm"}, cfg.AllowedExtensions)
	assert.Equal(t, []string{"--no-audio", "{url}"}, cfg.PlayerArgs)
}

func TestLoadFileThenEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api_url: http://backend:9000
upload_timeout: 90s
reconnect_attempts: 5
player: ffplay
player_args: ["-autoexit", "{url}"]
log_level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("VAMOS_CONFIG", path)
	t.Setenv("VAMOS_RECONNECT_ATTEMPTS", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000", cfg.APIURL)
	assert.Equal(t, 90*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 1, cfg.ReconnectAttempts, "env wins over file")
	assert.Equal(t, "ffplay", cfg.PlayerCommand)
	assert.Equal(t, []string{"-autoexit", "{url}"}, cfg.PlayerArgs)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	isolate(t)
	t.Setenv("VAMOS_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad duration", "VAMOS_REQUEST_TIMEOUT", "soon"},
		{"bad scheme", "VAMOS_API_URL", "ftp://host"},
		{"missing host", "VAMOS_API_URL", "http://"},
		{"negative attempts", "VAMOS_RECONNECT_ATTEMPTS", "-1"},
		{"zero stale window", "VAMOS_STALE_TIMEOUT", "0s"},
		{"bad size", "VAMOS_MAX_UPLOAD_BYTES", "1GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestConfigMarshalYAML(t *testing.T) {
	cfg := Defaults()
	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "api_url: http://localhost:8000")
	assert.Contains(t, text, "request_timeout: 30s")
	assert.Contains(t, text, "log_level: INFO")
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job started", "job_id", "abc")

	assert.Contains(t, stderr.String(), "job started")
	assert.NotContains(t, stderr.String(), "hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &record))
	assert.Equal(t, "job started", record["msg"])
	assert.Equal(t, "abc", record["job_id"])
}

func TestSetupLoggerFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vamos.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo, false)
	logger.Info("to file")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}
