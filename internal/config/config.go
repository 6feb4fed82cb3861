// Package config loads vamos settings from the environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAPIURL is the backend address used when nothing else is configured.
const DefaultAPIURL = "http://localhost:8000"

// Config holds all configuration values.
type Config struct {
	// Backend
	APIURL         string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration

	// Progress stream
	StaleTimeout      time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	TriggerRetryDelay time.Duration

	// Upload validation
	MaxUploadBytes    int64
	AllowedExtensions []string

	// Playback
	PlayerCommand string
	PlayerArgs    []string

	// Local job history
	HistoryPath string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		APIURL:            DefaultAPIURL,
		RequestTimeout:    30 * time.Second,
		UploadTimeout:     10 * time.Minute,
		StaleTimeout:      60 * time.Second,
		ReconnectAttempts: 3,
		ReconnectDelay:    time.Second,
		TriggerRetryDelay: 2 * time.Second,
		MaxUploadBytes:    1_000_000_000,
		AllowedExtensions: []string{".mp4", ".mov", ".mkv", ".avi"},
		PlayerCommand:     "mpv",
		PlayerArgs:        []string{"--force-window=yes", "{url}"},
		HistoryPath:       defaultDataPath("history.db"),
		LogFile:           filepath.Join(os.TempDir(), "vamos.log"),
		LogLevel:          slog.LevelInfo,
	}
}

// Load reads the optional YAML file, then applies environment overrides.
// The file is taken from VAMOS_CONFIG, falling back to ~/.config/vamos/config.yaml.
func Load() (Config, error) {
	cfg := Defaults()

	path, explicit := configPath()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func configPath() (string, bool) {
	if p := os.Getenv("VAMOS_CONFIG"); p != "" {
		return p, true
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(dir, "vamos", "config.yaml"), false
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return file.apply(c)
}

// fileConfig mirrors Config with strings for durations and level so YAML stays readable.
type fileConfig struct {
	APIURL            *string  `yaml:"api_url"`
	RequestTimeout    *string  `yaml:"request_timeout"`
	UploadTimeout     *string  `yaml:"upload_timeout"`
	StaleTimeout      *string  `yaml:"stale_timeout"`
	ReconnectAttempts *int     `yaml:"reconnect_attempts"`
	ReconnectDelay    *string  `yaml:"reconnect_delay"`
	TriggerRetryDelay *string  `yaml:"trigger_retry_delay"`
	MaxUploadBytes    *int64   `yaml:"max_upload_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	PlayerCommand     *string  `yaml:"player"`
	PlayerArgs        []string `yaml:"player_args"`
	HistoryPath       *string  `yaml:"history_db"`
	LogFile           *string  `yaml:"log_file"`
	LogLevel          *string  `yaml:"log_level"`
}

func (f fileConfig) apply(c *Config) error {
	if f.APIURL != nil {
		c.APIURL = *f.APIURL
	}
	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"request_timeout", f.RequestTimeout, &c.RequestTimeout},
		{"upload_timeout", f.UploadTimeout, &c.UploadTimeout},
		{"stale_timeout", f.StaleTimeout, &c.StaleTimeout},
		{"reconnect_delay", f.ReconnectDelay, &c.ReconnectDelay},
		{"trigger_retry_delay", f.TriggerRetryDelay, &c.TriggerRetryDelay},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	if f.ReconnectAttempts != nil {
		c.ReconnectAttempts = *f.ReconnectAttempts
	}
	if f.MaxUploadBytes != nil {
		c.MaxUploadBytes = *f.MaxUploadBytes
	}
	if len(f.AllowedExtensions) > 0 {
		c.AllowedExtensions = normalizeExtensions(f.AllowedExtensions)
	}
	if f.PlayerCommand != nil {
		c.PlayerCommand = *f.PlayerCommand
	}
	if f.PlayerArgs != nil {
		c.PlayerArgs = f.PlayerArgs
	}
	if f.HistoryPath != nil {
		c.HistoryPath = expandHome(*f.HistoryPath)
	}
	if f.LogFile != nil {
		c.LogFile = expandHome(*f.LogFile)
	}
	if f.LogLevel != nil {
		c.LogLevel = ParseLogLevel(*f.LogLevel)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.APIURL = getEnv("VAMOS_API_URL", c.APIURL)
	c.PlayerCommand = getEnv("VAMOS_PLAYER", c.PlayerCommand)
	if v := os.Getenv("VAMOS_PLAYER_ARGS"); v != "" {
		c.PlayerArgs = strings.Fields(v)
	}
	c.HistoryPath = expandHome(getEnv("VAMOS_HISTORY_DB", c.HistoryPath))
	c.LogFile = expandHome(getEnv("VAMOS_LOG_FILE", c.LogFile))
	if v := os.Getenv("VAMOS_LOG_LEVEL"); v != "" {
		c.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv("VAMOS_ALLOWED_EXTENSIONS"); v != "" {
		c.AllowedExtensions = normalizeExtensions(strings.Split(v, ","))
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"VAMOS_REQUEST_TIMEOUT", &c.RequestTimeout},
		{"VAMOS_UPLOAD_TIMEOUT", &c.UploadTimeout},
		{"VAMOS_STALE_TIMEOUT", &c.StaleTimeout},
		{"VAMOS_RECONNECT_DELAY", &c.ReconnectDelay},
		{"VAMOS_TRIGGER_RETRY_DELAY", &c.TriggerRetryDelay},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			if *d.dst, err = time.ParseDuration(v); err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
		}
	}
	if v := os.Getenv("VAMOS_RECONNECT_ATTEMPTS"); v != "" {
		if c.ReconnectAttempts, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("VAMOS_RECONNECT_ATTEMPTS: %w", err)
		}
	}
	if v := os.Getenv("VAMOS_MAX_UPLOAD_BYTES"); v != "" {
		if c.MaxUploadBytes, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("VAMOS_MAX_UPLOAD_BYTES: %w", err)
		}
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("api_url: missing host")
	}
	if c.RequestTimeout <= 0 || c.UploadTimeout <= 0 {
		return errors.New("request and upload timeouts must be positive")
	}
	if c.StaleTimeout <= 0 {
		return errors.New("stale_timeout must be positive")
	}
	if c.ReconnectAttempts < 0 {
		return errors.New("reconnect_attempts must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseLogLevel maps a level name onto slog, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func defaultDataPath(name string) string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "vamos", name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vamos", name)
	}
	return filepath.Join(home, ".local", "share", "vamos", name)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// MarshalYAML renders durations and the log level as text, matching the file format.
func (c Config) MarshalYAML() (any, error) {
	str := func(s string) *string { return &s }
	attempts, maxBytes := c.ReconnectAttempts, c.MaxUploadBytes
	return fileConfig{
		APIURL:            str(c.APIURL),
		RequestTimeout:    str(c.RequestTimeout.String()),
		UploadTimeout:     str(c.UploadTimeout.String()),
		StaleTimeout:      str(c.StaleTimeout.String()),
		ReconnectAttempts: &attempts,
		ReconnectDelay:    str(c.ReconnectDelay.String()),
		TriggerRetryDelay: str(c.TriggerRetryDelay.String()),
		MaxUploadBytes:    &maxBytes,
		AllowedExtensions: c.AllowedExtensions,
		PlayerCommand:     str(c.PlayerCommand),
		PlayerArgs:        c.PlayerArgs,
		HistoryPath:       str(c.HistoryPath),
		LogFile:           str(c.LogFile),
		LogLevel:          str(c.LogLevel.String()),
	}, nil
}
