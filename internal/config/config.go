package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string            `yaml:"discord_token" validate:"required"`
	OwnerID       string            `yaml:"owner_id" validate:"omitempty,numeric"`
	DatabaseURL   string            `yaml:"database_url" validate:"required"`
	LogLevel      string            `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	RetentionDays int               `yaml:"retention_days" validate:"gte=1"`
	Health        HealthConfig      `yaml:"health"`
	Thresholds    Thresholds        `yaml:"thresholds"`
	Enforcement   EnforcementConfig `yaml:"enforcement"`
	Status        StatusConfig      `yaml:"status"`
	Lockdown      LockdownConfig    `yaml:"lockdown"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

type Thresholds struct {
	SpamMessages      int `yaml:"spam_messages" validate:"gte=1"`
	SpamWindowSeconds int `yaml:"spam_window_seconds" validate:"gte=1"`
	NukeActions       int `yaml:"nuke_actions" validate:"gte=1"`
	NukeWindowSeconds int `yaml:"nuke_window_seconds" validate:"gte=1"`
}

type EnforcementConfig struct {
	AuditGraceMS   int `yaml:"audit_grace_ms" validate:"gte=0,lte=10000"`
	TimeoutMinutes int `yaml:"timeout_minutes" validate:"gte=1,lte=40320"`
}

type StatusConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" validate:"gte=5"`
	BackoffSeconds  int `yaml:"backoff_seconds" validate:"gte=5"`
}

type LockdownConfig struct {
	DefaultMinutes int `yaml:"default_minutes" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:   "data/pdr-security.db",
		LogLevel:      "info",
		RetentionDays: 30,
		Health:        HealthConfig{Enabled: true, Addr: ":8080"},
		Thresholds: Thresholds{
			SpamMessages:      5,
			SpamWindowSeconds: 5,
			NukeActions:       3,
			NukeWindowSeconds: 10,
		},
		Enforcement: EnforcementConfig{AuditGraceMS: 500, TimeoutMinutes: 10},
		Status:      StatusConfig{IntervalSeconds: 30, BackoffSeconds: 60},
		Lockdown:    LockdownConfig{DefaultMinutes: 0},
	}
}

// Load reads the configuration like Read and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read loads path (or CONFIG_PATH, then config.yaml) over the defaults and
// applies environment overrides without validating.
func Read(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", envString("TOKEN", cfg.DiscordToken))
	cfg.OwnerID = envString("OWNER_ID", cfg.OwnerID)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Health.Addr = ":" + port
	}
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Thresholds.SpamMessages = envInt("SPAM_MESSAGES", cfg.Thresholds.SpamMessages)
	cfg.Thresholds.SpamWindowSeconds = envInt("SPAM_WINDOW_SECONDS", cfg.Thresholds.SpamWindowSeconds)
	cfg.Thresholds.NukeActions = envInt("NUKE_ACTIONS", cfg.Thresholds.NukeActions)
	cfg.Thresholds.NukeWindowSeconds = envInt("NUKE_WINDOW_SECONDS", cfg.Thresholds.NukeWindowSeconds)
	cfg.Enforcement.AuditGraceMS = envInt("AUDIT_GRACE_MS", cfg.Enforcement.AuditGraceMS)
	cfg.Enforcement.TimeoutMinutes = envInt("TIMEOUT_MINUTES", cfg.Enforcement.TimeoutMinutes)
	cfg.Status.IntervalSeconds = envInt("STATUS_INTERVAL_SECONDS", cfg.Status.IntervalSeconds)
	cfg.Status.BackoffSeconds = envInt("STATUS_BACKOFF_SECONDS", cfg.Status.BackoffSeconds)
	cfg.Lockdown.DefaultMinutes = envInt("LOCKDOWN_MINUTES", cfg.Lockdown.DefaultMinutes)
}

func (t Thresholds) SpamWindow() time.Duration {
	return time.Duration(t.SpamWindowSeconds) * time.Second
}

func (t Thresholds) NukeWindow() time.Duration {
	return time.Duration(t.NukeWindowSeconds) * time.Second
}

func (e EnforcementConfig) AuditGrace() time.Duration {
	return time.Duration(e.AuditGraceMS) * time.Millisecond
}

func (e EnforcementConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMinutes) * time.Minute
}

func (s StatusConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s StatusConfig) Backoff() time.Duration {
	return time.Duration(s.BackoffSeconds) * time.Second
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
