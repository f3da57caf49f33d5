// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"postgate/internal/model"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	HTTPAddr     string
	CronToken    string

	TelegramBotToken string
	AllowedUsers     []int64
	AlertChatID      int64

	RedisURL string

	PublishTick    time.Duration
	IntakeTick     time.Duration
	LockTTLMinutes int
	AdapterTimeout time.Duration

	ErrorRateThreshold    int
	ErrorWindow           time.Duration
	CapViolationThreshold int

	APIRequestsPerSecond float64

	// Webhooks maps a platform to the relay endpoint its adapter posts to.
	Webhooks map[model.Platform]string
}

// Load reads configuration from environment variables. Each existing file in
// envFiles is loaded first; variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	token := os.Getenv("CRON_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("CRON_TOKEN is required")
	}

	cfg := &Config{
		DatabasePath:     envOr("DATABASE_PATH", "./data/postgate.db"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		CronToken:        token,
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		RedisURL:         os.Getenv("REDIS_URL"),
		Webhooks:         make(map[model.Platform]string),
	}

	var err error
	if cfg.AllowedUsers, err = parseIDs(os.Getenv("ALLOWED_USERS")); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(os.Getenv("ALERT_CHAT_ID")); raw != "" {
		if cfg.AlertChatID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid ALERT_CHAT_ID %q: %w", raw, err)
		}
	}

	if cfg.PublishTick, err = durationEnv("PUBLISH_TICK", time.Minute); err != nil {
		return nil, err
	}
	if cfg.IntakeTick, err = durationEnv("INTAKE_TICK", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AdapterTimeout, err = durationEnv("ADAPTER_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.ErrorWindow, err = durationEnv("ERROR_WINDOW", time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockTTLMinutes, err = intEnv("LOCK_TTL_MINUTES", 5); err != nil {
		return nil, err
	}
	if cfg.ErrorRateThreshold, err = intEnv("ERROR_RATE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.CapViolationThreshold, err = intEnv("CAP_VIOLATION_THRESHOLD", 3); err != nil {
		return nil, err
	}
	if cfg.APIRequestsPerSecond, err = floatEnv("API_RPS", 10); err != nil {
		return nil, err
	}

	for _, p := range model.Platforms {
		if url := strings.TrimSpace(os.Getenv("WEBHOOK_" + strings.ToUpper(string(p)))); url != "" {
			cfg.Webhooks[p] = url
		}
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// An empty list admits nobody.
func (c *Config) IsUserAllowed(userID int64) bool {
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, raw)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, raw)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive number", key, raw)
	}
	return f, nil
}
