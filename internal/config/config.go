package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"komnata/internal/chat"
	"komnata/internal/profile"
)

type Config struct {
	DBFile       string
	AdminAddr    string
	APIAddr      string
	BaseURL      string
	TokenExpiry  time.Duration
	ProfileRetry profile.RetryPolicy
	AutoSelect   chat.AutoSelect
	LogLevel     slog.Level
}

func Load() (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}

	attempts, err := strconv.Atoi(getEnv("PROFILE_RETRY_ATTEMPTS", strconv.Itoa(profile.SignupReplication.Attempts)))
	if err != nil {
		return nil, fmt.Errorf("PROFILE_RETRY_ATTEMPTS: %w", err)
	}
	interval, err := time.ParseDuration(getEnv("PROFILE_RETRY_INTERVAL", profile.SignupReplication.Interval.String()))
	if err != nil {
		return nil, fmt.Errorf("PROFILE_RETRY_INTERVAL: %w", err)
	}

	autoSelect, err := chat.ParseAutoSelect(getEnv("AUTO_SELECT", "when_empty"))
	if err != nil {
		return nil, fmt.Errorf("AUTO_SELECT: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		DBFile:       getEnv("KOMNATA_DB", "komnata.db"),
		AdminAddr:    getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:      getEnv("API_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		TokenExpiry:  tokenExpiry,
		ProfileRetry: profile.RetryPolicy{Attempts: attempts, Interval: interval},
		AutoSelect:   autoSelect,
		LogLevel:     level,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("KOMNATA_DB must not be empty")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.ProfileRetry.Attempts < 0 {
		return fmt.Errorf("PROFILE_RETRY_ATTEMPTS must not be negative")
	}

	if c.ProfileRetry.Interval < 0 {
		return fmt.Errorf("PROFILE_RETRY_INTERVAL must not be negative")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
