package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"komnata/internal/chat"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, "komnata.db", cfg.DBFile)
		require.Equal(t, ":8080", cfg.APIAddr)
		require.Equal(t, 24*time.Hour, cfg.TokenExpiry)
		require.Equal(t, 3, cfg.ProfileRetry.Attempts)
		require.Equal(t, 500*time.Millisecond, cfg.ProfileRetry.Interval)
		require.Equal(t, chat.AutoSelectWhenEmpty, cfg.AutoSelect)
		require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	})

	t.Run("FromEnvironment", func(t *testing.T) {
		t.Setenv("KOMNATA_DB", "/tmp/k.db")
		t.Setenv("TOKEN_EXPIRY", "1h")
		t.Setenv("PROFILE_RETRY_ATTEMPTS", "5")
		t.Setenv("PROFILE_RETRY_INTERVAL", "1s")
		t.Setenv("AUTO_SELECT", "once")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, "/tmp/k.db", cfg.DBFile)
		require.Equal(t, time.Hour, cfg.TokenExpiry)
		require.Equal(t, 5, cfg.ProfileRetry.Attempts)
		require.Equal(t, time.Second, cfg.ProfileRetry.Interval)
		require.Equal(t, chat.AutoSelectOnce, cfg.AutoSelect)
		require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	})

	t.Run("Invalid", func(t *testing.T) {
		cases := map[string]string{
			"TOKEN_EXPIRY":           "soon",
			"PROFILE_RETRY_ATTEMPTS": "many",
			"PROFILE_RETRY_INTERVAL": "-1s",
			"AUTO_SELECT":            "sometimes",
			"LOG_LEVEL":              "loud",
		}
		for key, value := range cases {
			t.Run(key, func(t *testing.T) {
				t.Setenv(key, value)
				_, err := Load()
				require.Error(t, err)
			})
		}
	})

	t.Run("ZeroExpiry", func(t *testing.T) {
		t.Setenv("TOKEN_EXPIRY", "0s")
		_, err := Load()
		require.ErrorContains(t, err, "TOKEN_EXPIRY")
	})
}
