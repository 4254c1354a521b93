package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/membank/authserver/internal/config"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("AUTH_SIGNING__SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("AUTH_LISTEN_ADDR", ":9090")
	t.Setenv("AUTH_DATABASE__DSN", "file:test.db")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Signing.Secret)
	require.Equal(t, "file:test.db", cfg.Database.DSN)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "HS256", cfg.Signing.Method)
	require.Contains(t, cfg.IssuerURL, ":9090")
}

func TestValidate(t *testing.T) {
	base := func() *config.AppConfig {
		return &config.AppConfig{
			Signing:  config.SigningConfig{Method: "HS256", Secret: "0123456789abcdef0123456789abcdef"},
			Database: config.DatabaseConfig{Driver: "sqlite", DSN: "file:test.db"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("short HMAC secret", func(t *testing.T) {
		cfg := base()
		cfg.Signing.Secret = "too-short"
		require.Error(t, cfg.Validate())
	})

	t.Run("RS256 without key file", func(t *testing.T) {
		cfg := base()
		cfg.Signing = config.SigningConfig{Method: "RS256"}
		require.Error(t, cfg.Validate())
	})

	t.Run("unknown signing method", func(t *testing.T) {
		cfg := base()
		cfg.Signing.Method = "ES256"
		require.Error(t, cfg.Validate())
	})

	t.Run("unknown database driver", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "oracle"
		require.Error(t, cfg.Validate())
	})

	t.Run("dev users require dev mode", func(t *testing.T) {
		cfg := base()
		cfg.DevUsers = []config.DevUserConfig{{Email: "john@example.com"}}
		require.Error(t, cfg.Validate())

		cfg.DevMode = true
		require.NoError(t, cfg.Validate())
	})
}
