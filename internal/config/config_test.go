package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("APP_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("AUTH_ACCESS_TOKEN_TTL_MINUTES", "")
	t.Setenv("TICKETS_STRICT_UPDATE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, "0.0.0.0:4000", cfg.App.Addr())
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL())
	assert.Equal(t, "dev-secret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Tickets.StrictUpdate)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/tickets")
	t.Setenv("JWT_SECRET", "legacy-secret")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("AUTH_ACCESS_TOKEN_TTL_MINUTES", "15")
	t.Setenv("TICKETS_STRICT_UPDATE", "false")
	t.Setenv("APP_ROUTE_PREFIX", "/api/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "legacy-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL())
	assert.False(t, cfg.Tickets.StrictUpdate)
	assert.Equal(t, "/api", cfg.App.RoutePrefix)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:   AppConfig{Env: "development"},
			Auth:  AuthConfig{JWTSecret: "s3cret"},
			Store: StoreConfig{Driver: StoreDriverMemory},
		}
	}

	t.Run("memory driver", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := base()
		cfg.Store.Driver = StoreDriverPostgres
		require.Error(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base()
		cfg.Store.Driver = "sqlite"
		require.ErrorContains(t, cfg.Validate(), "sqlite")
	})

	t.Run("default secret in production", func(t *testing.T) {
		cfg := base()
		cfg.App.Env = "production"
		cfg.Auth.JWTSecret = "dev-secret"
		require.Error(t, cfg.Validate())
	})
}
