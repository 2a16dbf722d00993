package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.DBAdapter)
	assert.Equal(t, []string{"user", "admin"}, cfg.Roles)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenLifespan.Duration())
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTokenLifespan.Duration())
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, 10, cfg.MaxRefreshTokens)
	assert.False(t, cfg.RevokeOnPasswordChange)
	assert.False(t, cfg.TrustProxyHeaders)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.Equal(t, "host=localhost port=5432 user=sessionauth dbname=sessionauth sslmode=disable", cfg.PostgresDSN)
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv("DB_ADAPTER", "sqlite")
	t.Setenv("SQLITE_FILE", "/tmp/auth.db")
	t.Setenv("AUTH_ROLES", "member, staff ,")
	t.Setenv("ACCESS_TOKEN_LIFESPAN", "5m")
	t.Setenv("REFRESH_TOKEN_LIFESPAN", "1w")
	t.Setenv("REVOKE_ON_PASSWORD_CHANGE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/auth.db", cfg.SQLiteFile)
	assert.Equal(t, []string{"member", "staff"}, cfg.Roles)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenLifespan.Duration())
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenLifespan.Duration())
	assert.True(t, cfg.RevokeOnPasswordChange)
	assert.Len(t, cfg.CORSAllowedOrigins, 2)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "port", env: map[string]string{"PORT": "http"}, want: "invalid PORT"},
		{name: "adapter", env: map[string]string{"DB_ADAPTER": "mongo"}, want: "unsupported DB_ADAPTER"},
		{name: "lifespan", env: map[string]string{"ACCESS_TOKEN_LIFESPAN": "soon"}, want: "parse config"},
		{name: "same secrets", env: map[string]string{"ACCESS_TOKEN_SECRET": "s", "REFRESH_TOKEN_SECRET": "s"}, want: "must differ"},
		{name: "blank roles", env: map[string]string{"AUTH_ROLES": " , "}, want: "AUTH_ROLES"},
		{name: "production defaults", env: map[string]string{"ENV": "production"}, want: "must be set in production"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := New()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNew_ProductionWithSecrets(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("DB_ADAPTER", "memory")
	t.Setenv("ACCESS_TOKEN_SECRET", "a-real-access-secret")
	t.Setenv("REFRESH_TOKEN_SECRET", "a-real-refresh-secret")

	cfg, err := New()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestBuildPostgresDSN(t *testing.T) {
	c := &Config{PostgresDSN: "postgres://x"}
	dsn, err := c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", dsn)

	c = &Config{PostgresHost: "db", PostgresPort: "5433", PostgresUser: "u", PostgresDB: "d", PostgresSSLMode: "require", PostgresPassword: "p"}
	dsn, err = c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5433 user=u dbname=d sslmode=require password=p", dsn)

	_, err = (&Config{}).BuildPostgresDSN()
	assert.Error(t, err)
}
