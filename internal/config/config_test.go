package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("DOCSTORE_BACKEND", "Postgres")
	t.Setenv("RATE_LIMIT_RPS", "7")
	t.Setenv("MEMBERSHIP_CACHE_TTL", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.DocstoreBackend)
	assert.Equal(t, 7, cfg.RateLimitRPS)
	assert.Equal(t, "none", cfg.MediaBackend)
	assert.Equal(t, time.Minute, cfg.MembershipCacheTTL)
	assert.Equal(t, 10000, cfg.MembershipCacheLimit)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]any
		wantErr   bool
	}{
		{name: "defaults with secret", overrides: map[string]any{"jwt_secret": "s"}},
		{name: "missing secret", overrides: map[string]any{}, wantErr: true},
		{name: "unknown backend", overrides: map[string]any{"jwt_secret": "s", "docstore_backend": "sqlite"}, wantErr: true},
		{name: "unknown media", overrides: map[string]any{"jwt_secret": "s", "media_backend": "ftp"}, wantErr: true},
		{name: "bad feed limits", overrides: map[string]any{"jwt_secret": "s", "feed_default_limit": 50, "feed_max_limit": 10}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := FromViper(newViper(tc.overrides)).Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := FromViper(newViper(nil))
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=swipeskills sslmode=disable", cfg.PostgresDSN())

	cfg.DatabaseURL = "postgres://u@h/db"
	assert.Equal(t, "postgres://u@h/db", cfg.PostgresDSN())
}
