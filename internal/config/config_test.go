package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithSecret(t *testing.T) {
	t.Setenv("SESSION_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, IdentityJWT, cfg.Identity.Mode)
	assert.Equal(t, 2*time.Second, cfg.StreamInterval)
	assert.Equal(t, 10*time.Minute, cfg.Media.TokenTTL)
	assert.Equal(t, "signals:", cfg.Redis.Prefix)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9100
signal_store: redis
redis:
  addr: localhost:6379
media:
  url: wss://media.example.com
  token_ttl: 5m
`), 0o600))

	t.Setenv("RELAY_CONFIG", path)
	t.Setenv("SESSION_JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Port, "env overrides file")
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "wss://media.example.com", cfg.Media.URL)
	assert.Equal(t, 5*time.Minute, cfg.Media.TokenTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Relay)
		wantErr bool
	}{
		{"ok", func(*Relay) {}, false},
		{"postgres without dsn", func(c *Relay) { c.Store = StorePostgres }, true},
		{"redis without addr", func(c *Relay) { c.Store = StoreRedis }, true},
		{"unknown store", func(c *Relay) { c.Store = "sqlite" }, true},
		{"jwt without secret", func(c *Relay) { c.Identity.JWTSecret = "" }, true},
		{"session without url", func(c *Relay) { c.Identity.Mode = IdentitySession }, true},
		{"bad port", func(c *Relay) { c.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Relay{Identity: Identity{JWTSecret: "x"}}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitAndTrimCSV(t *testing.T) {
	assert.Nil(t, SplitAndTrimCSV(""))
	assert.Equal(t, []string{"a", "b"}, SplitAndTrimCSV(" a, ,b "))
}
