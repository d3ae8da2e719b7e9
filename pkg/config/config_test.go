package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "info", cfg.DebugLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manaclock.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 127.0.0.1
port: 9000
store: redis
redis:
  addr: redis.internal:6379
  sessionttl: 1h
debuglevel: debug
allowedorigins:
  - play.example.com
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.SessionTTL)
	assert.Equal(t, []string{"play.example.com"}, cfg.AllowedOrigins)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Store = "clay_tablets"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store = StoreRedis
	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not a port"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
