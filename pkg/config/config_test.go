package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGracePeriod)
	assert.Equal(t, ":8080", cfg.Gateway.Address)
	assert.Equal(t, ":8081", cfg.API.Address)
	assert.Equal(t, ":8082", cfg.Pusher.Address)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, []string{"localhost:9042"}, cfg.Store.ScyllaHosts)
	assert.Equal(t, PushLog, cfg.Push.Mode)
	assert.Equal(t, PresenceLastWins, cfg.Presence.Policy)
	assert.Equal(t, 256, cfg.Presence.Mailbox)
	assert.Equal(t, 5*time.Minute, cfg.Relay.IdleTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, int64(1), cfg.Snowflake.NodeID)
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
store:
  driver: sqlite
  sqlite_path: /tmp/relay.db
relay:
  idle_timeout: 30s
presence:
  policy: ref_counted
`), 0o644))

	t.Setenv("RELAY_GATEWAY_ADDRESS", ":9000")
	t.Setenv("RELAY_STORE_SQLITE_PATH", "/data/relay.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.Gateway.Address)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "/data/relay.db", cfg.Store.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.Relay.IdleTimeout)
	assert.Equal(t, PresenceRefCounted, cfg.Presence.Policy)
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	t.Setenv("RELAY_STORE_DRIVER", "mongo")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Store.Driver = StorePostgres
	assert.Error(t, bad.Validate(), "postgres requires a url")

	bad = cfg
	bad.Push.Mode = PushFCM
	assert.Error(t, bad.Validate(), "fcm requires credentials")

	bad = cfg
	bad.Presence.Policy = "sticky"
	assert.Error(t, bad.Validate())
}
