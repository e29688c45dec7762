package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, _, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`addr: ":9000"
shutdown_timeout: 10s
overflow_policy: drop_oldest
presence:
  multi_session: false
relay:
  driver: redis
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("DMCHAT_ADDR", ":9100")
	t.Setenv("DMCHAT_RELAY_CHANNEL", "custom.fanout")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "drop_oldest", cfg.OverflowPolicy)
	assert.False(t, cfg.Presence.MultiSession)
	assert.True(t, cfg.Presence.InitialSnapshot)
	assert.Equal(t, "redis", cfg.Relay.Driver)
	assert.Equal(t, "custom.fanout", cfg.Relay.Channel)
	assert.Equal(t, "localhost:6379", cfg.Relay.RedisAddr)
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1", LogLevel: "debug"})

	assert.Equal(t, ":1", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg := Default()
	cfg.OverflowPolicy = "block"
	cfg.Relay.Driver = "kafka"
	cfg.Media.Driver = "s3"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflow_policy")
	assert.Contains(t, err.Error(), "relay.driver")
	assert.Contains(t, err.Error(), "media.s3.bucket")

	cfg = Default()
	cfg.Relay.Driver = "nats"
	cfg.Relay.HeartbeatInterval = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.heartbeat_interval")
}
