package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirForTest(t, t.TempDir())

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, ":1099", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "peerchat.db", cfg.DBPath)
	assert.Equal(t, 1024, cfg.InboxCapacity)
	assert.Equal(t, 3, cfg.PushRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.PushBackoff)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirForTest(t, t.TempDir())
	t.Setenv("PEERCHAT_LISTEN_ADDR", "127.0.0.1:4000")
	t.Setenv("PEERCHAT_STORE", "memory")
	t.Setenv("PEERCHAT_INBOX_CAPACITY", "8")
	t.Setenv("PEERCHAT_PUSH_BACKOFF", "1s")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 8, cfg.InboxCapacity)
	assert.Equal(t, time.Second, cfg.PushBackoff)
}

func TestLoadClampsInvalidValues(t *testing.T) {
	chdirForTest(t, t.TempDir())

	v := viper.New()
	v.Set("push_retries", 0)
	v.Set("inbox_capacity", -5)
	v.Set("call_timeout", "0s")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.PushRetries)
	assert.Equal(t, 0, cfg.InboxCapacity)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
}
