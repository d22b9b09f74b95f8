package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statuswatch/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram:
  token: "123:abc"
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  path: /var/lib/statuswatch/state.db
  busy_timeout: 5s
poll:
  interval: 90s
  workers: 2
ops:
  enabled: true
  addr: "127.0.0.1:9100"
`)
	cfg, err := NewManager(path, logx.Nop()).Parse()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)
	assert.Equal(t, "/var/lib/statuswatch/state.db", cfg.Storage.Path)
	assert.Equal(t, "90s", cfg.Poll.Interval)
	assert.Equal(t, 2, cfg.Poll.Workers)
	assert.True(t, cfg.Ops.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Ops.Addr)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram:
  token: "123:abc"
storage:
  path: state.db
pol:
  interval: 90s
`)
	_, err := NewManager(path, logx.Nop()).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pol")
}

func TestParseRequiresToken(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram:
  token: "   "
storage:
  path: state.db
`)
	_, err := NewManager(path, logx.Nop()).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")
}

func TestParseRequiresStoragePath(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram:
  token: "123:abc"
`)
	_, err := NewManager(path, logx.Nop()).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.path")
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram:
  token: "123:abc"
storage:
  path: state.db
poll:
  interval: "two minutes"
`)
	_, err := NewManager(path, logx.Nop()).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll.interval")
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationField("x", "90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	_, err = ParseDurationField("x", "-5s")
	assert.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)
}

func TestDurationFieldsCoverEveryDuration(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Telegram.PollTimeout = "10s"
	cfg.Storage.BusyTimeout = "5s"
	cfg.Poll.Interval = "2m"
	cfg.Poll.Deadline = "4m"
	cfg.Poll.UpdateGap = "5s"
	cfg.Dispatch.SendTimeout = "15s"

	fields := durationFields(cfg)
	assert.Len(t, fields, 6)
	for path, raw := range fields {
		assert.NotEmpty(t, raw, path)
	}
}

func TestLoadAndGet(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram:
  token: "123:abc"
storage:
  path: state.db
`)
	m := NewManager(path, logx.Nop())
	assert.Nil(t, m.Get())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())
}
