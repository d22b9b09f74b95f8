package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statuswatch/internal/config"
)

func TestMapPollConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Poll.Interval = "90s"
	cfg.Poll.Deadline = "3m"
	cfg.Poll.Workers = 2
	cfg.Poll.UpdateGap = "1s"

	pc, err := mapPollConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, pc.Interval)
	assert.Equal(t, 3*time.Minute, pc.Deadline)
	assert.Equal(t, 2, pc.Workers)
	assert.Equal(t, time.Second, pc.UpdateGap)
}

func TestMapPollConfigRejectsBadDuration(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Poll.Interval = "soon"

	_, err := mapPollConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll.interval")
}
