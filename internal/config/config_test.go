package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 45*time.Second, cfg.Match.AcceptTimeout)
	assert.Equal(t, 15*time.Second, cfg.Room.GracePeriod)
	assert.Equal(t, 120*time.Second, cfg.Room.IdleTimeout)
	assert.Equal(t, 32, cfg.Relay.BufferSize)
	assert.Equal(t, 30*time.Second, cfg.Matcher.StarveAfter)
	assert.Equal(t, 20*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 2, cfg.Session.HeartbeatMisses)
	assert.Equal(t, 15.0, cfg.Scoring.Age)
	assert.Equal(t, 5.0, cfg.Scoring.Premium)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EMBER_SERVER_ADDR", ":9999")
	t.Setenv("EMBER_LOG_LEVEL", "debug")
	t.Setenv("EMBER_ROOM_IDLE_TIMEOUT", "90s")
	t.Setenv("EMBER_MATCHER_CANDIDATE_LIMIT", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Room.IdleTimeout)
	assert.Equal(t, 10, cfg.Matcher.CandidateLimit)
}
