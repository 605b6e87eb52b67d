package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/auth"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := LoadFrom(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Server.ListenAddr)
	assert.Equal(t, 256, c.Server.SendBuffer)
	assert.Equal(t, 54*time.Second, c.Server.Heartbeat.PingInterval)
	assert.Equal(t, 60*time.Second, c.Server.Heartbeat.PongWait)
	assert.Equal(t, 7*24*time.Hour, c.Auth.TTL)
	assert.True(t, c.UsesDevSecret())
	assert.False(t, c.MultiRoom)
	assert.True(t, c.Filter)
	assert.Empty(t, c.RedisAddr)
	assert.NotEmpty(t, c.ServerName)
}

func TestLoadFrom_Overrides(t *testing.T) {
	c, err := LoadFrom(lookupFrom(map[string]string{
		"LISTEN_ADDR":         ":9000",
		"JWT_SECRET":          "s3cret",
		"JWT_TTL":             "1h",
		"MAX_CONNECTIONS":     "500",
		"MAX_MESSAGE_SIZE":    "16384",
		"WS_SEND_BUFFER":      "64",
		"ALLOWED_ORIGINS":     "https://a.example, https://b.example,",
		"CHAT_MULTI_ROOM":     "true",
		"CONTENT_FILTER":      "false",
		"RATE_LIMIT_MESSAGES": "5",
		"RATE_LIMIT_WINDOW":   "30s",
		"REDIS_ADDR":          "redis:6379",
		"SERVER_NAME":         "chat-7",
		"LOG_FORMAT":          "console",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.Server.ListenAddr)
	assert.Equal(t, auth.Config{Secret: "s3cret", TTL: time.Hour}, c.Auth)
	assert.False(t, c.UsesDevSecret())
	assert.Equal(t, 500, c.Server.MaxConnections)
	assert.Equal(t, int64(16384), c.Server.MaxMessageSize)
	assert.Equal(t, 64, c.Server.SendBuffer)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.Server.AllowedOrigins)
	assert.True(t, c.MultiRoom)
	assert.False(t, c.Filter)
	assert.Equal(t, 5, c.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, c.RateLimit.Window)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.Equal(t, "chat-7", c.ServerName)
	assert.Equal(t, "console", c.LogFormat)
}

func TestLoadFrom_InvalidValues(t *testing.T) {
	c, err := LoadFrom(lookupFrom(map[string]string{
		"MAX_CONNECTIONS": "-1",
		"JWT_TTL":         "forever",
		"CHAT_MULTI_ROOM": "maybe",
		"LISTEN_ADDR":     ":7000",
	}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "MAX_CONNECTIONS")
	assert.ErrorContains(t, err, "JWT_TTL")
	assert.ErrorContains(t, err, "CHAT_MULTI_ROOM")
	assert.Equal(t, ":7000", c.Server.ListenAddr, "valid values still apply")
}

func TestLoadFrom_PingMustBeShorterThanPongWait(t *testing.T) {
	_, err := LoadFrom(lookupFrom(map[string]string{
		"WS_PING_INTERVAL": "60s",
		"WS_PONG_WAIT":     "30s",
	}))
	assert.ErrorContains(t, err, "WS_PING_INTERVAL")
}
