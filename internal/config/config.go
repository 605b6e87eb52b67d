// Package config loads server settings from environment variables over
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/ws"
)

// Config is the complete server configuration. Empty RedisAddr, NATSURL
// and DatabaseURL disable the corresponding integration.
type Config struct {
	Server      ws.ServerConfig
	Auth        auth.Config
	MultiRoom   bool
	Filter      bool
	RateLimit   ratelimit.Rule
	RedisAddr   string
	NATSURL     string
	DatabaseURL string
	ServerName  string
	LogLevel    string
	LogFormat   string
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "chat-1"
	}
	return Config{
		Server:     ws.DefaultServerConfig(),
		Auth:       auth.DefaultConfig(),
		Filter:     true,
		RateLimit:  ratelimit.RuleMessage,
		ServerName: host,
		LogLevel:   "info",
		LogFormat:  "json",
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom applies variables found by lookup over Default. Malformed values
// are reported together; the rest of the configuration is still applied.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	e := &env{lookup: lookup}

	e.str("LISTEN_ADDR", &c.Server.ListenAddr)
	e.positiveInt("MAX_CONNECTIONS", &c.Server.MaxConnections)
	e.positiveInt64("MAX_MESSAGE_SIZE", &c.Server.MaxMessageSize)
	e.positiveInt("WS_SEND_BUFFER", &c.Server.SendBuffer)
	e.duration("WS_PING_INTERVAL", &c.Server.Heartbeat.PingInterval)
	e.duration("WS_PONG_WAIT", &c.Server.Heartbeat.PongWait)
	e.duration("WRITE_TIMEOUT", &c.Server.WriteTimeout)
	e.list("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	e.str("JWT_SECRET", &c.Auth.Secret)
	e.str("JWT_ISSUER", &c.Auth.Issuer)
	e.duration("JWT_TTL", &c.Auth.TTL)

	e.boolean("CHAT_MULTI_ROOM", &c.MultiRoom)
	e.boolean("CONTENT_FILTER", &c.Filter)
	e.positiveInt("RATE_LIMIT_MESSAGES", &c.RateLimit.Limit)
	e.duration("RATE_LIMIT_WINDOW", &c.RateLimit.Window)

	e.str("REDIS_ADDR", &c.RedisAddr)
	e.str("NATS_URL", &c.NATSURL)
	e.str("DATABASE_URL", &c.DatabaseURL)
	e.str("SERVER_NAME", &c.ServerName)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FORMAT", &c.LogFormat)

	if c.Server.Heartbeat.PingInterval >= c.Server.Heartbeat.PongWait {
		e.errs = append(e.errs, fmt.Errorf("config: WS_PING_INTERVAL (%s) must be shorter than WS_PONG_WAIT (%s)",
			c.Server.Heartbeat.PingInterval, c.Server.Heartbeat.PongWait))
	}

	return c, errors.Join(e.errs...)
}

// UsesDevSecret reports whether tokens are verified with the development
// fallback secret.
func (c Config) UsesDevSecret() bool {
	return c.Auth.Secret == auth.DevSecret
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("config: %s=%q: %w", key, value, err))
}

func (e *env) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *env) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *env) positiveInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err == nil && n <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *env) positiveInt64(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err == nil && n <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *env) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err == nil && d <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *env) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}
