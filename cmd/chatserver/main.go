package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/api"
	"github.com/whisper/roomchat/internal/archive"
	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/logging"
	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/moderation"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/typing"
	"github.com/whisper/roomchat/internal/ws"
)

const sinkQueueSize = 1024

func main() {
	cfg, cfgErr := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).
		With().Str("server", cfg.ServerName).Logger()
	if cfgErr != nil {
		logger.Fatal().Err(cfgErr).Msg("invalid configuration")
	}
	if cfg.UsesDevSecret() {
		logger.Warn().Msg("JWT_SECRET not set, verifying tokens with the development secret")
	}

	if limit, err := ws.RaiseFileLimit(cfg.Server.MaxConnections); err != nil {
		logger.Warn().Err(err).Msg("could not raise file descriptor limit")
	} else if limit > 0 {
		logger.Info().Uint64("nofile", limit).Msg("file descriptor limit")
	}

	// --- Shared state ---
	reg := presence.NewRegistry(logger)
	rooms := room.NewTable(logger)
	tracker := typing.NewTracker(rooms, logger)

	// --- Optional integrations ---
	var closers []func()
	sinks := openSinks(cfg, logger, &closers)

	var limiter ratelimit.Allower = ratelimit.NewLocalLimiter()
	var store *session.Store
	if cfg.RedisAddr != "" {
		s, err := session.NewStore(cfg.RedisAddr, cfg.ServerName)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-process rate limiting and no session mirror")
		} else {
			store = s
			limiter = ratelimit.NewLimiter(s.Client(), logger)
			closers = append(closers, func() { _ = s.Close() })
		}
	}

	// --- Chat core ---
	opts := []chat.BroadcasterOption{chat.WithSinks(sinks...)}
	if cfg.Filter {
		opts = append(opts, chat.WithFilter(moderation.NewFilter()))
	}
	broadcaster := chat.NewBroadcaster(rooms, logger, opts...)

	svc := chat.NewService(chat.ServiceConfig{
		MultiRoom:   cfg.MultiRoom,
		MessageRule: cfg.RateLimit,
	}, reg, rooms, tracker, broadcaster, logger)
	svc.SetLimiter(limiter)
	if store != nil {
		svc.SetMirror(store)
	}

	// --- Transport ---
	dispatcher := ws.NewMessageDispatcher(logger)
	for _, event := range chat.Events {
		dispatcher.Register(event, func(c *ws.Connection, msg interface{}) {
			svc.Handle(c, msg)
		})
	}

	server := ws.NewServer(cfg.Server, auth.NewVerifier(cfg.Auth), dispatcher.Dispatch, logger)
	server.SetOnConnect(func(c *ws.Connection) { svc.Connect(c) })
	server.SetOnDisconnect(func(c *ws.Connection) { svc.Disconnect(c) })
	server.SetConnectLimiter(limiter)
	if store != nil {
		server.SetSessionStore(store)
	}
	server.Router().Mount("/api", api.Routes(reg, rooms))

	logger.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Int("max_connections", cfg.Server.MaxConnections).
		Int64("max_message_size", cfg.Server.MaxMessageSize).
		Int("send_buffer", cfg.Server.SendBuffer).
		Dur("ping_interval", cfg.Server.Heartbeat.PingInterval).
		Dur("pong_wait", cfg.Server.Heartbeat.PongWait).
		Bool("multi_room", cfg.MultiRoom).
		Bool("content_filter", cfg.Filter).
		Int("rate_limit", cfg.RateLimit.Limit).
		Dur("rate_window", cfg.RateLimit.Window).
		Bool("redis", store != nil).
		Int("sinks", len(sinks)).
		Msg("roomchat server starting")

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}

	// Sinks drain after the connections are gone; late Accepts are dropped.
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	logger.Info().Msg("stopped")
}

// openSinks connects the configured persistence sinks. A sink whose
// backend is unreachable is skipped; the chat keeps working without it.
func openSinks(cfg config.Config, logger zerolog.Logger, closers *[]func()) []chat.Sink {
	var sinks []chat.Sink

	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = "roomchat-" + cfg.ServerName
		nc, err := messaging.NewNATSClient(natsCfg, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, room messages will not be republished")
		} else {
			sink := messaging.NewRoomSink(nc, sinkQueueSize, logger)
			sinks = append(sinks, sink)
			*closers = append(*closers, func() {
				sink.Close()
				nc.Close()
			})
		}
	}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err := archive.Open(ctx, cfg.DatabaseURL)
		if err == nil {
			err = archive.Migrate(db)
			if err != nil {
				_ = db.Close()
			}
		}
		if err != nil {
			logger.Warn().Err(err).Msg("postgres unavailable, messages will not be archived")
		} else {
			sink := archive.NewSink(archive.NewStore(db), sinkQueueSize, logger)
			sinks = append(sinks, sink)
			*closers = append(*closers, func() {
				sink.Close()
				_ = db.Close()
			})
		}
	}

	return sinks
}
