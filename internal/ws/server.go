// Package ws handles WebSocket connection management: authenticating and
// upgrading HTTP requests, running a reader and a writer goroutine per
// connection, and tearing connections down exactly once.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/session"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	MaxMessageSize int64         // largest accepted client frame in bytes
	SendBuffer     int           // outbound queue length per connection
	WriteTimeout   time.Duration // deadline for a single frame write
	Heartbeat      HeartbeatConfig
	AllowedOrigins []string // browser origins allowed to connect; empty allows all
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		MaxMessageSize: 8192,
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server authenticates and upgrades WebSocket requests and owns the
// per-connection goroutines. Application behaviour is attached through
// the onMessage, onConnect and onDisconnect callbacks.
type Server struct {
	config       ServerConfig
	verifier     *auth.Verifier
	conns        *ConnectionManager
	origins      originPolicy
	router       chi.Router
	sessionStore *session.Store    // optional Redis mirror
	limiter      ratelimit.Allower // optional per-IP handshake limit
	onMessage    func(conn *Connection, data []byte)
	onConnect    func(conn *Connection)
	onDisconnect func(conn *Connection)
	httpServer   *http.Server
	wg           sync.WaitGroup // reader and writer goroutines
	closing      atomic.Bool
	startedAt    time.Time
	log          zerolog.Logger
}

// NewServer creates a Server. onMessage is called from the connection's
// reader goroutine for every data frame, so a connection's events are
// handled one at a time and in arrival order.
func NewServer(config ServerConfig, verifier *auth.Verifier, onMessage func(conn *Connection, data []byte), logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "ws").Logger()
	s := &Server{
		config:    config,
		verifier:  verifier,
		conns:     NewConnectionManager(),
		origins:   newOriginPolicy(config.AllowedOrigins, logger),
		onMessage: onMessage,
		startedAt: time.Now(),
		log:       logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleUpgrade)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	s.router = r

	return s
}

// SetSessionStore mirrors connection state into Redis.
func (s *Server) SetSessionStore(store *session.Store) { s.sessionStore = store }

// SetConnectLimiter throttles handshakes per client IP.
func (s *Server) SetConnectLimiter(l ratelimit.Allower) { s.limiter = l }

// SetOnConnect registers a callback run once a connection is authenticated
// and upgraded, before its first frame is read.
func (s *Server) SetOnConnect(fn func(conn *Connection)) { s.onConnect = fn }

// SetOnDisconnect registers the teardown callback. It runs exactly once per
// connection, after the state machine reached Closed and before the socket
// and session mirror are released.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) { s.onDisconnect = fn }

// Router exposes the HTTP router so callers can mount extra routes.
func (s *Server) Router() chi.Router { return s.router }

// Connections returns the live connection registry.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().
		Str("addr", s.config.ListenAddr).
		Int("max_conns", s.config.MaxConnections).
		Int("send_buffer", s.config.SendBuffer).
		Msg("server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the request, upgrades it and starts the
// connection's goroutines. Authentication happens before the upgrade so a
// rejected client gets a plain HTTP status and never enters presence.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !s.origins.allows(r) {
		s.log.Warn().Str("origin", r.Header.Get("Origin")).Msg("blocked connection from disallowed origin")
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(r.Context(), clientIP(r), ratelimit.RuleConnect)
		if err != nil {
			s.log.Warn().Err(err).Msg("connect limiter error")
		}
		if !ok {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	machine := session.NewMachine()
	identity, err := s.verifier.Verify(auth.CredentialFromRequest(r))
	if err != nil {
		machine.Close()
		kind := auth.InvalidToken
		var aerr *auth.AuthError
		if errors.As(err, &aerr) {
			kind = aerr.Kind
		}
		metrics.AuthFailures.WithLabelValues(kind.String()).Inc()
		s.log.Info().Str("reason", kind.String()).Str("remote", r.RemoteAddr).Msg("handshake rejected")
		http.Error(w, kind.Message(), http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(uuid.NewString(), netConn, identity, machine, s.config, s.log)
	if err := machine.Transition(session.Authenticated); err != nil {
		c.closeConn()
		return
	}

	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	if s.onConnect != nil {
		s.onConnect(c)
	}

	if s.sessionStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.sessionStore.Create(ctx, c.id, identity); err != nil {
			c.log.Warn().Err(err).Msg("failed to create redis session")
		}
		cancel()
	}

	c.log.Info().Str("user", identity.Username).Int("total", s.conns.Count()).Msg("connection opened")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump(s.config.Heartbeat)
	}()
	go func() {
		defer s.wg.Done()
		err := c.readPump(s.config.Heartbeat, s.config.MaxMessageSize, s.onMessage)
		s.teardown(c, err)
	}()
}

// teardown releases a connection. It runs on the reader goroutine after
// the read loop ended, so it never overlaps the connection's own event
// handling; the state machine makes it run once.
func (s *Server) teardown(c *Connection, cause error) {
	if !c.machine.Close() {
		return
	}

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	s.conns.Remove(c.id)
	close(c.done)
	c.closeConn()
	metrics.ConnectionsTotal.Dec()

	if s.sessionStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.sessionStore.Delete(ctx, c.id); err != nil {
			c.log.Warn().Err(err).Msg("failed to delete redis session")
		}
		cancel()
	}

	ev := c.log.Info().Dur("lifetime", time.Since(c.createdAt)).Int("total", s.conns.Count())
	if cause != nil && !errors.Is(cause, errClosedByPeer) {
		ev = ev.AnErr("cause", cause)
	}
	ev.Msg("connection closed")
}

// handleHealth reports server status as JSON for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if s.closing.Load() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      status,
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// Shutdown stops accepting connections, sends every client a going-away
// close frame and waits for their teardown or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")
	s.closing.Store(true)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown error")
		}
	}

	for _, c := range s.conns.All() {
		c.closeWith(ws.StatusGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("server stopped, all connections closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws: shutdown: %w", ctx.Err())
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
