package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/session"
)

// Connection is one authenticated WebSocket client. Outbound frames go
// through a bounded queue drained by the connection's writer goroutine;
// the write mutex serializes that writer with control-frame replies sent
// from the reader.
type Connection struct {
	id         string
	conn       net.Conn
	identity   auth.Identity
	machine    *session.Machine
	remoteAddr string
	createdAt  time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	writeMu      sync.Mutex
	writeTimeout time.Duration

	log zerolog.Logger
}

func newConnection(id string, conn net.Conn, identity auth.Identity, machine *session.Machine, config ServerConfig, logger zerolog.Logger) *Connection {
	return &Connection{
		id:           id,
		conn:         conn,
		identity:     identity,
		machine:      machine,
		remoteAddr:   conn.RemoteAddr().String(),
		createdAt:    time.Now(),
		send:         make(chan []byte, config.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: config.WriteTimeout,
		log:          logger.With().Str("conn_id", id).Str("user_id", identity.ID).Logger(),
	}
}

// ID returns the connection id assigned at upgrade.
func (c *Connection) ID() string { return c.id }

// Identity returns the verified user behind the connection.
func (c *Connection) Identity() auth.Identity { return c.identity }

// Session returns the connection's lifecycle state machine.
func (c *Connection) Session() *session.Machine { return c.machine }

// Send queues a text frame without blocking. It returns false once the
// connection is closed. A full queue means the client cannot keep up: the
// connection is kicked rather than silently losing frames mid-stream.
func (c *Connection) Send(data []byte) bool {
	if c.machine.IsClosed() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		metrics.SlowConsumers.Inc()
		c.Kick("slow consumer")
		return false
	}
}

// Kick closes the socket asynchronously. The reader goroutine then fails
// and runs teardown, so Kick is safe to call while holding shared locks.
func (c *Connection) Kick(reason string) {
	c.log.Info().Str("reason", reason).Msg("closing connection")
	go c.closeConn()
}

// closeWith sends a close frame with code before closing the socket.
func (c *Connection) closeWith(code ws.StatusCode, reason string) {
	_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
	c.closeConn()
}

func (c *Connection) closeConn() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// writeMessage writes one server data frame under the write mutex.
func (c *Connection) writeMessage(op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return wsutil.WriteServerMessage(c.conn, op, data)
}

// writeFrame writes a prepared control frame under the write mutex.
func (c *Connection) writeFrame(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.conn, f)
}

func (c *Connection) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

// ConnectionManager is a thread-safe registry of live connections by id.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byID: make(map[string]*Connection)}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.id] = conn
	cm.mu.Unlock()
}

// Remove forgets a connection by id. It returns false if it was already
// gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	_, ok := cm.byID[id]
	delete(cm.byID, id)
	cm.mu.Unlock()
	return ok
}

// Get returns the connection for the given id, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
