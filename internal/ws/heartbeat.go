package ws

import (
	"errors"
	"io"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	errClosedByPeer    = errors.New("ws: closed by peer")
	errMessageTooLarge = errors.New("ws: message exceeds size limit")
)

// HeartbeatConfig holds keepalive timing. Ping must be shorter than
// PongWait so a healthy client always answers before its read deadline.
type HeartbeatConfig struct {
	PingInterval time.Duration // how often the writer sends a ping frame
	PongWait     time.Duration // read deadline, extended on every frame
}

// DefaultHeartbeatConfig returns the standard 54s/60s pairing.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// writePump drains the send queue and pings the client on a ticker. It is
// the only goroutine writing data frames to the socket and exits when the
// connection is torn down or a write fails.
func (c *Connection) writePump(hb HeartbeatConfig) {
	ticker := time.NewTicker(hb.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.writeMessage(ws.OpText, data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.closeConn()
				return
			}
		case <-ticker.C:
			if err := c.writeFrame(ws.NewPingFrame(nil)); err != nil {
				c.log.Debug().Err(err).Msg("heartbeat ping failed")
				c.closeConn()
				return
			}
		}
	}
}

// readPump reads frames until the socket fails, the peer closes, or the
// read deadline passes without any frame. Control frames are answered
// inline; each data frame is passed to onMessage. It returns the reason
// the loop stopped.
func (c *Connection) readPump(hb HeartbeatConfig, maxMessageSize int64, onMessage func(*Connection, []byte)) error {
	for {
		if hb.PongWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(hb.PongWait))
		}

		header, reader, err := wsutil.NextReader(c.conn, ws.StateServerSide)
		if err != nil {
			return err
		}

		if header.OpCode.IsControl() {
			if err := c.handleControl(header, reader); err != nil {
				return err
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(reader, maxMessageSize+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > maxMessageSize {
			c.closeWith(ws.StatusMessageTooBig, "message too large")
			return errMessageTooLarge
		}
		if len(data) == 0 || c.machine.IsClosed() {
			continue
		}

		if onMessage != nil {
			onMessage(c, data)
		}
	}
}

func (c *Connection) handleControl(header ws.Header, reader io.Reader) error {
	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return err
	}

	switch header.OpCode {
	case ws.OpPing:
		return c.writeFrame(ws.NewPongFrame(payload))
	case ws.OpClose:
		c.closeWith(ws.StatusNormalClosure, "")
		return errClosedByPeer
	}
	// Pong: the deadline was already extended.
	return nil
}
