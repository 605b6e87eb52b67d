// Package chattest provides a WebSocket client for exercising the chat
// server end to end.
package chattest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Event is one decoded server frame.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// ErrClosed is returned once the server closed the connection.
var ErrClosed = errors.New("chattest: connection closed")

// Client is a single simulated user. Incoming frames are decoded on a
// background goroutine and queued for Next and WaitFor.
type Client struct {
	conn      net.Conn
	rw        io.ReadWriter
	mu        sync.Mutex
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url, for example ws://host/ws?token=...
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	// Frames sent right after the handshake may already sit in br.
	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}

	c := &Client{
		conn: conn,
		rw: struct {
			io.Reader
			io.Writer
		}{r, conn},
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send writes an event with an optional payload.
func (c *Client) Send(event string, data interface{}) error {
	env := map[string]interface{}{"event": event}
	if data != nil {
		env["data"] = data
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.SendRaw(raw)
}

// SendRaw writes a text frame as is.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Next returns the next event.
func (c *Client) Next(timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, ErrClosed
		}
		return ev, nil
	case <-timer.C:
		return Event{}, fmt.Errorf("chattest: no event within %s", timeout)
	}
}

// WaitFor discards events until one named event arrives.
func (c *Client) WaitFor(event string, timeout time.Duration) (Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, fmt.Errorf("chattest: no %q event within %s", event, timeout)
		}
		ev, err := c.Next(remaining)
		if err != nil {
			return Event{}, fmt.Errorf("waiting for %q: %w", event, err)
		}
		if ev.Event == event {
			return ev, nil
		}
	}
}

// WaitClosed blocks until the server closes the connection.
func (c *Client) WaitClosed(timeout time.Duration) error {
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("chattest: connection still open after %s", timeout)
	}
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		data, op, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		c.events <- ev
	}
}
