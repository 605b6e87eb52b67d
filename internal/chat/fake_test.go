package chat

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/session"
)

type event struct {
	Event string
	Data  json.RawMessage
}

type fakeConn struct {
	id      string
	user    auth.Identity
	machine *session.Machine

	mu     sync.Mutex
	events []event
	kicked string
}

func newConn(t *testing.T, id, userID, username string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id, user: auth.Identity{ID: userID, Username: username}, machine: session.NewMachine()}
	require.NoError(t, c.machine.Transition(session.Authenticated))
	return c
}

func (c *fakeConn) ID() string                { return c.id }
func (c *fakeConn) Identity() auth.Identity   { return c.user }
func (c *fakeConn) Session() *session.Machine { return c.machine }

func (c *fakeConn) Send(data []byte) bool {
	if c.machine.IsClosed() {
		return false
	}
	var e event
	if err := json.Unmarshal(data, &e); err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return true
}

func (c *fakeConn) Kick(reason string) {
	c.mu.Lock()
	c.kicked = reason
	c.mu.Unlock()
}

// named returns the payloads of every received event with the given name.
func (c *fakeConn) named(name string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, e := range c.events {
		if e.Event == name {
			out = append(out, e.Data)
		}
	}
	return out
}

func (c *fakeConn) messages(t *testing.T) []Message {
	t.Helper()
	var out []Message
	for _, raw := range c.named("receive-message") {
		var m Message
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) errorCodes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, raw := range c.named("error") {
		var e struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.Unmarshal(raw, &e))
		out = append(out, e.Code)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
}

func (s *recordingSink) Accept(m Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
}
