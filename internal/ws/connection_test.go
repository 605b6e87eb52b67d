package ws

import (
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/typing"
)

// pipeConnection returns a Connection over one end of an in-memory pipe
// and the client end. Nothing reads the client end unless the test does.
func pipeConnection(t *testing.T, id string, identity auth.Identity, sendBuffer int) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	machine := session.NewMachine()
	require.NoError(t, machine.Transition(session.Authenticated))

	config := DefaultServerConfig()
	config.SendBuffer = sendBuffer
	return newConnection(id, server, identity, machine, config, zerolog.Nop()), client
}

func drain(c *Connection) {
	for len(c.send) > 0 {
		<-c.send
	}
}

func TestSend_FullQueueKicksConnection(t *testing.T) {
	c, client := pipeConnection(t, "c1", auth.Identity{ID: "u1", Username: "alice"}, 1)

	assert.True(t, c.Send([]byte(`{"event":"pong"}`)))
	assert.False(t, c.Send([]byte(`{"event":"pong"}`)), "queue full")

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := client.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF, "socket closed after kick")
}

func TestSend_AfterCloseIsRefused(t *testing.T) {
	c, _ := pipeConnection(t, "c1", auth.Identity{ID: "u1", Username: "alice"}, 4)
	require.True(t, c.machine.Close())

	assert.False(t, c.Send([]byte(`{"event":"pong"}`)))
	assert.Empty(t, c.send)
}

func TestSlowConsumerTeardown(t *testing.T) {
	log := zerolog.Nop()
	reg := presence.NewRegistry(log)
	tbl := room.NewTable(log)
	svc := chat.NewService(chat.ServiceConfig{}, reg, tbl, typing.NewTracker(tbl, log), chat.NewBroadcaster(tbl, log), log)

	srv := NewServer(DefaultServerConfig(), auth.NewVerifier(auth.Config{Secret: "test-secret", TTL: time.Hour}), nil, log)
	srv.SetOnDisconnect(func(c *Connection) { svc.Disconnect(c) })

	slow, _ := pipeConnection(t, "slow", auth.Identity{ID: "u1", Username: "alice"}, 1)
	fast, _ := pipeConnection(t, "fast", auth.Identity{ID: "u2", Username: "bob"}, 64)

	srv.conns.Add(slow)
	srv.conns.Add(fast)
	svc.Connect(slow)
	drain(slow)
	svc.Connect(fast)
	drain(slow)
	require.NoError(t, svc.JoinRoom(slow, "general"))
	require.NoError(t, svc.JoinRoom(fast, "general"))
	require.Len(t, slow.send, 1, "join notice fills the queue")

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		err := slow.readPump(HeartbeatConfig{}, 1024, nil)
		srv.teardown(slow, err)
	}()

	_, err := svc.SendMessage(fast, protocol.SendMessageMsg{Room: "general", Message: "hello"})
	require.NoError(t, err)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("slow consumer was not torn down")
	}

	assert.True(t, slow.Session().IsClosed())
	assert.Nil(t, srv.conns.Get(slow.ID()))
	assert.NotNil(t, srv.conns.Get(fast.ID()))
	_, online := reg.Get("u1")
	assert.False(t, online)
	assert.False(t, tbl.IsMember("general", slow.ID()))
	assert.True(t, tbl.IsMember("general", fast.ID()))

	var events []string
	for len(fast.send) > 0 {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(<-fast.send, &env))
		events = append(events, env.Event)
	}
	assert.Contains(t, events, protocol.EventReceiveMessage)
	assert.Contains(t, events, protocol.EventUserOffline)
}
