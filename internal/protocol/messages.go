// Package protocol defines the realtime event protocol spoken over the
// WebSocket. Every frame is a JSON text frame carrying an envelope with an
// event name and an event-specific data payload.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server events.
const (
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventSendMessage    = "send-message"
	EventTyping         = "typing"
	EventPrivateMessage = "private-message"
	EventGetOnlineUsers = "get-online-users"
	EventPing           = "ping"
)

// Server -> Client events. EventTyping and EventPrivateMessage are shared
// with the client direction.
const (
	EventReceiveMessage = "receive-message"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
	EventNotification   = "notification"
	EventOnlineUsers    = "online-users"
	EventError          = "error"
	EventPong           = "pong"
)

// Error codes produced by the protocol layer itself.
const (
	CodeParseError       = "parse_error"
	CodeUnsupportedEvent = "unsupported_event"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope is the outer frame shape. Data is decoded later into the struct
// matching Event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UnmarshalJSON rejects envelopes without an event name.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if p.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	*e = Envelope(p)
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// JoinRoomMsg subscribes the sender to a room. On the wire the data is
// either a bare room name or an object with a room field.
type JoinRoomMsg struct {
	Room string `json:"room"`
}

// LeaveRoomMsg unsubscribes the sender from a room. Same wire shape as
// JoinRoomMsg.
type LeaveRoomMsg struct {
	Room string `json:"room"`
}

// SendMessageMsg asks the server to publish into a room. Type defaults to
// "text"; File is a reference returned by the upload service.
type SendMessageMsg struct {
	Room    string `json:"room"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	File    string `json:"file,omitempty"`
}

// TypingMsg reports that the sender started or stopped typing in a room.
type TypingMsg struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}

// PrivateMessageMsg addresses a message to one online user by username.
type PrivateMessageMsg struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// GetOnlineUsersMsg requests the current presence snapshot.
type GetOnlineUsersMsg struct{}

// PingMsg is an application-level keepalive.
type PingMsg struct{}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// TypingNotice relays another member's typing state.
type TypingNotice struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
	Room     string `json:"room,omitempty"`
}

// UserPresence is the payload of user-online and an element of online-users.
type UserPresence struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// PrivateMessage is delivered to the addressee of a private-message.
type PrivateMessage struct {
	From      string    `json:"from"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMsg is sent to the client whose event was rejected.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses a raw frame into the event name and its typed
// payload. Unknown events return the event name along with an error so the
// caller can report it.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Event {
	case EventJoinRoom:
		var m JoinRoomMsg
		m.Room, err = decodeRoom(env.Data)
		msg = m
	case EventLeaveRoom:
		var m LeaveRoomMsg
		m.Room, err = decodeRoom(env.Data)
		msg = m
	case EventSendMessage:
		var m SendMessageMsg
		err = decode(env.Data, &m)
		msg = m
	case EventTyping:
		var m TypingMsg
		err = decode(env.Data, &m)
		msg = m
	case EventPrivateMessage:
		var m PrivateMessageMsg
		err = decode(env.Data, &m)
		msg = m
	case EventGetOnlineUsers:
		msg = GetOnlineUsersMsg{}
	case EventPing:
		msg = PingMsg{}
	default:
		return env.Event, nil, fmt.Errorf("protocol: unknown client event: %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	return env.Event, msg, nil
}

// NewServerMessage encodes a server event. A nil payload omits data.
func NewServerMessage(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal %q payload: %w", event, err)
		}
		env.Data = raw
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

func decode(data json.RawMessage, v interface{}) error {
	if isEmpty(data) {
		return nil
	}
	return json.Unmarshal(data, v)
}

func decodeRoom(data json.RawMessage) (string, error) {
	if isEmpty(data) {
		return "", nil
	}
	var room string
	if data[0] == '"' {
		err := json.Unmarshal(data, &room)
		return room, err
	}
	var obj struct {
		Room string `json:"room"`
	}
	err := json.Unmarshal(data, &obj)
	return obj.Room, err
}

func isEmpty(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
