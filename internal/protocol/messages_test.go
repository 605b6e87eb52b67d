package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: join-room accepts a bare room name and an object
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinRoom(t *testing.T) {
	inputs := []string{
		`{"event":"join-room","data":"general"}`,
		`{"event":"join-room","data":{"room":"general"}}`,
	}

	for _, in := range inputs {
		event, msg, err := ParseClientMessage([]byte(in))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", in, err)
		}
		if event != EventJoinRoom {
			t.Fatalf("expected event %q, got %q", EventJoinRoom, event)
		}
		rm, ok := msg.(JoinRoomMsg)
		if !ok {
			t.Fatalf("expected JoinRoomMsg, got %T", msg)
		}
		if rm.Room != "general" {
			t.Errorf("expected room %q, got %q", "general", rm.Room)
		}
	}
}

func TestParseClientMessage_LeaveRoom(t *testing.T) {
	event, msg, err := ParseClientMessage([]byte(`{"event":"leave-room","data":"general"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != EventLeaveRoom {
		t.Fatalf("expected event %q, got %q", EventLeaveRoom, event)
	}
	if lm, ok := msg.(LeaveRoomMsg); !ok || lm.Room != "general" {
		t.Errorf("unexpected payload %#v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: send-message carries room, body, kind and file reference
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"event":"send-message","data":{"room":"general","message":"hi","type":"file","file":"/uploads/a.png"}}`)

	event, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != EventSendMessage {
		t.Fatalf("expected event %q, got %q", EventSendMessage, event)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.Room != "general" || sm.Message != "hi" || sm.Type != "file" || sm.File != "/uploads/a.png" {
		t.Errorf("unexpected payload: %+v", sm)
	}
}

func TestParseClientMessage_Typing(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"event":"typing","data":{"room":"general","isTyping":true}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tm := msg.(TypingMsg)
	if !tm.IsTyping || tm.Room != "general" {
		t.Errorf("unexpected payload: %+v", tm)
	}
}

func TestParseClientMessage_NoData(t *testing.T) {
	for _, in := range []string{
		`{"event":"get-online-users"}`,
		`{"event":"ping"}`,
		`{"event":"send-message","data":null}`,
	} {
		if _, _, err := ParseClientMessage([]byte(in)); err != nil {
			t.Errorf("unexpected error for %s: %v", in, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: malformed frames and unknown events
// ---------------------------------------------------------------------------

func TestParseClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantEvent string
	}{
		{"not json", `hello`, ""},
		{"missing event", `{"data":"general"}`, ""},
		{"unknown event", `{"event":"make-coffee"}`, "make-coffee"},
		{"server-only event", `{"event":"receive-message","data":{}}`, "receive-message"},
		{"wrong payload shape", `{"event":"typing","data":"yes"}`, "typing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, msg, err := ParseClientMessage([]byte(tt.input))
			if err == nil {
				t.Fatalf("expected error, got msg %#v", msg)
			}
			if event != tt.wantEvent {
				t.Errorf("expected event %q, got %q", tt.wantEvent, event)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: server envelopes
// ---------------------------------------------------------------------------

func TestNewServerMessage_Typing(t *testing.T) {
	data, err := NewServerMessage(EventTyping, TypingNotice{Username: "bob", IsTyping: false, Room: "general"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env struct {
		Event string       `json:"event"`
		Data  TypingNotice `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if env.Event != EventTyping {
		t.Errorf("expected event %q, got %q", EventTyping, env.Event)
	}
	if env.Data.Username != "bob" || env.Data.IsTyping {
		t.Errorf("unexpected data: %+v", env.Data)
	}
	if !strings.Contains(string(data), `"isTyping":false`) {
		t.Errorf("isTyping=false must be encoded explicitly: %s", data)
	}
}

func TestNewServerMessage_Notification(t *testing.T) {
	data, err := NewServerMessage(EventNotification, "alice joined general")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"event":"notification","data":"alice joined general"}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestNewServerMessage_NilPayload(t *testing.T) {
	data, err := NewServerMessage(EventPong, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"event":"pong"}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}

func TestNewServerMessage_PrivateMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := NewServerMessage(EventPrivateMessage, PrivateMessage{From: "alice", Message: "psst", Timestamp: ts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"timestamp":"2026-03-01T12:00:00Z"`) {
		t.Errorf("unexpected timestamp encoding: %s", data)
	}
}

func TestNewServerMessage_Unmarshalable(t *testing.T) {
	if _, err := NewServerMessage(EventError, make(chan int)); err == nil {
		t.Fatal("expected error for unmarshalable payload")
	}
}
