// Package chat implements room messaging: validating and fanning out
// messages in accepted order, and routing client events to the presence,
// room and typing components for the lifetime of a connection.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the message type shown to clients.
type Kind string

const (
	KindText         Kind = "text"
	KindFile         Kind = "file"
	KindNotification Kind = "notification"
)

// Message is a room message as delivered in receive-message events and
// handed to sinks.
type Message struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"message"`
	Kind      Kind      `json:"type"`
	FileRef   string    `json:"file,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives every accepted message in accepted order. Accept is called
// on the publish path and must not block.
type Sink interface {
	Accept(msg Message)
}

// newMessageID returns a time-ordered UUIDv7, falling back to a random v4.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
