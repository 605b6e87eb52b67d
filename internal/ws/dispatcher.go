package ws

import (
	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/protocol"
)

// MessageHandler handles one parsed client event. msg is the concrete
// struct returned by protocol.ParseClientMessage, e.g. protocol.JoinRoomMsg.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming frames to registered handlers by event
// name. It answers ping itself and replies with an error event to
// malformed or unsupported frames; the connection stays open either way.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      zerolog.Logger
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(logger zerolog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Register associates a handler with an event name, replacing any earlier
// one. Register before the server starts accepting connections.
func (d *MessageDispatcher) Register(event string, handler MessageHandler) {
	d.handlers[event] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	event, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		if _, known := d.handlers[event]; event != "" && !known && event != protocol.EventPing {
			d.log.Debug().Str("conn_id", conn.ID()).Str("event", event).Msg("unsupported event")
			d.sendError(conn, protocol.CodeUnsupportedEvent, "unsupported event")
			return
		}
		d.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("parse error")
		d.sendError(conn, protocol.CodeParseError, "invalid message format")
		return
	}

	if event == protocol.EventPing {
		d.send(conn, protocol.EventPong, nil)
		return
	}

	handler, ok := d.handlers[event]
	if !ok {
		d.log.Debug().Str("conn_id", conn.ID()).Str("event", event).Msg("unsupported event")
		d.sendError(conn, protocol.CodeUnsupportedEvent, "unsupported event")
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	d.send(conn, protocol.EventError, protocol.ErrorMsg{Code: code, Message: message})
}

func (d *MessageDispatcher) send(conn *Connection, event string, payload interface{}) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		d.log.Error().Err(err).Str("event", event).Msg("encode reply")
		return
	}
	conn.Send(data)
}
