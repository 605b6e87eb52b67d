package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/moderation"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
)

// Broadcaster validates room messages and fans them out. Fan-out and sink
// hand-off happen under one lock, so every member and every sink sees
// messages in the order they were accepted. Lock order is broadcaster then
// room table.
type Broadcaster struct {
	mu     sync.Mutex
	rooms  *room.Table
	filter *moderation.Filter
	sinks  []Sink
	now    func() time.Time
	log    zerolog.Logger
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithFilter screens text bodies with f.
func WithFilter(f *moderation.Filter) BroadcasterOption {
	return func(b *Broadcaster) { b.filter = f }
}

// WithSinks hands accepted messages to sinks.
func WithSinks(sinks ...Sink) BroadcasterOption {
	return func(b *Broadcaster) { b.sinks = append(b.sinks, sinks...) }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) BroadcasterOption {
	return func(b *Broadcaster) { b.now = now }
}

// NewBroadcaster creates a Broadcaster that delivers through rooms.
func NewBroadcaster(rooms *room.Table, logger zerolog.Logger, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		rooms: rooms,
		now:   time.Now,
		log:   logger.With().Str("component", "broadcaster").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish validates the request and delivers the resulting message to every
// member of roomName, sender included. The sender must be a member.
func (b *Broadcaster) Publish(sender room.Member, roomName, body string, kind Kind, fileRef string) (Message, error) {
	start := time.Now()

	if err := ValidateRoomName(roomName); err != nil {
		return b.reject(err)
	}
	if !b.rooms.IsMember(roomName, sender.ID()) {
		return b.reject(ErrNotMember)
	}
	if err := ValidateBody(kind, body, fileRef); err != nil {
		return b.reject(err)
	}
	if kind == KindText && b.filter != nil {
		if res := b.filter.Check(body); res.Blocked {
			b.log.Info().Str("room", roomName).Str("user_id", sender.Identity().ID).
				Str("reason", res.Reason).Str("term", res.Term).Msg("message blocked")
			return b.reject(invalid(CodeBlocked, "message blocked by content filter"))
		}
	}

	id := sender.Identity()
	msg := Message{
		ID:       newMessageID(),
		Room:     roomName,
		Sender:   id.Username,
		SenderID: id.ID,
		Body:     body,
		Kind:     kind,
		FileRef:  fileRef,
	}

	b.mu.Lock()
	msg.Timestamp = b.now()
	data, err := protocol.NewServerMessage(protocol.EventReceiveMessage, msg)
	if err != nil {
		b.mu.Unlock()
		return Message{}, err
	}
	delivered := b.rooms.Broadcast(roomName, data, "")
	for _, s := range b.sinks {
		s.Accept(msg)
	}
	b.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	metrics.FanoutSize.Observe(float64(delivered))
	metrics.PublishLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}

func (b *Broadcaster) reject(err error) (Message, error) {
	metrics.MessagesTotal.WithLabelValues("rejected").Inc()
	return Message{}, err
}
