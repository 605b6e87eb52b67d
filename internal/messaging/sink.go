package messaging

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/metrics"
)

// Publisher is the subset of NATSClient the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// RoomSink republishes accepted room messages as JSON on their room
// subject. Accept only enqueues; a single worker publishes in accepted
// order. When the queue is full the message is dropped and counted.
type RoomSink struct {
	pub    Publisher
	queue  chan chat.Message
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	log    zerolog.Logger
}

// NewRoomSink starts a sink with a queue of size entries.
func NewRoomSink(pub Publisher, size int, logger zerolog.Logger) *RoomSink {
	s := &RoomSink{
		pub:   pub,
		queue: make(chan chat.Message, size),
		log:   logger.With().Str("component", "nats_sink").Logger(),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Accept implements chat.Sink. Messages accepted after Close are dropped.
func (s *RoomSink) Accept(msg chat.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.SinkDropped.WithLabelValues("nats").Inc()
		return
	}

	select {
	case s.queue <- msg:
	default:
		metrics.SinkDropped.WithLabelValues("nats").Inc()
		s.log.Warn().Str("room", msg.Room).Str("msg_id", msg.ID).Msg("queue full, message dropped")
	}
}

func (s *RoomSink) run() {
	defer s.wg.Done()
	for msg := range s.queue {
		data, err := json.Marshal(msg)
		if err != nil {
			s.log.Error().Err(err).Msg("encode message")
			continue
		}
		if err := s.pub.Publish(RoomSubject(msg.Room), data); err != nil {
			metrics.SinkDropped.WithLabelValues("nats").Inc()
			s.log.Warn().Err(err).Str("room", msg.Room).Msg("publish failed")
		}
	}
}

// Close stops accepting messages and waits for the queue to drain.
func (s *RoomSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
