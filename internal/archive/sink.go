package archive

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/metrics"
)

// Sink is a chat.Sink that archives messages from a bounded queue on a
// background writer. A full queue drops the message.
type Sink struct {
	store        *Store
	queue        chan chat.Message
	writeTimeout time.Duration
	wg           sync.WaitGroup
	mu           sync.RWMutex
	closed       bool
	log          zerolog.Logger
}

// NewSink starts a writer draining a queue of size entries into store.
func NewSink(store *Store, size int, logger zerolog.Logger) *Sink {
	s := &Sink{
		store:        store,
		queue:        make(chan chat.Message, size),
		writeTimeout: 5 * time.Second,
		log:          logger.With().Str("component", "archive").Logger(),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Accept implements chat.Sink. Messages accepted after Close are dropped.
func (s *Sink) Accept(msg chat.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.SinkDropped.WithLabelValues("archive").Inc()
		return
	}

	select {
	case s.queue <- msg:
	default:
		metrics.SinkDropped.WithLabelValues("archive").Inc()
		s.log.Warn().Str("room", msg.Room).Str("msg_id", msg.ID).Msg("queue full, message dropped")
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for msg := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := s.store.Insert(ctx, msg)
		cancel()
		if err != nil {
			metrics.SinkDropped.WithLabelValues("archive").Inc()
			s.log.Error().Err(err).Str("msg_id", msg.ID).Msg("archive write failed")
		}
	}
}

// Close stops accepting messages and waits for queued writes.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
