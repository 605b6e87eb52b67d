package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/typing"
)

// Conn is a live, authenticated connection as seen by the chat layer.
type Conn interface {
	room.Member
	Session() *session.Machine
	// Kick closes the connection asynchronously; teardown follows through
	// Disconnect.
	Kick(reason string)
}

// Mirror records room changes outside the process. session.Store
// implements it.
type Mirror interface {
	SetRooms(ctx context.Context, connID string, state session.State, rooms []string) error
}

// Events lists the client events Handle understands.
var Events = []string{
	protocol.EventJoinRoom,
	protocol.EventLeaveRoom,
	protocol.EventSendMessage,
	protocol.EventTyping,
	protocol.EventPrivateMessage,
	protocol.EventGetOnlineUsers,
}

// ServiceConfig controls session policy.
type ServiceConfig struct {
	// MultiRoom lets a connection stay in several rooms. When false,
	// joining a room leaves the previous one.
	MultiRoom bool
	// MessageRule throttles send-message and private-message per user.
	MessageRule ratelimit.Rule
}

// Service wires the shared tables together for each connection: it
// registers presence on connect, routes events and runs teardown.
type Service struct {
	config      ServiceConfig
	presence    *presence.Registry
	rooms       *room.Table
	typing      *typing.Tracker
	broadcaster *Broadcaster
	limiter     ratelimit.Allower
	mirror      Mirror
	now         func() time.Time
	log         zerolog.Logger
}

// NewService creates a Service over the given components.
func NewService(config ServiceConfig, reg *presence.Registry, rooms *room.Table, tracker *typing.Tracker, b *Broadcaster, logger zerolog.Logger) *Service {
	return &Service{
		config:      config,
		presence:    reg,
		rooms:       rooms,
		typing:      tracker,
		broadcaster: b,
		now:         time.Now,
		log:         logger.With().Str("component", "chat").Logger(),
	}
}

// SetLimiter enables per-user message rate limiting.
func (s *Service) SetLimiter(l ratelimit.Allower) { s.limiter = l }

// SetMirror enables mirroring room changes.
func (s *Service) SetMirror(m Mirror) { s.mirror = m }

// Connect registers an authenticated connection in the presence registry.
// A previous connection of the same user is told and kicked; its own
// teardown will not disturb the new registration.
func (s *Service) Connect(c Conn) {
	replaced := s.presence.Register(c.Identity(), c)
	if replaced == nil {
		return
	}

	s.log.Info().Str("user_id", c.Identity().ID).Str("stale_conn", replaced.ID()).Msg("user reconnected, closing previous connection")
	if data, err := protocol.NewServerMessage(protocol.EventNotification, "signed in from another connection"); err == nil {
		replaced.Send(data)
	}
	if stale, ok := replaced.(Conn); ok {
		stale.Kick("replaced")
	}
}

// Disconnect runs teardown: typing flags are cleared while the connection
// is still a member so the stop reaches the room, then the connection
// leaves every room and presence. The caller releases the transport after
// this returns.
func (s *Service) Disconnect(c Conn) {
	rooms := s.rooms.RoomsOf(c.ID())
	s.typing.Clear(c, rooms)
	s.rooms.LeaveAll(c)
	s.presence.Unregister(c.Identity(), c)
}

// Handle routes one parsed client event. Events arriving after the
// connection closed are dropped.
func (s *Service) Handle(c Conn, msg interface{}) {
	if c.Session().IsClosed() {
		return
	}

	var err error
	switch m := msg.(type) {
	case protocol.JoinRoomMsg:
		err = s.JoinRoom(c, m.Room)
	case protocol.LeaveRoomMsg:
		err = s.LeaveRoom(c, m.Room)
	case protocol.SendMessageMsg:
		_, err = s.SendMessage(c, m)
	case protocol.TypingMsg:
		err = s.SetTyping(c, m)
	case protocol.PrivateMessageMsg:
		err = s.PrivateMessage(c, m)
	case protocol.GetOnlineUsersMsg:
		s.SendOnlineUsers(c)
	default:
		s.log.Warn().Str("conn_id", c.ID()).Msgf("unhandled payload %T", msg)
	}
	s.reportError(c, err)
}

// JoinRoom subscribes c to roomName. Under the single-room policy the
// connection first leaves every other room.
func (s *Service) JoinRoom(c Conn, roomName string) error {
	if err := ValidateRoomName(roomName); err != nil {
		return err
	}

	if !s.config.MultiRoom {
		for _, prev := range s.rooms.RoomsOf(c.ID()) {
			if prev != roomName {
				s.typing.Clear(c, []string{prev})
				s.rooms.Leave(prev, c)
			}
		}
	}

	s.rooms.Join(roomName, c)
	if err := c.Session().Transition(session.Active); err != nil {
		// Lost a race with teardown; undo so no stale membership survives.
		s.rooms.LeaveAll(c)
		return nil
	}

	s.log.Debug().Str("conn_id", c.ID()).Str("user", c.Identity().Username).Str("room", roomName).Msg("joined room")
	s.mirrorRooms(c)
	return nil
}

// LeaveRoom unsubscribes c from roomName.
func (s *Service) LeaveRoom(c Conn, roomName string) error {
	if !s.rooms.IsMember(roomName, c.ID()) {
		return ErrNotMember
	}
	s.typing.Clear(c, []string{roomName})
	s.rooms.Leave(roomName, c)
	s.mirrorRooms(c)
	return nil
}

// SendMessage publishes a room message on behalf of c. The sender's typing
// flag in that room is cleared once the message is out.
func (s *Service) SendMessage(c Conn, m protocol.SendMessageMsg) (Message, error) {
	if !s.allow(c) {
		return Message{}, ErrRateLimited
	}

	kind := ParseKind(m.Type)
	if kind == KindNotification {
		return Message{}, invalid(CodeInvalidKind, "clients cannot send notifications")
	}

	msg, err := s.broadcaster.Publish(c, m.Room, m.Message, kind, m.File)
	if err != nil {
		return Message{}, err
	}
	s.typing.Clear(c, []string{m.Room})
	return msg, nil
}

// SetTyping records a typing change from c. Only members may type in a room.
func (s *Service) SetTyping(c Conn, m protocol.TypingMsg) error {
	if !s.rooms.IsMember(m.Room, c.ID()) {
		if !m.IsTyping {
			return nil
		}
		return ErrNotMember
	}
	s.typing.SetTyping(m.Room, c, m.IsTyping)
	return nil
}

// PrivateMessage delivers a direct message to an online user by username.
func (s *Service) PrivateMessage(c Conn, m protocol.PrivateMessageMsg) error {
	if !s.allow(c) {
		return ErrRateLimited
	}
	if err := ValidateBody(KindText, m.Message, ""); err != nil {
		return err
	}

	_, to, ok := s.presence.Lookup(m.To)
	if !ok {
		return ErrNotFound
	}

	data, err := protocol.NewServerMessage(protocol.EventPrivateMessage, protocol.PrivateMessage{
		From:      c.Identity().Username,
		Message:   m.Message,
		Timestamp: s.now(),
	})
	if err != nil {
		return err
	}
	to.Send(data)
	metrics.MessagesTotal.WithLabelValues("private").Inc()
	return nil
}

// SendOnlineUsers replies with the presence snapshot.
func (s *Service) SendOnlineUsers(c Conn) {
	users := s.presence.List()
	out := make([]protocol.UserPresence, len(users))
	for i, u := range users {
		out[i] = protocol.UserPresence{UserID: u.ID, Username: u.Username}
	}
	data, err := protocol.NewServerMessage(protocol.EventOnlineUsers, out)
	if err != nil {
		s.log.Error().Err(err).Msg("encode online users")
		return
	}
	c.Send(data)
}

func (s *Service) allow(c Conn) bool {
	if s.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	ok, err := s.limiter.Allow(ctx, c.Identity().ID, s.config.MessageRule)
	if err != nil {
		s.log.Warn().Err(err).Msg("rate limiter error")
	}
	return ok
}

func (s *Service) mirrorRooms(c Conn) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.mirror.SetRooms(ctx, c.ID(), c.Session().State(), s.rooms.RoomsOf(c.ID())); err != nil {
		s.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("session mirror update failed")
	}
}

// reportError sends err to the client as an error event. Non-validation
// errors are logged and reported generically.
func (s *Service) reportError(c Conn, err error) {
	if err == nil {
		return
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		s.log.Error().Err(err).Str("conn_id", c.ID()).Msg("event failed")
		verr = &ValidationError{Code: "internal_error", Message: "internal error"}
	}

	data, encErr := protocol.NewServerMessage(protocol.EventError, protocol.ErrorMsg{Code: verr.Code, Message: verr.Message})
	if encErr != nil {
		s.log.Error().Err(encErr).Msg("encode error event")
		return
	}
	c.Send(data)
}
