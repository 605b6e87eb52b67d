// Package typing tracks who is typing in each room and announces changes
// to the room's other members.
package typing

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
)

// Tracker holds, per room, the connections currently typing and the
// username behind each. Members see one start/stop per username, so a user
// connected twice does not flicker. Announcements are sent while the
// tracker lock is held so members observe start/stop in the order they
// happened. Lock order is tracker then room table.
type Tracker struct {
	mu     sync.Mutex
	rooms  *room.Table
	typing map[string]map[string]string // room -> conn id -> username
	log    zerolog.Logger
}

// NewTracker creates a Tracker that fans out through rooms.
func NewTracker(rooms *room.Table, logger zerolog.Logger) *Tracker {
	return &Tracker{
		rooms:  rooms,
		typing: make(map[string]map[string]string),
		log:    logger.With().Str("component", "typing").Logger(),
	}
}

// SetTyping records m's typing state in roomName. Other members are told
// only when the state actually changes; the return value reports that.
func (t *Tracker) SetTyping(roomName string, m room.Member, isTyping bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.setLocked(roomName, m, isTyping) {
		return false
	}
	t.announceLocked(roomName, m, isTyping)
	return true
}

// Clear stops m typing in each of rooms, announcing the stop wherever it
// was marked. Call it before m leaves the rooms so the announcement still
// reaches their members.
func (t *Tracker) Clear(m room.Member, rooms []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, roomName := range rooms {
		if t.setLocked(roomName, m, false) {
			t.announceLocked(roomName, m, false)
		}
	}
}

// setLocked updates m's flag and reports whether m's username changed
// between typing and not typing in roomName.
func (t *Tracker) setLocked(roomName string, m room.Member, isTyping bool) bool {
	set := t.typing[roomName]
	username := m.Identity().Username
	_, present := set[m.ID()]

	switch {
	case isTyping && !present:
		if set == nil {
			set = make(map[string]string)
			t.typing[roomName] = set
		}
		wasTyping := usernameIn(set, username)
		set[m.ID()] = username
		return !wasTyping
	case !isTyping && present:
		delete(set, m.ID())
		if len(set) == 0 {
			delete(t.typing, roomName)
		}
		return !usernameIn(set, username)
	}
	return false
}

func usernameIn(set map[string]string, username string) bool {
	for _, name := range set {
		if name == username {
			return true
		}
	}
	return false
}

func (t *Tracker) announceLocked(roomName string, m room.Member, isTyping bool) {
	data, err := protocol.NewServerMessage(protocol.EventTyping, protocol.TypingNotice{
		Username: m.Identity().Username,
		IsTyping: isTyping,
		Room:     roomName,
	})
	if err != nil {
		t.log.Error().Err(err).Msg("encode typing notice")
		return
	}
	t.rooms.Broadcast(roomName, data, m.ID())
}

// Typing returns the usernames typing in roomName, sorted.
func (t *Tracker) Typing(roomName string) []string {
	t.mu.Lock()
	seen := make(map[string]struct{}, len(t.typing[roomName]))
	names := make([]string, 0, len(t.typing[roomName]))
	for _, name := range t.typing[roomName] {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	t.mu.Unlock()

	sort.Strings(names)
	return names
}
