// Package room maintains which connections are subscribed to which rooms
// and fans raw frames out to a room's members.
package room

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
)

// Member is a connection that can be subscribed to rooms.
type Member interface {
	ID() string
	Identity() auth.Identity
	Send(data []byte) bool
}

// Table maps room name to its members, with a reverse index from
// connection id to rooms. A connection may be in any number of rooms;
// whether clients use one room at a time is decided by the caller.
type Table struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Member // room -> conn id -> member
	byConn map[string]map[string]struct{}
	log    zerolog.Logger
}

// NewTable creates an empty Table.
func NewTable(logger zerolog.Logger) *Table {
	return &Table{
		rooms:  make(map[string]map[string]Member),
		byConn: make(map[string]map[string]struct{}),
		log:    logger.With().Str("component", "room").Logger(),
	}
}

// Join subscribes m to room and tells the room's other members. It returns
// false if m was already a member, in which case nobody is notified.
func (t *Table) Join(room string, m Member) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[room]
	if !ok {
		members = make(map[string]Member)
		t.rooms[room] = members
		metrics.Rooms.Set(float64(len(t.rooms)))
	}
	if _, dup := members[m.ID()]; dup {
		return false
	}
	members[m.ID()] = m

	idx, ok := t.byConn[m.ID()]
	if !ok {
		idx = make(map[string]struct{})
		t.byConn[m.ID()] = idx
	}
	idx[room] = struct{}{}

	t.notifyLocked(room, fmt.Sprintf("%s joined %s", m.Identity().Username, room), m.ID())
	return true
}

// Leave unsubscribes m from room and tells the remaining members. Empty
// rooms are pruned.
func (t *Table) Leave(room string, m Member) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.removeLocked(room, m.ID()) {
		return false
	}
	t.notifyLocked(room, fmt.Sprintf("%s left %s", m.Identity().Username, room), "")
	return true
}

// LeaveAll removes m from every room it is in and returns those rooms. It
// is used on disconnect, where presence announces the departure, so no
// room notification is sent.
func (t *Table) LeaveAll(m Member) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.byConn[m.ID()]
	left := make([]string, 0, len(idx))
	for room := range idx {
		left = append(left, room)
	}
	for _, room := range left {
		t.removeLocked(room, m.ID())
	}
	sort.Strings(left)
	return left
}

func (t *Table) removeLocked(room, connID string) bool {
	members, ok := t.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(t.rooms, room)
		metrics.Rooms.Set(float64(len(t.rooms)))
	}

	if idx, ok := t.byConn[connID]; ok {
		delete(idx, room)
		if len(idx) == 0 {
			delete(t.byConn, connID)
		}
	}
	return true
}

func (t *Table) notifyLocked(room, text, exceptID string) {
	data, err := protocol.NewServerMessage(protocol.EventNotification, text)
	if err != nil {
		t.log.Error().Err(err).Str("room", room).Msg("encode notification")
		return
	}
	t.broadcastLocked(room, data, exceptID)
}

// Broadcast sends data to every member of room except exceptID (empty for
// no exception) and returns the number of members that accepted it.
func (t *Table) Broadcast(room string, data []byte, exceptID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.broadcastLocked(room, data, exceptID)
}

func (t *Table) broadcastLocked(room string, data []byte, exceptID string) int {
	delivered := 0
	for id, m := range t.rooms[room] {
		if id == exceptID {
			continue
		}
		if m.Send(data) {
			delivered++
		}
	}
	return delivered
}

// MembersOf returns a snapshot of room's members ordered by connection id.
func (t *Table) MembersOf(room string) []Member {
	t.mu.RLock()
	members := make([]Member, 0, len(t.rooms[room]))
	for _, m := range t.rooms[room] {
		members = append(members, m)
	}
	t.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ID() < members[j].ID() })
	return members
}

// RoomsOf returns the rooms a connection belongs to, sorted.
func (t *Table) RoomsOf(connID string) []string {
	t.mu.RLock()
	rooms := make([]string, 0, len(t.byConn[connID]))
	for room := range t.byConn[connID] {
		rooms = append(rooms, room)
	}
	t.mu.RUnlock()

	sort.Strings(rooms)
	return rooms
}

// IsMember reports whether connID is subscribed to room.
func (t *Table) IsMember(room, connID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[room][connID]
	return ok
}

// Rooms returns the member count of every non-empty room.
func (t *Table) Rooms() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.rooms))
	for room, members := range t.rooms {
		out[room] = len(members)
	}
	return out
}
