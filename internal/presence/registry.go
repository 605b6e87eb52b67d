// Package presence keeps the set of users that currently hold a live
// connection and announces changes to every connected client.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
)

// Conn is the part of a connection the registry needs.
type Conn interface {
	ID() string
	Send(data []byte) bool
}

// Entry is one online user.
type Entry struct {
	Identity auth.Identity
	Conn     Conn
	Since    time.Time
	seq      uint64
}

// Registry maps user id to the connection that user is online with. A user
// id has at most one entry; registering again replaces the previous one.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	seq     uint64
	now     func() time.Time
	log     zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		now:     time.Now,
		log:     logger.With().Str("component", "presence").Logger(),
	}
}

// Register upserts the entry for id and announces user-online to every
// registered connection, the new one included. If another connection was
// registered for the same user it is returned so the caller can close it;
// it does not receive the announcement.
func (r *Registry) Register(id auth.Identity, c Conn) (replaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[id.ID]; ok && prev.Conn.ID() != c.ID() {
		replaced = prev.Conn
		r.log.Info().Str("user_id", id.ID).Str("stale_conn", prev.Conn.ID()).Msg("replacing stale connection")
	}

	r.seq++
	r.entries[id.ID] = &Entry{Identity: id, Conn: c, Since: r.now(), seq: r.seq}
	metrics.OnlineUsers.Set(float64(len(r.entries)))

	r.broadcastLocked(protocol.EventUserOnline, protocol.UserPresence{UserID: id.ID, Username: id.Username})
	return replaced
}

// Unregister removes the entry for id if it still belongs to c and
// announces user-offline to everyone left. A stale connection being torn
// down after its replacement registered leaves the registry untouched.
func (r *Registry) Unregister(id auth.Identity, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[id.ID]
	if !ok || cur.Conn.ID() != c.ID() {
		return false
	}
	delete(r.entries, id.ID)
	metrics.OnlineUsers.Set(float64(len(r.entries)))

	r.broadcastLocked(protocol.EventUserOffline, protocol.UserPresence{UserID: id.ID})
	return true
}

// broadcastLocked must be called with mu held so announcements reach
// clients in the order the registry changed.
func (r *Registry) broadcastLocked(event string, payload protocol.UserPresence) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encode presence event")
		return
	}
	for _, e := range r.entries {
		e.Conn.Send(data)
	}
}

// List returns the online users ordered by when they came online.
func (r *Registry) List() []auth.Identity {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].seq != entries[j].seq {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].Identity.ID < entries[j].Identity.ID
	})

	out := make([]auth.Identity, len(entries))
	for i, e := range entries {
		out[i] = e.Identity
	}
	return out
}

// Get returns the connection a user is online with.
func (r *Registry) Get(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// Lookup finds an online user by username. If several users share the
// name, the most recently connected one wins.
func (r *Registry) Lookup(username string) (auth.Identity, Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Entry
	for _, e := range r.entries {
		if e.Identity.Username == username && (best == nil || e.seq > best.seq) {
			best = e
		}
	}
	if best == nil {
		return auth.Identity{}, nil, false
	}
	return best.Identity, best.Conn, true
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
