package room

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/auth"
)

type fakeMember struct {
	id   string
	user auth.Identity

	mu   sync.Mutex
	sent []string // event:data
	full bool
}

func newMember(id, username string) *fakeMember {
	return &fakeMember{id: id, user: auth.Identity{ID: "u-" + id, Username: username}}
}

func (m *fakeMember) ID() string              { return m.id }
func (m *fakeMember) Identity() auth.Identity { return m.user }

func (m *fakeMember) Send(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		m.sent = append(m.sent, "raw:"+string(data))
		return true
	}
	var text string
	if json.Unmarshal(env.Data, &text) == nil {
		m.sent = append(m.sent, env.Event+":"+text)
	} else {
		m.sent = append(m.sent, env.Event+":"+string(env.Data))
	}
	return true
}

func (m *fakeMember) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func TestJoin_NotifiesOthersOnly(t *testing.T) {
	tbl := NewTable(zerolog.Nop())
	alice := newMember("a", "alice")
	bob := newMember("b", "bob")

	require.True(t, tbl.Join("general", alice))
	require.True(t, tbl.Join("general", bob))

	assert.Equal(t, []string{"notification:bob joined general"}, alice.received())
	assert.Empty(t, bob.received())
	assert.Len(t, tbl.MembersOf("general"), 2)
}

func TestJoin_Twice(t *testing.T) {
	tbl := NewTable(zerolog.Nop())
	alice := newMember("a", "alice")
	bob := newMember("b", "bob")
	tbl.Join("general", alice)
	tbl.Join("general", bob)

	assert.False(t, tbl.Join("general", bob))
	assert.Len(t, alice.received(), 1)
	assert.Len(t, tbl.MembersOf("general"), 2)
}

func TestLeave_NotifiesAndPrunes(t *testing.T) {
	tbl := NewTable(zerolog.Nop())
	alice := newMember("a", "alice")
	bob := newMember("b", "bob")
	tbl.Join("general", alice)
	tbl.Join("general", bob)

	require.True(t, tbl.Leave("general", bob))
	assert.Equal(t, "notification:bob left general", alice.received()[1])
	assert.False(t, tbl.IsMember("general", "b"))
	assert.False(t, tbl.Leave("general", bob))

	require.True(t, tbl.Leave("general", alice))
	assert.Empty(t, tbl.Rooms(), "empty room is pruned")
	assert.Empty(t, tbl.RoomsOf("a"))
}

func TestMultiRoomMembership(t *testing.T) {
	tbl := NewTable(zerolog.Nop())
	alice := newMember("a", "alice")
	tbl.Join("general", alice)
	tbl.Join("random", alice)

	assert.Equal(t, []string{"general", "random"}, tbl.RoomsOf("a"))
	assert.Equal(t, map[string]int{"general": 1, "random": 1}, tbl.Rooms())

	left := tbl.LeaveAll(alice)
	assert.Equal(t, []string{"general", "random"}, left)
	assert.Empty(t, tbl.Rooms())
	assert.Empty(t, tbl.RoomsOf("a"))
}

func TestLeaveAll_Silent(t *testing.T) {
	tbl := NewTable(zerolog.Nop())
	alice := newMember("a", "alice")
	bob := newMember("b", "bob")
	tbl.Join("general", alice)
	tbl.Join("general", bob)

	tbl.LeaveAll(bob)
	assert.Len(t, alice.received(), 1, "only the join notification")
	assert.Equal(t, []Member{alice}, tbl.MembersOf("general"))
}

func TestBroadcast_ExceptAndCount(t *testing.T) {
	tbl := NewTable(zerolog.Nop())
	alice := newMember("a", "alice")
	bob := newMember("b", "bob")
	carol := newMember("c", "carol")
	for _, m := range []*fakeMember{alice, bob, carol} {
		tbl.Join("general", m)
	}
	carol.full = true

	n := tbl.Broadcast("general", []byte(`{"event":"x"}`), "a")
	assert.Equal(t, 1, n, "alice excluded, carol's queue refused")
	assert.Equal(t, 0, tbl.Broadcast("nowhere", []byte(`{}`), ""))
}

func TestTable_ConcurrentJoinLeave(t *testing.T) {
	tbl := NewTable(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newMember(fmt.Sprintf("m%d", i), fmt.Sprintf("user%d", i))
			room := fmt.Sprintf("room%d", i%5)
			tbl.Join(room, m)
			tbl.Broadcast(room, []byte(`{"event":"x"}`), m.ID())
			tbl.LeaveAll(m)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, tbl.Rooms())
}
