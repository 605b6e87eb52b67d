package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/auth"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
)

type member struct {
	id   string
	user auth.Identity
}

func (m member) ID() string              { return m.id }
func (m member) Identity() auth.Identity { return m.user }
func (m member) Send([]byte) bool        { return true }

func get(t *testing.T, h http.Handler, path string, v interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestRoutes(t *testing.T) {
	reg := presence.NewRegistry(zerolog.Nop())
	rooms := room.NewTable(zerolog.Nop())

	alice := member{"c1", auth.Identity{ID: "u1", Username: "alice"}}
	bob := member{"c2", auth.Identity{ID: "u2", Username: "bob"}}
	reg.Register(alice.user, alice)
	reg.Register(bob.user, bob)
	rooms.Join("general", alice)
	rooms.Join("general", bob)
	rooms.Join("announcements", bob)

	h := Routes(reg, rooms)

	var online []protocol.UserPresence
	get(t, h, "/online", &online)
	assert.Equal(t, []protocol.UserPresence{{UserID: "u1", Username: "alice"}, {UserID: "u2", Username: "bob"}}, online)

	var list []RoomInfo
	get(t, h, "/rooms", &list)
	assert.Equal(t, []RoomInfo{{Name: "announcements", Members: 1}, {Name: "general", Members: 2}}, list)
}

func TestRoutes_Empty(t *testing.T) {
	h := Routes(presence.NewRegistry(zerolog.Nop()), room.NewTable(zerolog.Nop()))

	var online []protocol.UserPresence
	get(t, h, "/online", &online)
	assert.Empty(t, online)
}
