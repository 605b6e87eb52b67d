// Package api serves read-only JSON snapshots of presence and rooms.
package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
)

// RoomInfo is one entry of the /rooms response.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Routes returns a router serving /online and /rooms.
func Routes(reg *presence.Registry, rooms *room.Table) chi.Router {
	r := chi.NewRouter()

	r.Get("/online", func(w http.ResponseWriter, _ *http.Request) {
		users := reg.List()
		out := make([]protocol.UserPresence, len(users))
		for i, u := range users {
			out[i] = protocol.UserPresence{UserID: u.ID, Username: u.Username}
		}
		writeJSON(w, out)
	})

	r.Get("/rooms", func(w http.ResponseWriter, _ *http.Request) {
		counts := rooms.Rooms()
		out := make([]RoomInfo, 0, len(counts))
		for name, n := range counts {
			out = append(out, RoomInfo{Name: name, Members: n})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		writeJSON(w, out)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
