package ws

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{" https://Chat.Example ", "not a url", ""}, zerolog.Nop())

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://chat.example", true},
		{"HTTPS://CHAT.EXAMPLE", true},
		{"https://evil.example", false},
		{"http://chat.example", false},
		{"garbage", false},
		{"", true}, // non-browser client
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, p.allows(r), tt.origin)
	}
}

func TestOriginPolicy_EmptyOrWildcardAllowsAll(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")

	assert.True(t, newOriginPolicy(nil, zerolog.Nop()).allows(r))
	assert.True(t, newOriginPolicy([]string{"*"}, zerolog.Nop()).allows(r))
}
