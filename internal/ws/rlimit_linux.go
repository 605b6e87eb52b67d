//go:build linux

package ws

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// headroom covers listeners, Redis, NATS and database sockets on top of
// client connections.
const headroom = 1024

// RaiseFileLimit lifts the soft RLIMIT_NOFILE so maxConns client sockets
// fit, capped at the hard limit. It returns the resulting soft limit.
func RaiseFileLimit(maxConns int) (uint64, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("ws: getrlimit: %w", err)
	}

	want := uint64(maxConns) + headroom
	if want > rl.Max {
		want = rl.Max
	}
	if rl.Cur >= want {
		return rl.Cur, nil
	}

	rl.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("ws: setrlimit: %w", err)
	}
	return rl.Cur, nil
}
