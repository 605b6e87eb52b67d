// Package session tracks the lifecycle of a realtime connection. Machine is
// the per-connection state machine consulted by every event handler; Store
// optionally mirrors live sessions into Redis so operators can inspect them.
package session

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// State is a connection lifecycle state.
type State int32

const (
	Connecting State = iota
	Authenticated
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrInvalidTransition is returned when a transition is not permitted from
// the current state.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// allowed lists the legal edges. Closed is terminal; Active loops on itself
// so that room switches are plain transitions.
var allowed = map[State][]State{
	Connecting:    {Authenticated, Closed},
	Authenticated: {Active, Closed},
	Active:        {Active, Closed},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine is a lock-free connection state machine. The zero value is in
// the Connecting state.
type Machine struct {
	state atomic.Int32
}

// NewMachine returns a Machine in the Connecting state.
func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Transition moves the machine to the given state if the edge from the
// current state is legal.
func (m *Machine) Transition(to State) error {
	for {
		from := m.State()
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if m.state.CompareAndSwap(int32(from), int32(to)) {
			return nil
		}
	}
}

// Close moves the machine to Closed from any state. It returns true only for
// the call that performed the move, which makes it the guard for running
// teardown exactly once.
func (m *Machine) Close() bool {
	for {
		from := m.State()
		if from == Closed {
			return false
		}
		if m.state.CompareAndSwap(int32(from), int32(Closed)) {
			return true
		}
	}
}

// IsClosed reports whether the machine reached its terminal state.
func (m *Machine) IsClosed() bool {
	return m.State() == Closed
}
