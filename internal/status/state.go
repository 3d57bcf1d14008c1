package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wallchat/internal/bus"
)

// State is the push connection state shown to the presentation layer.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected, Reconnecting, Failed},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Disconnected, Failed},
	Failed:       {Connecting, Disconnected},
}

// Machine tracks push connection state. Transitions are pushed by the
// transport; readers only observe.
type Machine struct {
	mu      sync.RWMutex
	current State
	lastErr error
	bus     *bus.Bus
}

// NewMachine creates a machine in the Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Err returns the error that moved the machine into Failed, if any.
func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Transition moves to a new state, returning an error for a disallowed move.
// A transition to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	return m.transition(to, nil)
}

// Fail moves to Failed and records cause.
func (m *Machine) Fail(cause error) error {
	return m.transition(Failed, cause)
}

func (m *Machine) transition(to State, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.lastErr = cause
	m.bus.Publish(bus.NewEvent(bus.KindConnStateChanged, StatusChange{From: from, To: to, Err: cause}))
	return nil
}

// StatusChange is the payload for connection state events.
type StatusChange struct {
	From State
	To   State
	Err  error
}
