// Package conversation runs the active conversation session: its lifecycle
// state machine, ordered message log, typing signals and outbound sends.
package conversation

import (
	"fmt"
	"sync"

	"chatcore/internal/bus"
)

// State is a conversation session lifecycle state.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateOpen    State = "open"
)

// StateChange is the payload of conversation.state_changed events.
type StateChange struct {
	From State
	To   State
}

var validTransitions = map[State][]State{
	StateClosed:  {StateOpening},
	StateOpening: {StateOpen, StateClosed},
	StateOpen:    {StateClosed},
}

// Machine tracks the session state and publishes every transition.
type Machine struct {
	mu    sync.Mutex
	state State
	bus   *bus.Bus
}

// NewMachine creates a state machine in the Closed state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{state: StateClosed, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state, rejecting anything outside the
// lifecycle graph. Closed→Closed is absorbed as a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == to {
		return nil
	}
	allowed := false
	for _, s := range validTransitions[m.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid transition %s -> %s", m.state, to)
	}

	from := m.state
	m.state = to
	if m.bus != nil {
		m.bus.Emit(bus.KindConversationState, StateChange{From: from, To: to})
	}
	return nil
}
