package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// State is a stage of a single synthesize call.
type State string

const (
	StateIdle       State = "idle"
	StateRecalling  State = "recalling"
	StateGenerating State = "generating"
	StateExtracting State = "extracting"
	StateExecuting  State = "executing"
	StateRecording  State = "recording"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the legal successors of each state. Failures leave
// through Reset rather than through this table.
var transitions = map[State][]State{
	StateIdle:       {StateRecalling},
	StateRecalling:  {StateGenerating},
	StateGenerating: {StateExtracting},
	StateExtracting: {StateExecuting, StateRecording, StateIdle},
	StateExecuting:  {StateRecording},
	StateRecording:  {StateIdle},
}

// Machine tracks the current state and publishes every change.
type Machine struct {
	mu        sync.RWMutex
	state     State
	requestID string
	bus       *EventBus
}

func NewMachine(bus *EventBus) *Machine {
	return &Machine{state: StateIdle, bus: bus}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Begin starts a run for requestID. The machine must be idle.
func (m *Machine) Begin(requestID string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: request already in progress (%s)", ErrInvalidTransition, state)
	}
	m.requestID = requestID
	m.mu.Unlock()
	return m.Transition(StateRecalling)
}

// Transition moves to next if the table allows it.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	from := m.state
	if !allowed(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.state = next
	id := m.requestID
	m.mu.Unlock()

	m.publish(id, from, next)
	return nil
}

// Reset returns the machine to idle from any state.
func (m *Machine) Reset() {
	m.mu.Lock()
	from := m.state
	id := m.requestID
	m.state = StateIdle
	m.requestID = ""
	m.mu.Unlock()

	if from != StateIdle {
		m.publish(id, from, StateIdle)
	}
}

func (m *Machine) publish(id string, from, to State) {
	if m.bus == nil {
		return
	}
	m.bus.PublishWithData(EventStateChanged, id, map[string]any{
		"from": from,
		"to":   to,
	})
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
