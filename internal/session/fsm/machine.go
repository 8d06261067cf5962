package fsm

import (
	"fmt"
	"sync"
)

// State describes where a speaker's stream sits in the segmentation
// cycle.
type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
	StateFlushed      State = "flushed"
)

// Machine is a lightweight deterministic per-speaker state machine.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a state machine in the idle state.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnSpeech marks audio arriving for this speaker.
func (m *Machine) OnSpeech() {
	m.transition(StateAccumulating)
}

// OnFlush marks the accumulated utterance handed off.
func (m *Machine) OnFlush() {
	m.transition(StateFlushed)
}

// OnReset returns the speaker to idle, ready for a fresh utterance.
func (m *Machine) OnReset() {
	m.transition(StateIdle)
}

// Force sets state unconditionally.
func (m *Machine) Force(state State) error {
	switch state {
	case StateIdle, StateAccumulating, StateFlushed:
		m.transition(state)
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}

func (m *Machine) transition(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
