package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/loykin/telenotify/internal/metrics"
)

// ErrInvalidTransition is returned for a state change the machine does not allow.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// State is the lifecycle state of a session.
//
// State Machine:
// Idle -> Starting -> Running -> {Succeeded | Failed | Cancelled}
// Starting -> LaunchFailed
// Starting -> Cancelled
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
	StateLaunchFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateLaunchFailed:
		return "launch_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateLaunchFailed:
		return true
	}
	return false
}

var allowed = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateRunning, StateLaunchFailed, StateCancelled},
	StateRunning:  {StateSucceeded, StateFailed, StateCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine guards the state of one session. Every accepted transition is
// recorded in metrics and mirrored to the optional Tracker.
type Machine struct {
	mu      sync.RWMutex
	state   State
	tracker *Tracker
}

// NewMachine returns a machine in StateIdle.
func NewMachine(t *Tracker) *Machine {
	m := &Machine{tracker: t}
	metrics.SetCurrentState(StateIdle.String(), true)
	if t != nil {
		t.setState(StateIdle)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves the machine to next or returns ErrInvalidTransition.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	prev := m.state
	if !CanTransition(prev, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	m.state = next
	m.mu.Unlock()

	metrics.RecordStateTransition(prev.String(), next.String())
	metrics.SetCurrentState(prev.String(), false)
	metrics.SetCurrentState(next.String(), true)
	if m.tracker != nil {
		m.tracker.setState(next)
	}
	return nil
}
