package recorder

import (
	"fmt"
	"sync"
)

// State is the visible lifecycle state of a Recorder.
type State string

const (
	StateIdle            State = "idle"
	StateAcquiringDevice State = "acquiring_device"
	StateConnecting      State = "connecting"
	StateActive          State = "active"
	StateStopping        State = "stopping"
	StateStopped         State = "stopped"
	StateError           State = "error"
)

var transitions = map[State][]State{
	StateIdle:            {StateAcquiringDevice},
	StateAcquiringDevice: {StateConnecting, StateError},
	StateConnecting:      {StateActive, StateError},
	StateActive:          {StateStopping, StateError},
	StateStopping:        {StateStopped},
	StateStopped:         {StateAcquiringDevice},
	StateError:           {StateStopped, StateAcquiringDevice},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanStart reports whether Start is accepted in state s.
func CanStart(s State) bool {
	return CanTransition(s, StateAcquiringDevice)
}

// Lifecycle guards the state machine and notifies an observer on every
// transition. The observer runs synchronously, outside the lock.
type Lifecycle struct {
	mu       sync.Mutex
	state    State
	observer func(from, to State)
}

// NewLifecycle starts in StateIdle.
func NewLifecycle(observer func(from, to State)) *Lifecycle {
	return &Lifecycle{state: StateIdle, observer: observer}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transition moves to the given state if the step is legal.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	from := l.state
	if !CanTransition(from, to) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	l.state = to
	l.mu.Unlock()

	if l.observer != nil {
		l.observer(from, to)
	}
	return nil
}
