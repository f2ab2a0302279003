package turn

import (
	"sync"
	"time"
)

// State is the session's position in the turn-taking cycle.
type State int

const (
	StateIdle State = iota
	StateUserSpeaking
	StateThinking
	StateAISpeaking
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserSpeaking:
		return "user_speaking"
	case StateThinking:
		return "thinking"
	case StateAISpeaking:
		return "ai_speaking"
	case StateEnding:
		return "ending"
	}
	return "unknown"
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// Machine is the per-session turn state machine. Ending is reachable from
// every state and absorbing: once entered no further transition succeeds.
type Machine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func NewMachine() *Machine {
	return &Machine{current: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

var validTransitions = map[State][]State{
	StateIdle:         {StateUserSpeaking, StateAISpeaking, StateThinking},
	StateUserSpeaking: {StateThinking, StateIdle},
	StateThinking:     {StateAISpeaking, StateUserSpeaking, StateIdle},
	StateAISpeaking:   {StateIdle, StateUserSpeaking},
}

func transitionValid(from, to State) bool {
	if from == StateEnding {
		return false
	}
	if to == StateEnding {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	if !transitionValid(m.current, to) {
		from := m.current
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	event := StateChange{
		FromState: m.current,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = to
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
