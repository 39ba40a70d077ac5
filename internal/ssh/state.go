package ssh

import "time"

// State is the lifecycle state of the device session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var allowedTransitions = map[State][]State{
	Disconnected: {Connecting, Reconnecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Disconnected},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition records a state change for debugging.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// maxTransitions bounds the transition history kept by a Manager.
const maxTransitions = 50

func appendTransition(history []Transition, t Transition) []Transition {
	history = append(history, t)
	if len(history) > maxTransitions {
		history = history[len(history)-maxTransitions:]
	}
	return history
}
