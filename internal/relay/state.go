package relay

import "fmt"

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateInvoking
	StateStreaming
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInvoking:
		return "invoking"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// invoking -> completed covers an agent that yields no chunk at all.
var transitions = map[State][]State{
	StateIdle:      {StateInvoking},
	StateInvoking:  {StateStreaming, StateCompleted, StateAborted},
	StateStreaming: {StateCompleted, StateAborted},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type transitionError struct {
	from, to State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("relay: illegal transition %s -> %s", e.from, e.to)
}
