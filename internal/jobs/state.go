package jobs

import "fmt"

// State is the lifecycle state of a stored job.
//
//	scraped ──► sent ──► accepted
//	              │
//	              └────► declined
//
// accepted and declined are terminal.
type State string

const (
	StateScraped  State = "scraped"
	StateSent     State = "sent"
	StateAccepted State = "accepted"
	StateDeclined State = "declined"
)

var transitions = map[State][]State{
	StateScraped: {StateSent},
	StateSent:    {StateAccepted, StateDeclined},
}

// ParseState converts a raw string to a State.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateScraped, StateSent, StateAccepted, StateDeclined:
		return st, nil
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// CanTransition reports whether moving from -> to follows the lifecycle.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s State) bool {
	return s == StateAccepted || s == StateDeclined
}

// DecisionState maps an accept/decline answer to its state.
func DecisionState(accepted bool) State {
	if accepted {
		return StateAccepted
	}
	return StateDeclined
}

// TerminalStates is the default state set for purging.
func TerminalStates() []State {
	return []State{StateAccepted, StateDeclined}
}
