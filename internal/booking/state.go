package booking

import "time"

// State is a stage of a reservation run.
type State string

const (
	StateIdle       State = "Idle"
	StateNavigating State = "Navigating"
	StateLoggingIn  State = "LoggingIn"
	StateFormReady  State = "FormReady"
	StateFilling    State = "Filling"
	StateSubmitting State = "Submitting"
	StateConfirmed  State = "Confirmed"
	StateFailed     State = "Failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Transition records one state change. Field is set while filling.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Field string    `json:"field,omitempty"`
	At    time.Time `json:"at"`
}

// allowed lists the legal successors of every non-terminal state. Failed is
// reachable from all of them.
var allowed = map[State][]State{
	StateIdle:       {StateNavigating},
	StateNavigating: {StateLoggingIn, StateFormReady},
	StateLoggingIn:  {StateFormReady},
	StateFormReady:  {StateFilling, StateSubmitting},
	StateFilling:    {StateFilling, StateSubmitting},
	StateSubmitting: {StateConfirmed},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
