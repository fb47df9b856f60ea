package order

import "fmt"

// State is the order lifecycle state. Transitions are explicit and
// exhaustive; anything not in the table is rejected at the boundary.
type State string

const (
	StatePending         State = "pending"
	StateSubmitted       State = "submitted"
	StateFilled          State = "filled"
	StatePartiallyFilled State = "partially_filled"
	StateRejected        State = "rejected"
	StateMonitoring      State = "monitoring"
	StateTargetHit       State = "target_hit"
	StateStopHit         State = "stop_hit"
	StateTimeExpired     State = "time_expired"
	StateManuallyClosed  State = "manually_closed"
	StateClosed          State = "closed"
)

// transitions is the full state machine. Every non-terminal state can
// reach StateClosed directly: that is the cancel path.
var transitions = map[State][]State{
	StatePending:         {StateSubmitted, StateRejected, StateClosed},
	StateSubmitted:       {StateFilled, StatePartiallyFilled, StateRejected, StateClosed},
	StateFilled:          {StateMonitoring, StateClosed},
	StatePartiallyFilled: {StateMonitoring, StateClosed},
	StateMonitoring:      {StateTargetHit, StateStopHit, StateTimeExpired, StateManuallyClosed, StateClosed},
	StateTargetHit:       {StateClosed},
	StateStopHit:         {StateClosed},
	StateTimeExpired:     {StateClosed},
	StateManuallyClosed:  {StateClosed},
	StateRejected:        {},
	StateClosed:          {},
}

// Terminal reports whether no further transitions exist.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether s -> to is a legal transition.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition marks an attempted transition outside the table.
type ErrIllegalTransition struct {
	From, To State
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("order: illegal transition %s -> %s", e.From, e.To)
}
