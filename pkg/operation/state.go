package operation

// State is the lifecycle state of an operation.
type State int

const (
	// StateNew is an operation that has not been executed.
	StateNew State = iota
	// StateExecuting is an operation the daemon has accepted.
	StateExecuting
	// StateCanceled is an operation stopped by the caller.
	StateCanceled
	// StateFaulted is an operation that failed or lost its connection.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateExecuting:
		return "executing"
	case StateCanceled:
		return "canceled"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for canceled and faulted operations
func (s State) IsTerminal() bool {
	return s == StateCanceled || s == StateFaulted
}

// CanTransitionTo checks if a state transition is valid
func (s State) CanTransitionTo(next State) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case StateNew:
		return next == StateExecuting || next == StateFaulted
	case StateExecuting:
		return next == StateCanceled || next == StateFaulted
	default:
		return false
	}
}
