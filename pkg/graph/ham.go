package graph

// Resolution is the outcome of comparing an incoming field write with the current one
type Resolution int

const (
	// Defer means the incoming state is ahead of the machine clock
	Defer Resolution = iota + 1
	// Historical means the incoming write is older than what is held
	Historical
	// ConvergeIncoming means the incoming write replaces the current one
	ConvergeIncoming
	// ConvergeCurrent means the current write is kept
	ConvergeCurrent
	// Same means both writes are identical
	Same
)

// String returns the resolution name
func (r Resolution) String() string {
	switch r {
	case Defer:
		return "defer"
	case Historical:
		return "historical"
	case ConvergeIncoming:
		return "incoming"
	case ConvergeCurrent:
		return "current"
	case Same:
		return "same"
	default:
		return "unknown"
	}
}

// HAM resolves a concurrent write to a single field.
//
// States are compared first. Writes from the future (relative to machine)
// are deferred, older writes are discarded and newer writes win. When the
// states tie, the JSON encodings of both values are compared so every
// replica converges on the same value regardless of arrival order.
// An absent current field must be passed with a state of -Inf.
func HAM(machine, incomingState, currentState float64, incomingValue, currentValue any) Resolution {
	if machine < incomingState {
		return Defer
	}
	if incomingState < currentState {
		return Historical
	}
	if currentState < incomingState {
		return ConvergeIncoming
	}

	in := lexical(incomingValue)
	cur := lexical(currentValue)
	switch {
	case in == cur:
		return Same
	case in < cur:
		return ConvergeCurrent
	default:
		return ConvergeIncoming
	}
}
