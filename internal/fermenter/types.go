package fermenter

import "fmt"

// State is the control decision for one tick. Its integer value is what
// goes out on the wire in telemetry frames, so the order is fixed.
type State int

const (
	StateHeater State = iota
	StateCooler
	StateCorrect
	StateError
)

func (s State) Valid() bool {
	return s >= StateHeater && s <= StateError
}

func (s State) String() string {
	switch s {
	case StateHeater:
		return "heater"
	case StateCooler:
		return "cooler"
	case StateCorrect:
		return "correct"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func ParseState(s string) (State, error) {
	switch s {
	case "heater":
		return StateHeater, nil
	case "cooler":
		return StateCooler, nil
	case "correct":
		return StateCorrect, nil
	case "error":
		return StateError, nil
	default:
		return StateError, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// Outputs maps a state to the logical levels of the heater and cooler lines.
// At most one of the two is ever true.
func (s State) Outputs() (heater, cooler bool) {
	switch s {
	case StateHeater:
		return true, false
	case StateCooler:
		return false, true
	default:
		return false, false
	}
}
