package orchestrator

import "fmt"

// State is a step of the capture sequence.
type State int

const (
	Idle State = iota
	PermissionPending
	Capturing
	Delivering
	Denied
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PermissionPending:
		return "permission_pending"
	case Capturing:
		return "capturing"
	case Delivering:
		return "delivering"
	case Denied:
		return "denied"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// allowed lists the legal transitions. Capturing goes straight back to Idle
// when the user cancels the selection.
var allowed = map[State][]State{
	Idle:              {PermissionPending},
	PermissionPending: {Capturing, Denied, Failed},
	Capturing:         {Delivering, Failed, Idle},
	Delivering:        {Idle, Failed},
	Denied:            {Idle},
	Failed:            {Idle},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
