package launcher

// State is the launcher's position in its launch cycle.
type State int

const (
	StateNotStarted State = iota
	StateLaunching
	StateLaunched
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateLaunching:
		return "launching"
	case StateLaunched:
		return "launched"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
