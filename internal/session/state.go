package session

// State is the lifecycle state of a Controller
type State int32

const (
	// Idle accepts a start request.
	Idle State = iota
	// Connecting is acquiring the source and opening the backend session.
	Connecting
	// Active is capturing and forwarding frames.
	Active
	// Stopping covers teardown and the post-stop cooldown.
	Stopping
)

// String returns the lower-case state name
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
