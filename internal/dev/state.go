package dev

// State is a phase of the dev session lifecycle.
type State int32

// Lifecycle states, in the order a session normally passes through them.
// Serving and Rebuilding alternate once per accepted change.
const (
	StateStarting State = iota
	StateServing
	StateRebuilding
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateRebuilding:
		return "rebuilding"
	case StateShuttingDown:
		return "shutting-down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
