package browser

// State represents the lifecycle state of a browser session
type State int32

const (
	// StateStarting is the state before Open has completed
	StateStarting State = iota
	// StateReady means the session can serve fetches
	StateReady
	// StateDegraded means the last fetch failed but the session may recover
	StateDegraded
	// StateDead means the session must be replaced
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}
