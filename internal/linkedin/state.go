package linkedin

// State is a step in the per-piece publish state machine.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateRetrying
	StateRefreshingCredential
	StateSucceeded
	StatePermanentlyFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateRefreshingCredential:
		return "refreshing_credential"
	case StateSucceeded:
		return "succeeded"
	case StatePermanentlyFailed:
		return "permanently_failed"
	default:
		return "unknown"
	}
}
