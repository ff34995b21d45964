package chat

// State is where a session stands in the lifecycle of one exchange.
type State int

const (
	StateIdle State = iota
	StateSubmitted
	StateStreaming
	StateSealed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitted:
		return "submitted"
	case StateStreaming:
		return "streaming"
	case StateSealed:
		return "sealed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InFlight reports whether a new submission must be refused.
func (s State) InFlight() bool {
	return s == StateSubmitted || s == StateStreaming
}
