package orchestrator

// State is the lifecycle state of one streaming playback session
type State int

const (
	StateIdle       State = iota
	StateConnecting       // Opening the synthesis session
	StateConfigured       // Session open, sending config and markers
	StateStreaming        // Receiving frames, playback starts on the first audio frame
	StateCompleting       // Final frame seen, closing session and awaiting playback
	StateComplete         // Playback finished successfully
	StateFailed           // First error terminated the session
	StateCancelled        // Caller cancelled the session
	StateTerminated       // Cleanup ran; the orchestrator is spent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsOutcome reports whether s is one of the terminal outcomes recorded before cleanup
func (s State) IsOutcome() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateFailed, StateCancelled},
	StateConnecting: {StateConfigured, StateFailed, StateCancelled},
	StateConfigured: {StateStreaming, StateFailed, StateCancelled},
	StateStreaming:  {StateCompleting, StateFailed, StateCancelled},
	StateCompleting: {StateComplete, StateFailed, StateCancelled},
	StateComplete:   {StateTerminated},
	StateFailed:     {StateTerminated},
	StateCancelled:  {StateTerminated},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
