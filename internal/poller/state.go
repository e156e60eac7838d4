package poller

// State is one of the five Live Poller states of spec §4.5.2.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateTracking
	StateRetrying
	StateLost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateTracking:
		return "Tracking"
	case StateRetrying:
		return "Retrying"
	case StateLost:
		return "Lost"
	default:
		return "Unknown"
	}
}

// retryBudget is the baseline consecutive-failure budget of spec §4.5.2
// (10 polls, approximately 2s wall clock at the 200ms baseline interval)
// before a Retrying poller forces a signature rescan.
const retryBudget = 10
