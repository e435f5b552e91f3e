package session

import "fmt"

// State is the lifecycle position of a Session.
type State int

const (
	// Idle: engine or input missing.
	Idle State = iota
	// Ready: engine attached and input loaded.
	Ready
	// Processing: a run is in flight.
	Processing
	// Complete: the last run produced output.
	Complete
	// Failed: the last run failed; see Session.Failure.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Processing:
		return "processing"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Runnable reports whether a run may start from s.
func (s State) Runnable() bool {
	return s == Ready || s == Complete || s == Failed
}

// Stage names a step within a run.
type Stage string

const (
	StageLoading    Stage = "loading"
	StageStaging    Stage = "staging"
	StageApplying   Stage = "applying"
	StageRetrieving Stage = "retrieving"
	StageComplete   Stage = "complete"
)

// Event is delivered to an Observer on every state change and at each stage
// of a run. Stage is empty for plain state changes; Err is set when the
// session enters Failed.
type Event struct {
	State State
	Stage Stage
	Err   error
}

// Observer receives session events. It is called synchronously from the
// goroutine driving the session and must not call back into it.
type Observer func(Event)
