package sequence

// RunState is the state of an Orchestrator.
type RunState uint32

const (
	// RunIdle means no run has started yet.
	RunIdle RunState = iota
	// RunRunning means a run is in progress.
	RunRunning
	// RunCompleted means the last run finished every repetition.
	RunCompleted
	// RunAborted means the last run was halted by Abort or a canceled context.
	RunAborted
	// RunFailed means the last run was halted by a counter store failure.
	RunFailed
)

// IsActive returns if a run is in progress.
func (s RunState) IsActive() bool { return s == RunRunning }

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunAborted:
		return "aborted"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}
