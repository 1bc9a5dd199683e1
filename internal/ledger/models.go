package ledger

import "time"

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunAborted     RunStatus = "aborted"
	RunInterrupted RunStatus = "interrupted"
)

// Counts aggregates job outcomes.
type Counts struct {
	Total       int
	Succeeded   int
	Failed      int
	Skipped     int
	Interrupted int
}

// Run is one invocation of a workflow.
type Run struct {
	ID         string
	Workflow   string
	Seed       uint64
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     Counts
	Error      string
}

// Duration returns how long the run took, or has taken so far.
func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := r.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.StartedAt)
}

// Job is the recorded outcome of one render.
type Job struct {
	RunID        string
	Stage        string
	Index        int
	Kind         string
	Influencer   string
	Video        string
	Background   string
	Person       string
	Prompt       string
	Seed         uint32
	Status       string
	ErrorKind    string
	ErrorMessage string
	PromptID     string
	RemotePath   string
	ArtifactPath string
	Bytes        int64
	SHA256       string
	StartedAt    time.Time
	FinishedAt   time.Time
}
