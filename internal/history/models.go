package history

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	StatusRunning     RunStatus = "running"
	StatusNoChanges   RunStatus = "no_changes"
	StatusCompleted   RunStatus = "completed"
	StatusPartial     RunStatus = "partial"
	StatusFailed      RunStatus = "failed"
	StatusInterrupted RunStatus = "interrupted"
	StatusTimedOut    RunStatus = "timed_out"
	StatusResumed     RunStatus = "resumed"
)

// Resumable reports whether a run with this status left a batch that can
// still be collected.
func (s RunStatus) Resumable() bool {
	return s == StatusInterrupted || s == StatusTimedOut
}

// ItemOutcome is how far one submitted file got.
type ItemOutcome string

const (
	OutcomeUploaded          ItemOutcome = "uploaded"
	OutcomeUploadFailed      ItemOutcome = "upload_failed"
	OutcomeCommitted         ItemOutcome = "committed"
	OutcomeRemoteFailed      ItemOutcome = "remote_failed"
	OutcomeMaterializeFailed ItemOutcome = "materialize_failed"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
	Status       RunStatus `json:"status"`
	InputDir     string    `json:"input_dir"`
	BatchID      string    `json:"batch_id,omitempty"`
	ResumedFrom  string    `json:"resumed_from,omitempty"`
	Submitted    int       `json:"submitted"`
	Committed    int       `json:"committed"`
	Failed       int       `json:"failed"`
	ErrorMessage string    `json:"error,omitempty"`
}

// Finished reports whether the run has a recorded end time.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Duration returns the wall time of a finished run.
func (r Run) Duration() time.Duration {
	if !r.Finished() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Counts are the totals stored when a run finishes.
type Counts struct {
	Submitted int
	Committed int
	Failed    int
}

// RunItem is one file submitted in a run.
type RunItem struct {
	RunID       string      `json:"run_id"`
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	Fingerprint string      `json:"fingerprint"`
	Size        int64       `json:"size"`
	Outcome     ItemOutcome `json:"outcome"`
	Detail      string      `json:"detail,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
