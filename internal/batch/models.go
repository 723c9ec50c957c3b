// Package batch defines the values passed between the pipeline stages: the
// work list produced by change detection, the submitted job, and per-item
// remote status.
package batch

import "strings"

// WorkItem is a source document that needs processing in this run.
type WorkItem struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
}

// Target pairs a submitted file name with the upload destination issued for it.
type Target struct {
	Name      string
	UploadURL string
}

// Job identifies a remote batch and the destinations issued for its files, in
// submission order.
type Job struct {
	ID      string
	Targets []Target
}

// ItemFailure records a per-item failure that excluded a file from the rest of
// the run.
type ItemFailure struct {
	Item WorkItem
	Err  error
}

// State is the pipeline's view of a remote item state.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether the state will not change further.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ParseRemoteState maps a MinerU extraction state onto a pipeline State.
// Unknown states are treated as still processing.
func ParseRemoteState(remote string) State {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "done":
		return StateDone
	case "failed":
		return StateFailed
	case "", "waiting-file", "pending":
		return StatePending
	default:
		return StateProcessing
	}
}

// Status is the latest known remote status of one submitted item.
type Status struct {
	Name           string
	State          State
	RemoteState    string
	BundleURL      string
	Message        string
	ExtractedPages int
	TotalPages     int
}

// Completed reports whether the item finished successfully with a bundle to fetch.
func (s Status) Completed() bool {
	return s.State == StateDone && strings.TrimSpace(s.BundleURL) != ""
}
