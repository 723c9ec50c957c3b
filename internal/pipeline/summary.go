package pipeline

import (
	"time"

	"ocrbatch/internal/detect"
	"ocrbatch/internal/history"
)

// ItemSummary is the final outcome of one submitted file.
type ItemSummary struct {
	Name    string              `json:"name"`
	Outcome history.ItemOutcome `json:"outcome"`
	Detail  string              `json:"detail,omitempty"`
}

// Summary describes a finished run.
type Summary struct {
	RunID           string            `json:"run_id"`
	BatchID         string            `json:"batch_id,omitempty"`
	Status          history.RunStatus `json:"status"`
	Scan            detect.Stats      `json:"scan"`
	Items           []ItemSummary     `json:"items,omitempty"`
	ManifestWritten bool              `json:"manifest_written"`
	Duration        time.Duration     `json:"duration_ns"`
}

// Count returns how many items ended with outcome.
func (s Summary) Count(outcome history.ItemOutcome) int {
	n := 0
	for _, item := range s.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

// Counts converts the summary into the totals stored in run history.
func (s Summary) Counts() history.Counts {
	committed := s.Count(history.OutcomeCommitted)
	return history.Counts{
		Submitted: len(s.Items),
		Committed: committed,
		Failed:    len(s.Items) - committed - s.Count(history.OutcomeUploaded),
	}
}

func (s *Summary) setOutcome(name string, outcome history.ItemOutcome, detail string) {
	for i := range s.Items {
		if s.Items[i].Name == name {
			s.Items[i].Outcome = outcome
			s.Items[i].Detail = detail
			return
		}
	}
	s.Items = append(s.Items, ItemSummary{Name: name, Outcome: outcome, Detail: detail})
}
