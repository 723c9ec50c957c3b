package pipeline

import (
	"context"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/history"
	"ocrbatch/internal/services"
)

// Recorder persists run history. *history.Store satisfies it.
type Recorder interface {
	BeginRun(ctx context.Context, id, inputDir, resumedFrom string) (history.Run, error)
	RecordSubmission(ctx context.Context, runID, batchID string, uploaded []batch.WorkItem, failed []batch.ItemFailure) error
	RecordItemOutcome(ctx context.Context, runID, name string, outcome history.ItemOutcome, detail string) error
	FinishRun(ctx context.Context, runID string, status history.RunStatus, counts history.Counts, runErr error) error
	FindResumable(ctx context.Context, batchID string) (history.Run, error)
	RunItems(ctx context.Context, runID string) ([]history.RunItem, error)
	MarkResumed(ctx context.Context, runID string) error
}

type nopRecorder struct{}

func (nopRecorder) BeginRun(_ context.Context, id, inputDir, resumedFrom string) (history.Run, error) {
	return history.Run{ID: id, InputDir: inputDir, ResumedFrom: resumedFrom, Status: history.StatusRunning}, nil
}

func (nopRecorder) RecordSubmission(context.Context, string, string, []batch.WorkItem, []batch.ItemFailure) error {
	return nil
}

func (nopRecorder) RecordItemOutcome(context.Context, string, string, history.ItemOutcome, string) error {
	return nil
}

func (nopRecorder) FinishRun(context.Context, string, history.RunStatus, history.Counts, error) error {
	return nil
}

func (nopRecorder) FindResumable(_ context.Context, batchID string) (history.Run, error) {
	return history.Run{}, services.Wrap(services.ErrConfiguration, "pipeline", "resume",
		"run history is disabled; cannot resume batch "+batchID, nil)
}

func (nopRecorder) RunItems(context.Context, string) ([]history.RunItem, error) {
	return nil, nil
}

func (nopRecorder) MarkResumed(context.Context, string) error {
	return nil
}
