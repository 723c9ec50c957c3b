package pipeline

import (
	"context"
	"strings"
	"time"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/history"
	"ocrbatch/internal/logging"
	"ocrbatch/internal/services"
)

// Resume re-enters the pipeline at the wait stage for a batch whose run was
// interrupted or timed out. Items still awaiting results and items whose
// materialization failed are collected again. The fingerprints committed are
// the ones recorded at submission, so a file edited since then is picked up by
// the next run.
func (p *Pipeline) Resume(ctx context.Context, batchID string) (Summary, error) {
	start := time.Now()
	batchID = strings.TrimSpace(batchID)
	ctx = services.WithRunID(ctx, p.runID)
	summary := Summary{RunID: p.runID, BatchID: batchID, Status: history.StatusRunning}
	if batchID == "" {
		return summary, services.Wrap(services.ErrValidation, "pipeline", "resume", "batch id is required", nil)
	}

	unlock, err := p.acquire()
	if err != nil {
		return summary, err
	}
	defer unlock()

	prev, err := p.recorder.FindResumable(ctx, batchID)
	if err != nil {
		return summary, err
	}
	stored, err := p.recorder.RunItems(ctx, prev.ID)
	if err != nil {
		return summary, services.Wrap(services.ErrValidation, "pipeline", "resume", "read run items", err)
	}
	items := make([]batch.WorkItem, 0, len(stored))
	for _, it := range stored {
		if it.Outcome != history.OutcomeUploaded && it.Outcome != history.OutcomeMaterializeFailed {
			continue
		}
		items = append(items, batch.WorkItem{Path: it.Path, Name: it.Name, Fingerprint: it.Fingerprint, Size: it.Size})
	}
	if len(items) == 0 {
		return summary, services.Wrap(services.ErrNotFound, "pipeline", "resume",
			"run "+prev.ID+" has no items awaiting results", nil)
	}

	m, err := p.prepare()
	if err != nil {
		return summary, err
	}

	run, err := p.recorder.BeginRun(ctx, p.runID, prev.InputDir, prev.ID)
	if err != nil {
		p.historyFailed("begin run", err)
	} else {
		summary.RunID = run.ID
	}
	if err := p.recorder.RecordSubmission(ctx, summary.RunID, batchID, items, nil); err != nil {
		p.historyFailed("record submission", err)
	}
	if err := p.recorder.MarkResumed(ctx, prev.ID); err != nil {
		p.historyFailed("mark resumed", err)
	}
	for _, item := range items {
		summary.setOutcome(item.Name, history.OutcomeUploaded, "")
	}

	ctx = services.WithBatchID(ctx, batchID)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("resuming batch",
		logging.String(logging.FieldEventType, "run_resume"),
		logging.String("previous_run", prev.ID),
		logging.Int("items", len(items)),
	)

	err = p.collect(ctx, m, &summary, batchID, items)
	summary.Duration = time.Since(start)
	if summary.Status == history.StatusRunning {
		summary.Status = statusFor(err)
	}
	if ferr := p.recorder.FinishRun(context.WithoutCancel(ctx), summary.RunID, summary.Status, summary.Counts(), err); ferr != nil {
		p.historyFailed("finish run", ferr)
	}
	p.logFinish(logger, summary, err)
	return summary, err
}
