package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/logging"
	"ocrbatch/internal/manifest"
	"ocrbatch/internal/mineru"
	"ocrbatch/internal/services"
)

const (
	defaultInterval = 5 * time.Second
	defaultTimeout  = 30 * time.Minute
)

// Source reports the status of a remote batch.
type Source interface {
	BatchResults(ctx context.Context, batchID string) (mineru.BatchResults, error)
}

// Options controls the polling cadence.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Outcome summarizes a batch whose tracked items are all terminal.
type Outcome string

const (
	OutcomeAllDone        Outcome = "all_done"
	OutcomePartialFailure Outcome = "partial_failure"
)

// Result is the last known status of every tracked item, in the order the
// names were given to Wait.
type Result struct {
	BatchID  string
	Statuses []batch.Status
	Outcome  Outcome
	Polls    int
	Duration time.Duration
}

// Completed returns the items that finished with a bundle to download.
func (r Result) Completed() []batch.Status {
	var out []batch.Status
	for _, st := range r.Statuses {
		if st.Completed() {
			out = append(out, st)
		}
	}
	return out
}

// Unfinished returns the items that did not complete with a bundle.
func (r Result) Unfinished() []batch.Status {
	var out []batch.Status
	for _, st := range r.Statuses {
		if !st.Completed() {
			out = append(out, st)
		}
	}
	return out
}

// Poller drives the wait loop for one batch at a time.
type Poller struct {
	source   Source
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// New constructs a Poller. Zero durations fall back to a five second interval
// and a thirty minute deadline.
func New(source Source, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Poller{
		source:   source,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   logging.NewComponentLogger(opts.Logger, "poller"),
	}
}

// Wait polls batchID until every name in names is terminal. Names the service
// does not report yet count as pending.
//
// Errors:
//   - services.ErrTimeout when the deadline passes first;
//   - services.ErrBatch for an empty result set or a non-retriable API error;
//   - the caller's context error on cancellation, alongside the best known
//     statuses.
//
// Retriable failures (transport errors, unreadable bodies, 5xx, 408, 429)
// are logged and retried on the next cycle.
func (p *Poller) Wait(ctx context.Context, batchID string, names []string) (Result, error) {
	start := time.Now()
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldBatchID, batchID))

	tracker := newTracker(names)
	result := Result{BatchID: batchID}
	finish := func() Result {
		result.Statuses = tracker.statuses()
		result.Duration = time.Since(start)
		return result
	}
	if len(names) == 0 {
		result.Outcome = OutcomeAllDone
		return finish(), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sampler := logging.NewProgressSampler(10)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return finish(), p.stopped(ctx, logger, tracker)
		case <-timer.C:
		}

		result.Polls++
		res, err := p.source.BatchResults(waitCtx, batchID)
		switch {
		case err != nil && waitCtx.Err() != nil:
			return finish(), p.stopped(ctx, logger, tracker)
		case err != nil && mineru.IsRetriable(err):
			logging.WarnWithContext(logger, "status query failed; retrying next cycle", "poll_retry",
				logging.Int("poll", result.Polls),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check connectivity to the MinerU API"),
			)
			timer.Reset(p.interval)
			continue
		case err != nil:
			return finish(), services.Wrap(services.ErrBatch, "poll", "batch results", "", err)
		case len(res.Results) == 0:
			return finish(), services.Wrap(services.ErrBatch, "poll", "batch results", "service returned no results", nil)
		}

		tracker.update(res.Results)
		counts := tracker.counts()
		if sampler.ShouldLog(tracker.percentTerminal()) {
			logger.Info("batch progress",
				logging.String(logging.FieldEventType, "poll_progress"),
				logging.Int("pending", counts[batch.StatePending]),
				logging.Int("processing", counts[batch.StateProcessing]),
				logging.Int("done", counts[batch.StateDone]),
				logging.Int("failed", counts[batch.StateFailed]),
			)
		} else {
			logger.Debug("batch status",
				logging.Int("poll", result.Polls),
				logging.Int("terminal", counts[batch.StateDone]+counts[batch.StateFailed]),
				logging.Int("tracked", len(names)),
			)
		}

		if tracker.allTerminal() {
			result.Outcome = OutcomeAllDone
			if tracker.anyUnfinished() {
				result.Outcome = OutcomePartialFailure
			}
			out := finish()
			logger.Info("batch finished",
				logging.String(logging.FieldEventType, "batch_terminal"),
				logging.String("outcome", string(out.Outcome)),
				logging.Int("polls", out.Polls),
				logging.Duration("duration", out.Duration),
			)
			return out, nil
		}
		timer.Reset(p.interval)
	}
}

// stopped classifies the end of the wait context: the caller's cancellation
// wins over the poll deadline.
func (p *Poller) stopped(ctx context.Context, logger *slog.Logger, tracker *tracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pending := tracker.pendingNames()
	logging.WarnWithContext(logger, "batch did not finish before the poll deadline", "poll_timeout",
		logging.Duration("timeout", p.timeout),
		logging.Int("unfinished", len(pending)),
		logging.String(logging.FieldErrorHint, "raise workflow.poll_timeout or run 'ocrbatch resume' later"),
		logging.String(logging.FieldImpact, "manifest left unchanged"),
	)
	return services.Wrap(services.ErrTimeout, "poll", "wait",
		fmt.Sprintf("%d of %d items unfinished after %s", len(pending), tracker.len(), p.timeout),
		context.DeadlineExceeded)
}

// IsTimeout reports whether err came from the poll deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, services.ErrTimeout)
}

type tracker struct {
	order []string
	state map[string]batch.Status
}

func newTracker(names []string) *tracker {
	t := &tracker{order: make([]string, 0, len(names)), state: make(map[string]batch.Status, len(names))}
	for _, name := range names {
		key := manifest.NormalizeName(name)
		if _, ok := t.state[key]; ok {
			continue
		}
		t.order = append(t.order, key)
		t.state[key] = batch.Status{Name: key, State: batch.StatePending}
	}
	return t
}

func (t *tracker) update(results []mineru.ExtractResult) {
	for _, res := range results {
		st := res.Status()
		st.Name = manifest.NormalizeName(st.Name)
		if _, ok := t.state[st.Name]; !ok {
			continue
		}
		t.state[st.Name] = st
	}
}

func (t *tracker) len() int {
	return len(t.order)
}

func (t *tracker) statuses() []batch.Status {
	out := make([]batch.Status, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.state[name])
	}
	return out
}

func (t *tracker) counts() map[batch.State]int {
	counts := make(map[batch.State]int, 4)
	for _, st := range t.state {
		counts[st.State]++
	}
	return counts
}

func (t *tracker) allTerminal() bool {
	for _, st := range t.state {
		if !st.State.Terminal() {
			return false
		}
	}
	return true
}

func (t *tracker) anyUnfinished() bool {
	for _, st := range t.state {
		if !st.Completed() {
			return true
		}
	}
	return false
}

func (t *tracker) pendingNames() []string {
	var out []string
	for _, name := range t.order {
		if !t.state[name].State.Terminal() {
			out = append(out, name)
		}
	}
	return out
}

func (t *tracker) percentTerminal() float64 {
	if len(t.order) == 0 {
		return 100
	}
	terminal := 0
	for _, st := range t.state {
		if st.State.Terminal() {
			terminal++
		}
	}
	return float64(terminal) * 100 / float64(len(t.order))
}
