package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/config"
	"ocrbatch/internal/detect"
	"ocrbatch/internal/history"
	"ocrbatch/internal/logging"
	"ocrbatch/internal/manifest"
	"ocrbatch/internal/materialize"
	"ocrbatch/internal/mineru"
	"ocrbatch/internal/poll"
	"ocrbatch/internal/preflight"
	"ocrbatch/internal/services"
	"ocrbatch/internal/submit"
)

// Remote is the MinerU surface used by a run. *mineru.Client satisfies it.
type Remote interface {
	submit.Remote
	poll.Source
	materialize.Downloader
}

// Options wires a Pipeline. Zero poll durations and retry policy fall back to
// the configuration. Recorder may be nil to run without history.
type Options struct {
	Config        *config.Config
	Remote        Remote
	Recorder      Recorder
	Logger        *slog.Logger
	RunID         string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	Retry         mineru.RetryPolicy
	SkipPreflight bool
}

// Pipeline runs the incremental OCR workflow against one configuration.
type Pipeline struct {
	cfg           *config.Config
	remote        Remote
	recorder      Recorder
	logger        *slog.Logger
	runID         string
	pollInterval  time.Duration
	pollTimeout   time.Duration
	retry         mineru.RetryPolicy
	skipPreflight bool
}

// New validates opts and constructs a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "config is required", nil)
	}
	if opts.Remote == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "remote client is required", nil)
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	p := &Pipeline{
		cfg:           opts.Config,
		remote:        opts.Remote,
		recorder:      recorder,
		logger:        logging.NewComponentLogger(opts.Logger, "pipeline"),
		runID:         opts.RunID,
		pollInterval:  opts.PollInterval,
		pollTimeout:   opts.PollTimeout,
		retry:         opts.Retry,
		skipPreflight: opts.SkipPreflight,
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	if p.pollInterval <= 0 {
		p.pollInterval = opts.Config.PollInterval()
	}
	if p.pollTimeout <= 0 {
		p.pollTimeout = opts.Config.PollTimeout()
	}
	if p.retry.MaxAttempts <= 0 {
		p.retry = mineru.DefaultRetryPolicy()
		p.retry.MaxAttempts = max(opts.Config.Workflow.MaxAttempts, 1)
	}
	return p, nil
}

// RunID returns the identifier of the run this pipeline records.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Plan reports the work list a run would submit without contacting the
// service or taking the lock.
func (p *Pipeline) Plan(ctx context.Context) (detect.Result, error) {
	return Plan(ctx, p.cfg, p.logger)
}

// Plan scans cfg's input directory against its manifest. It needs no API
// token and never writes.
func Plan(ctx context.Context, cfg *config.Config, logger *slog.Logger) (detect.Result, error) {
	if cfg == nil {
		return detect.Result{}, services.Wrap(services.ErrConfiguration, "pipeline", "plan", "config is required", nil)
	}
	m, err := manifest.Load(cfg.Paths.ManifestPath, logger)
	if err != nil {
		return detect.Result{}, services.Wrap(services.ErrValidation, "pipeline", "load manifest", "", err)
	}
	return detect.Scan(ctx, cfg.Paths.InputDir, m, detectOptions(cfg, logger))
}

// Run executes one full pipeline pass. The returned Summary is meaningful
// even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	ctx = services.WithRunID(ctx, p.runID)
	summary := Summary{RunID: p.runID, Status: history.StatusRunning}

	unlock, err := p.acquire()
	if err != nil {
		return summary, err
	}
	defer unlock()

	m, err := p.prepare()
	if err != nil {
		return summary, err
	}

	run, err := p.recorder.BeginRun(ctx, p.runID, p.cfg.Paths.InputDir, "")
	if err != nil {
		p.historyFailed("begin run", err)
	}
	summary.RunID = run.ID
	if summary.RunID == "" {
		summary.RunID = p.runID
	}
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("input_dir", p.cfg.Paths.InputDir),
		logging.String("output_dir", p.cfg.Paths.OutputDir),
		logging.String("manifest", m.Path()),
		logging.Int("manifest_entries", m.Len()),
	)
	finish := func(err error) (Summary, error) {
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

	scan, err := detect.Scan(services.WithStage(ctx, "detect"), p.cfg.Paths.InputDir, m, detectOptions(p.cfg, p.logger))
	summary.Scan = scan.Stats
	if err != nil {
		return finish(err)
	}
	if len(scan.Work) == 0 {
		summary.Status = history.StatusNoChanges
		return finish(nil)
	}

	sub := submit.New(p.remote, submit.Options{
		ModelVersion:  p.cfg.MinerU.ModelVersion,
		IsOCR:         p.cfg.MinerU.IsOCR,
		EnableFormula: p.cfg.MinerU.EnableFormula,
		EnableTable:   p.cfg.MinerU.EnableTable,
		Language:      p.cfg.MinerU.Language,
		Concurrency:   p.cfg.Workflow.Concurrency,
		Retry:         p.retry,
		Logger:        p.logger,
	})
	submitted, err := sub.Submit(services.WithStage(ctx, "submit"), scan.Work)
	summary.BatchID = submitted.Job.ID
	for _, item := range submitted.Uploaded {
		summary.setOutcome(item.Name, history.OutcomeUploaded, "")
	}
	for _, f := range submitted.Failed {
		summary.setOutcome(f.Item.Name, history.OutcomeUploadFailed, errorDetail(f.Err))
	}
	if submitted.Job.ID != "" {
		if rerr := p.recorder.RecordSubmission(context.WithoutCancel(ctx), summary.RunID, submitted.Job.ID, submitted.Uploaded, submitted.Failed); rerr != nil {
			p.historyFailed("record submission", rerr)
		}
	}
	if err != nil {
		return finish(err)
	}

	ctx = services.WithBatchID(ctx, submitted.Job.ID)
	err = p.collect(ctx, m, &summary, submitted.Job.ID, submitted.Uploaded)
	return finish(err)
}

// collect waits for batchID to finish and materializes its completed items.
// items are the files that were uploaded, with the fingerprints to commit.
func (p *Pipeline) collect(ctx context.Context, m *manifest.Manifest, summary *Summary, batchID string, items []batch.WorkItem) error {
	names := make([]string, 0, len(items))
	fingerprints := make(map[string]string, len(items))
	for _, item := range items {
		names = append(names, item.Name)
		fingerprints[item.Name] = item.Fingerprint
	}

	poller := poll.New(p.remote, poll.Options{
		Interval: p.pollInterval,
		Timeout:  p.pollTimeout,
		Logger:   p.logger,
	})
	waited, err := poller.Wait(services.WithStage(ctx, "poll"), batchID, names)
	if err != nil {
		return err
	}

	mat := materialize.New(p.remote, m, materialize.Options{
		OutputDir:   p.cfg.Paths.OutputDir,
		Concurrency: p.cfg.Workflow.Concurrency,
		Retry:       p.retry,
		Logger:      p.logger,
	})
	report, matErr := mat.Materialize(services.WithStage(ctx, "materialize"), waited.Statuses, fingerprints)

	for _, item := range report.Items {
		var outcome history.ItemOutcome
		switch item.Outcome {
		case materialize.OutcomeCommitted:
			outcome = history.OutcomeCommitted
		case materialize.OutcomeSkipped:
			outcome = history.OutcomeRemoteFailed
		default:
			outcome = history.OutcomeMaterializeFailed
		}
		detail := errorDetail(item.Err)
		if outcome == history.OutcomeMaterializeFailed && interrupted(item.Err) {
			// Still awaiting materialization; resume picks it up.
			outcome, detail = history.OutcomeUploaded, ""
		}
		summary.setOutcome(item.Name, outcome, detail)
		if rerr := p.recorder.RecordItemOutcome(context.WithoutCancel(ctx), summary.RunID, item.Name, outcome, detail); rerr != nil {
			p.historyFailed("record item outcome", rerr)
		}
	}

	// Committed items are fully on disk, so the manifest is written even when
	// the run was cancelled during materialization.
	if m.Dirty() {
		if err := m.Save(); err != nil {
			return services.Wrap(services.ErrValidation, "pipeline", "save manifest", m.Path(), err)
		}
		summary.ManifestWritten = true
	}
	if matErr != nil {
		return matErr
	}

	summary.Status = history.StatusCompleted
	for _, item := range summary.Items {
		if item.Outcome != history.OutcomeCommitted {
			summary.Status = history.StatusPartial
			break
		}
	}
	return nil
}

func (p *Pipeline) acquire() (func(), error) {
	if err := p.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "ensure directories", "", err)
	}
	return lockManifest(p.cfg, p.logger)
}

// lockManifest takes the advisory lock next to the manifest without waiting.
func lockManifest(cfg *config.Config, logger *slog.Logger) (func(), error) {
	lockDir := filepath.Dir(cfg.LockPath())
	if _, err := os.Stat(lockDir); errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "acquire lock",
			fmt.Sprintf("directory %s does not exist", lockDir), err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "acquire lock", cfg.LockPath(), err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrLocked, "pipeline", "acquire lock",
			fmt.Sprintf("another run holds %s", cfg.LockPath()), nil)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logging.WarnWithContext(logger, "failed to release manifest lock", "lock_release_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "lock file stays held until this process exits"),
			)
		}
	}, nil
}

// prepare runs the output preflight checks and loads the manifest.
func (p *Pipeline) prepare() (*manifest.Manifest, error) {
	if !p.skipPreflight {
		checks := []preflight.Result{
			preflight.CheckWritableDirectory("Output directory", p.cfg.Paths.OutputDir),
			preflight.CheckFreeSpace("Output free space", p.cfg.Paths.OutputDir, p.cfg.Workflow.MinFreeGiB),
		}
		if failed := preflight.Failed(checks); len(failed) > 0 {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "preflight",
				fmt.Sprintf("%s: %s", failed[0].Name, failed[0].Detail), nil)
		}
	}
	m, err := manifest.Load(p.cfg.Paths.ManifestPath, p.logger)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "load manifest", "", err)
	}
	return m, nil
}

func detectOptions(cfg *config.Config, logger *slog.Logger) detect.Options {
	return detect.Options{
		Extension:   cfg.Workflow.InputExtension,
		Concurrency: cfg.Workflow.Concurrency,
		Logger:      logger,
	}
}

func (p *Pipeline) historyFailed(op string, err error) {
	logging.WarnWithContext(p.logger, "run history update failed", "history_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldImpact, "run continues; history may be incomplete"),
	)
}

func (p *Pipeline) logFinish(logger *slog.Logger, s Summary, err error) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("status", string(s.Status)),
		logging.Int("matched", s.Scan.Matched),
		logging.Int("work", s.Scan.New+s.Scan.Modified),
		logging.Int("committed", s.Count(history.OutcomeCommitted)),
		logging.Int("upload_failed", s.Count(history.OutcomeUploadFailed)),
		logging.Int("remote_failed", s.Count(history.OutcomeRemoteFailed)),
		logging.Int("materialize_failed", s.Count(history.OutcomeMaterializeFailed)),
		logging.Bool("manifest_written", s.ManifestWritten),
		logging.Duration("duration", s.Duration),
	}
	if s.BatchID != "" {
		attrs = append(attrs, logging.String(logging.FieldBatchID, s.BatchID))
	}
	switch {
	case err == nil:
		logger.Info("run finished", logging.Args(attrs...)...)
	case errors.Is(err, context.Canceled):
		logger.Warn("run interrupted", logging.Args(attrs...)...)
	default:
		attrs = append(attrs, logging.Error(err), logging.String("failure", services.FailureKind(err)))
		logging.ErrorWithContext(logger, "run failed", "run_failed", attrs...)
	}
}

func statusFor(err error) history.RunStatus {
	switch {
	case err == nil:
		return history.StatusCompleted
	case errors.Is(err, context.Canceled):
		return history.StatusInterrupted
	case poll.IsTimeout(err):
		return history.StatusTimedOut
	default:
		return history.StatusFailed
	}
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
