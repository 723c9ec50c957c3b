package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/logging"
	"ocrbatch/internal/mineru"
	"ocrbatch/internal/services"
)

// Remote is the part of the MinerU API used for submission.
type Remote interface {
	RequestUploadURLs(ctx context.Context, req mineru.BatchRequest) (mineru.UploadBatch, error)
	Upload(ctx context.Context, uploadURL, path string) error
}

// Options controls how a batch is described to the service and how uploads run.
type Options struct {
	ModelVersion  string
	IsOCR         bool
	EnableFormula bool
	EnableTable   bool
	Language      string
	Concurrency   int
	Retry         mineru.RetryPolicy
	Logger        *slog.Logger
}

// Result describes a submitted batch. Uploaded holds the items the poller
// should track; Failed holds per-item upload failures.
type Result struct {
	Job      batch.Job
	Uploaded []batch.WorkItem
	Failed   []batch.ItemFailure
	Duration time.Duration
}

// Submitter registers a batch and uploads its files.
type Submitter struct {
	remote Remote
	opts   Options
	logger *slog.Logger
}

// New constructs a Submitter.
func New(remote Remote, opts Options) *Submitter {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Submitter{
		remote: remote,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "submitter"),
	}
}

// Submit requests upload destinations for items and pushes each file to its
// destination. An empty work list is a no-op. Failing to obtain destinations,
// or every upload failing, is a batch-level error; individual upload failures
// are reported in Result.Failed.
func (s *Submitter) Submit(ctx context.Context, items []batch.WorkItem) (Result, error) {
	start := time.Now()
	if len(items) == 0 {
		return Result{}, nil
	}
	logger := logging.WithContext(ctx, s.logger)

	req := s.buildRequest(items)
	upload, err := s.remote.RequestUploadURLs(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, services.Wrap(services.ErrBatch, "submit", "request upload urls", "", err)
	}
	if len(upload.FileURLs) != len(items) {
		return Result{}, services.Wrap(services.ErrBatch, "submit", "request upload urls",
			fmt.Sprintf("service returned %d upload urls for %d files", len(upload.FileURLs), len(items)), nil)
	}

	job := batch.Job{ID: upload.BatchID, Targets: make([]batch.Target, len(items))}
	for i, item := range items {
		job.Targets[i] = batch.Target{Name: item.Name, UploadURL: upload.FileURLs[i]}
	}
	logger = logger.With(logging.String(logging.FieldBatchID, job.ID))
	logger.Info("batch registered",
		logging.String(logging.FieldEventType, "batch_registered"),
		logging.Int("files", len(items)),
	)

	errs := make([]error, len(items))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for i, item := range items {
		g.Go(func() error {
			errs[i] = s.uploadOne(ctx, logger, item, job.Targets[i].UploadURL)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Job: job}
	for i, item := range items {
		if errs[i] == nil {
			result.Uploaded = append(result.Uploaded, item)
			continue
		}
		result.Failed = append(result.Failed, batch.ItemFailure{Item: item, Err: errs[i]})
	}
	result.Duration = time.Since(start)

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if len(result.Uploaded) == 0 {
		failures := make([]error, 0, len(result.Failed))
		for _, f := range result.Failed {
			failures = append(failures, f.Err)
		}
		return result, services.Wrap(services.ErrBatch, "submit", "upload", "every upload failed", errors.Join(failures...))
	}

	logger.Info("batch uploaded",
		logging.String(logging.FieldEventType, "batch_uploaded"),
		logging.Int("uploaded", len(result.Uploaded)),
		logging.Int("failed", len(result.Failed)),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

func (s *Submitter) uploadOne(ctx context.Context, logger *slog.Logger, item batch.WorkItem, uploadURL string) error {
	attempt := 0
	err := mineru.Retry(ctx, s.opts.Retry, func(ctx context.Context) error {
		attempt++
		return s.remote.Upload(ctx, uploadURL, item.Path)
	}, func(err error, wait time.Duration) {
		logger.Debug("upload retry scheduled",
			logging.String(logging.FieldFile, item.Name),
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Error(err),
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.WarnWithContext(logger, "upload failed; file excluded from batch", "upload_failed",
			logging.String(logging.FieldFile, item.Name),
			logging.Int("attempts", attempt),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check network access to the upload host"),
			logging.String(logging.FieldImpact, "file will be retried on the next run"),
		)
		return services.Wrap(services.ErrItem, "submit", "upload", item.Name, err)
	}
	logger.Debug("file uploaded",
		logging.String(logging.FieldFile, item.Name),
		logging.Bytes("size", item.Size),
	)
	return nil
}

func (s *Submitter) buildRequest(items []batch.WorkItem) mineru.BatchRequest {
	req := mineru.BatchRequest{
		Files:         make([]mineru.FileSpec, len(items)),
		ModelVersion:  s.opts.ModelVersion,
		EnableFormula: mineru.Bool(s.opts.EnableFormula),
		EnableTable:   mineru.Bool(s.opts.EnableTable),
		Language:      s.opts.Language,
	}
	for i, item := range items {
		spec := mineru.FileSpec{Name: item.Name, DataID: item.Fingerprint}
		if s.opts.IsOCR {
			spec.IsOCR = mineru.Bool(true)
		}
		req.Files[i] = spec
	}
	return req
}
