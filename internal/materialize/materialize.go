package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/fileutil"
	"ocrbatch/internal/logging"
	"ocrbatch/internal/manifest"
	"ocrbatch/internal/mineru"
	"ocrbatch/internal/services"
)

// StagingDirName is the directory under the output root that holds in-flight
// extractions.
const StagingDirName = ".staging"

// Downloader fetches a result bundle.
type Downloader interface {
	Download(ctx context.Context, bundleURL string, w io.Writer) (int64, error)
}

// Committer records a processed fingerprint. *manifest.Manifest satisfies it.
type Committer interface {
	Record(name, fingerprint string)
}

// Options configures a Materializer.
type Options struct {
	OutputDir   string
	Concurrency int
	Retry       mineru.RetryPolicy
	Logger      *slog.Logger
}

// Outcome is the result of materializing one item.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ItemResult describes what happened to one item.
type ItemResult struct {
	Name        string
	Fingerprint string
	Outcome     Outcome
	Dir         string
	Archive     string
	Bytes       int64
	Files       int
	Err         error
}

// Report lists per-item results in input order.
type Report struct {
	Items    []ItemResult
	Duration time.Duration
}

// Count returns how many items ended with outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

// Materializer downloads, extracts and commits finished items.
type Materializer struct {
	remote    Downloader
	committer Committer
	outputDir string
	workers   int
	retry     mineru.RetryPolicy
	logger    *slog.Logger
}

// New constructs a Materializer.
func New(remote Downloader, committer Committer, opts Options) *Materializer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Materializer{
		remote:    remote,
		committer: committer,
		outputDir: opts.OutputDir,
		workers:   opts.Concurrency,
		retry:     opts.Retry,
		logger:    logging.NewComponentLogger(opts.Logger, "materializer"),
	}
}

// Materialize processes statuses. fingerprints maps each submitted name to the
// fingerprint that was uploaded; that value is what gets committed. Item
// failures are reported in the Report and never abort siblings. The only
// error returned is the context's when the run is cancelled.
func (m *Materializer) Materialize(ctx context.Context, statuses []batch.Status, fingerprints map[string]string) (Report, error) {
	start := time.Now()
	logger := logging.WithContext(ctx, m.logger)
	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return Report{}, services.Wrap(services.ErrValidation, "materialize", "create output dir", m.outputDir, err)
	}

	normalized := make(map[string]string, len(fingerprints))
	for name, fp := range fingerprints {
		normalized[manifest.NormalizeName(name)] = fp
	}

	owners := claimOutputDirs(statuses)
	results := make([]ItemResult, len(statuses))
	g := new(errgroup.Group)
	g.SetLimit(m.workers)
	for i, st := range statuses {
		if owner, ok := owners[i]; ok {
			results[i] = m.collide(logger, st, normalized[manifest.NormalizeName(st.Name)], owner)
			continue
		}
		g.Go(func() error {
			results[i] = m.materializeOne(ctx, logger, st, normalized[manifest.NormalizeName(st.Name)])
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Items: results, Duration: time.Since(start)}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	logger.Info("materialization finished",
		logging.String(logging.FieldEventType, "materialize_complete"),
		logging.Int("committed", report.Count(OutcomeCommitted)),
		logging.Int("skipped", report.Count(OutcomeSkipped)),
		logging.Int("failed", report.Count(OutcomeFailed)),
		logging.Duration("duration", report.Duration),
	)
	return report, nil
}

func (m *Materializer) materializeOne(ctx context.Context, logger *slog.Logger, st batch.Status, fingerprint string) ItemResult {
	res := ItemResult{Name: st.Name, Fingerprint: fingerprint}
	logger = logger.With(logging.String(logging.FieldFile, st.Name))

	if !st.Completed() {
		res.Outcome = OutcomeSkipped
		reason := st.Message
		if st.State == batch.StateDone {
			reason = "completed without a bundle url"
		}
		if reason == "" {
			reason = "remote state " + st.RemoteState
		}
		res.Err = services.Wrap(services.ErrItem, "materialize", "skip", reason, nil)
		logging.WarnWithContext(logger, "item not materialized", "item_skipped",
			logging.String("state", string(st.State)),
			logging.String("reason", reason),
			logging.String(logging.FieldImpact, "file will be resubmitted on the next run"),
		)
		return res
	}
	if ctx.Err() != nil {
		res.Outcome = OutcomeFailed
		res.Err = ctx.Err()
		return res
	}
	if fingerprint == "" {
		return m.fail(logger, res, "commit", "no submitted fingerprint for item", nil)
	}

	stem := Stem(st.Name)
	res.Archive = filepath.Join(m.outputDir, stem+".zip")
	res.Dir = filepath.Join(m.outputDir, stem)

	n, err := m.fetch(ctx, logger, st.BundleURL, res.Archive)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = OutcomeFailed
			res.Err = ctx.Err()
			return res
		}
		return m.fail(logger, res, "download", "", err)
	}
	res.Bytes = n

	kind, ok, err := isZip(res.Archive)
	if err != nil {
		return m.fail(logger, res, "sniff", "", err)
	}
	if !ok {
		return m.fail(logger, res, "sniff", fmt.Sprintf("bundle is %s, not a zip archive", kind), nil)
	}

	stagingRoot := filepath.Join(m.outputDir, StagingDirName)
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return m.fail(logger, res, "extract", "create staging root", err)
	}
	staging := filepath.Join(stagingRoot, stem+"-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return m.fail(logger, res, "extract", "create staging dir", err)
	}
	files, err := extractZip(res.Archive, staging)
	if err != nil {
		_ = os.RemoveAll(staging)
		return m.fail(logger, res, "extract", "", err)
	}
	res.Files = files
	if err := fileutil.ReplaceDir(staging, res.Dir, stagingRoot); err != nil {
		_ = os.RemoveAll(staging)
		return m.fail(logger, res, "replace", "", err)
	}

	m.committer.Record(st.Name, fingerprint)
	res.Outcome = OutcomeCommitted

	if err := os.Remove(res.Archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("archive cleanup failed",
			logging.String(logging.FieldEventType, "archive_cleanup_failed"),
			logging.String("path", res.Archive),
			logging.Error(err),
		)
	}
	logger.Info("item materialized",
		logging.String(logging.FieldEventType, "item_committed"),
		logging.String("dir", res.Dir),
		logging.Int("files", files),
		logging.Bytes("bundle_size", n),
	)
	return res
}

func (m *Materializer) fail(logger *slog.Logger, res ItemResult, op, msg string, err error) ItemResult {
	res.Outcome = OutcomeFailed
	res.Err = services.Wrap(services.ErrItem, "materialize", op, msg, err)
	hint := "check disk space and permissions on the output directory"
	if op == "download" || op == "sniff" || op == "extract" {
		hint = "the bundle may be incomplete; it is kept for inspection when it was downloaded"
	}
	logging.WarnWithContext(logger, "item materialization failed", "materialize_failed",
		logging.String("step", op),
		logging.Error(res.Err),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "not committed; file will be resubmitted on the next run"),
	)
	return res
}

// collide fails an item whose output directory is already claimed by another
// item of the same batch.
func (m *Materializer) collide(logger *slog.Logger, st batch.Status, fingerprint, owner string) ItemResult {
	res := ItemResult{Name: st.Name, Fingerprint: fingerprint, Outcome: OutcomeFailed}
	res.Err = services.Wrap(services.ErrItem, "materialize", "claim output",
		fmt.Sprintf("output directory %q is already used by %s", Stem(st.Name), owner), nil)
	logging.WarnWithContext(logger.With(logging.String(logging.FieldFile, st.Name)), "item not materialized", "output_collision",
		logging.String("owner", owner),
		logging.String(logging.FieldErrorHint, "rename one of the files so their names differ beyond letter case and extension"),
		logging.String(logging.FieldImpact, "not committed; file will be resubmitted on the next run"),
	)
	return res
}

// claimOutputDirs assigns each output directory to one completed item. Items
// whose stems differ only in case or extension would share a directory, so
// the first by name keeps it and the rest map to that owner's name.
func claimOutputDirs(statuses []batch.Status) map[int]string {
	order := make([]int, 0, len(statuses))
	for i, st := range statuses {
		if st.Completed() {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return statuses[order[a]].Name < statuses[order[b]].Name
	})

	claimed := make(map[string]string, len(order))
	owners := make(map[int]string)
	for _, i := range order {
		key := strings.ToLower(manifest.NormalizeName(Stem(statuses[i].Name)))
		if owner, ok := claimed[key]; ok {
			owners[i] = owner
			continue
		}
		claimed[key] = statuses[i].Name
	}
	return owners
}

// fetch downloads url into archive via a uniquely named .part file that is
// renamed once the body is complete.
func (m *Materializer) fetch(ctx context.Context, logger *slog.Logger, url, archive string) (int64, error) {
	part := strings.TrimSuffix(archive, ".zip") + "-" + uuid.NewString() + ".zip.part"
	var written int64
	attempt := 0
	err := mineru.Retry(ctx, m.retry, func(ctx context.Context) error {
		attempt++
		f, err := os.Create(part)
		if err != nil {
			return err
		}
		n, err := m.remote.Download(ctx, url, f)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		written = n
		return err
	}, func(err error, wait time.Duration) {
		logger.Debug("download retry scheduled",
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Error(err),
		)
	})
	if err != nil {
		_ = os.Remove(part)
		return 0, err
	}
	if err := os.Rename(part, archive); err != nil {
		_ = os.Remove(part)
		return 0, err
	}
	return written, nil
}

// Stem returns name without its final extension, the per-item output
// directory name.
func Stem(name string) string {
	base := filepath.Base(name)
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		return stem
	}
	return base
}
