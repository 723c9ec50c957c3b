package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocrbatch/internal/config"
	"ocrbatch/internal/fileutil"
	"ocrbatch/internal/history"
	"ocrbatch/internal/mineru"
	"ocrbatch/internal/pipeline"
	"ocrbatch/internal/services"
	"ocrbatch/internal/testsupport"
)

type env struct {
	cfg   *config.Config
	fake  *testsupport.FakeMinerU
	store *history.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fake := testsupport.NewFakeMinerU(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(fake.BaseURL()))
	require.NoError(t, os.MkdirAll(cfg.Paths.InputDir, 0o755))
	store, err := history.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &env{cfg: cfg, fake: fake, store: store}
}

func (e *env) pipeline(t *testing.T, timeout time.Duration) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Options{
		Config:       e.cfg,
		Remote:       e.fake.Client(),
		Recorder:     e.store,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  timeout,
		Retry:        mineru.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
	})
	require.NoError(t, err)
	return p
}

func (e *env) writeInput(t *testing.T, name, body string) string {
	t.Helper()
	path := testsupport.WritePDF(t, e.cfg.Paths.InputDir, name, body)
	sum, _, err := fileutil.HashFile(path)
	require.NoError(t, err)
	return sum
}

func (e *env) manifest(t *testing.T) map[string]string {
	t.Helper()
	data, err := os.ReadFile(e.cfg.Paths.ManifestPath)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestFirstRunCommitsAndSecondRunSkips(t *testing.T) {
	e := newEnv(t)
	sum := e.writeInput(t, "a.pdf", "alpha")

	summary, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, summary.Status)
	assert.Equal(t, "batch-1", summary.BatchID)
	assert.True(t, summary.ManifestWritten)
	assert.Equal(t, 1, summary.Count(history.OutcomeCommitted))
	assert.Equal(t, map[string]string{"a.pdf": sum}, e.manifest(t))
	assert.FileExists(t, filepath.Join(e.cfg.Paths.OutputDir, "a", "full.md"))

	before, err := os.ReadFile(e.cfg.Paths.ManifestPath)
	require.NoError(t, err)
	info, err := os.Stat(e.cfg.Paths.ManifestPath)
	require.NoError(t, err)
	statusCalls := e.fake.StatusCalls()

	second, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, history.StatusNoChanges, second.Status)
	assert.Empty(t, second.BatchID)
	assert.False(t, second.ManifestWritten)
	assert.Len(t, e.fake.Requests(), 1, "no second submission")
	assert.Equal(t, statusCalls, e.fake.StatusCalls(), "no polling")
	assert.Equal(t, 1, e.fake.Downloads("a.pdf"), "no second download")

	after, err := os.ReadFile(e.cfg.Paths.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	infoAfter, err := os.Stat(e.cfg.Paths.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), infoAfter.ModTime())

	runs, err := e.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, history.StatusNoChanges, runs[0].Status)
	assert.Equal(t, history.StatusCompleted, runs[1].Status)
	assert.Equal(t, 1, runs[1].Committed)
}

func TestChangedContentIsResubmitted(t *testing.T) {
	e := newEnv(t)
	e.writeInput(t, "a.pdf", "alpha")
	e.writeInput(t, "b.pdf", "bravo")
	_, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.NoError(t, err)

	changed := e.writeInput(t, "b.pdf", "bravo v2")
	summary, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Scan.Modified)
	assert.Equal(t, 1, summary.Scan.Unchanged)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, "b.pdf", summary.Items[0].Name)
	reqs := e.fake.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Files, 1)
	assert.Equal(t, changed, reqs[1].Files[0].DataID)
	assert.Equal(t, changed, e.manifest(t)["b.pdf"])
}

func TestDoneAndFailedCommitsOnlyDone(t *testing.T) {
	e := newEnv(t)
	sumA := e.writeInput(t, "a.pdf", "alpha")
	e.writeInput(t, "b.pdf", "bravo")
	e.fake.Outcome["b.pdf"] = testsupport.OutcomeFailed

	summary, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, history.StatusPartial, summary.Status)
	assert.Equal(t, map[string]string{"a.pdf": sumA}, e.manifest(t))
	assert.Equal(t, 1, summary.Count(history.OutcomeRemoteFailed))
	assert.NoDirExists(t, filepath.Join(e.cfg.Paths.OutputDir, "b"))

	plan, err := e.pipeline(t, 5*time.Second).Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Work, 1)
	assert.Equal(t, "b.pdf", plan.Work[0].Name)

	items, err := e.store.RunItems(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, history.OutcomeCommitted, items[0].Outcome)
	assert.Equal(t, history.OutcomeRemoteFailed, items[1].Outcome)
}

func TestPollTimeoutLeavesManifestUntouched(t *testing.T) {
	e := newEnv(t)
	e.writeInput(t, "a.pdf", "alpha")
	e.fake.PollsUntilDone = -1

	summary, err := e.pipeline(t, 50*time.Millisecond).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrTimeout)
	assert.Equal(t, history.StatusTimedOut, summary.Status)
	assert.Nil(t, e.manifest(t))
	assert.NoFileExists(t, e.cfg.Paths.ManifestPath)
	assert.Equal(t, 0, e.fake.Downloads("a.pdf"))
}

func TestTruncatedArchiveCommitsOthers(t *testing.T) {
	e := newEnv(t)
	sumA := e.writeInput(t, "a.pdf", "alpha")
	e.writeInput(t, "b.pdf", "bravo")
	e.fake.Bundles["b.pdf"] = testsupport.TruncatedBundle(t, map[string]string{
		"full.md":     "# b\n\n" + string(make([]byte, 4096)),
		"layout.json": "{}",
	})

	summary, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, history.StatusPartial, summary.Status)
	assert.Equal(t, map[string]string{"a.pdf": sumA}, e.manifest(t))
	assert.Equal(t, 1, summary.Count(history.OutcomeMaterializeFailed))
	assert.FileExists(t, filepath.Join(e.cfg.Paths.OutputDir, "b.zip"))
}

func TestUploadFailureExcludesItem(t *testing.T) {
	e := newEnv(t)
	sumA := e.writeInput(t, "a.pdf", "alpha")
	e.writeInput(t, "b.pdf", "bravo")
	e.fake.UploadFailures["b.pdf"] = -1

	summary, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, history.StatusPartial, summary.Status)
	assert.Equal(t, 1, summary.Count(history.OutcomeUploadFailed))
	assert.Equal(t, map[string]string{"a.pdf": sumA}, e.manifest(t))
}

func TestBatchFailureLeavesManifestUntouched(t *testing.T) {
	e := newEnv(t)
	e.writeInput(t, "a.pdf", "alpha")
	e.fake.BatchCode = -60005

	summary, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrBatch)
	assert.Equal(t, history.StatusFailed, summary.Status)
	assert.NoFileExists(t, e.cfg.Paths.ManifestPath)
}

func TestMissingInputDirectory(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.RemoveAll(e.cfg.Paths.InputDir))

	_, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.NoDirExists(t, e.cfg.Paths.InputDir)

	e.cfg.Paths.ManifestPath = filepath.Join(testsupport.BaseDir(e.cfg), "cache.json")
	_, err = e.pipeline(t, 5*time.Second).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNotFound, "scan reports the missing input directory")
}

func TestEmptyDirectoryShortCircuits(t *testing.T) {
	e := newEnv(t)

	summary, err := e.pipeline(t, 5*time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, history.StatusNoChanges, summary.Status)
	assert.Empty(t, e.fake.Requests())
	assert.NoFileExists(t, e.cfg.Paths.ManifestPath)
}

func TestConcurrentRunIsLocked(t *testing.T) {
	e := newEnv(t)
	e.writeInput(t, "a.pdf", "alpha")
	require.NoError(t, e.cfg.EnsureDirectories())

	held := flock.New(e.cfg.LockPath())
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = e.pipeline(t, 5*time.Second).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrLocked)
	assert.Empty(t, e.fake.Requests())
}

func TestResumeAfterTimeout(t *testing.T) {
	e := newEnv(t)
	sum := e.writeInput(t, "a.pdf", "alpha")
	e.fake.PollsUntilDone = -1

	first, err := e.pipeline(t, 40*time.Millisecond).Run(context.Background())
	require.ErrorIs(t, err, services.ErrTimeout)

	e.fake.PollsUntilDone = 0
	// The file changes after submission; the submitted fingerprint is what
	// gets committed, so the next run picks up the edit.
	e.writeInput(t, "a.pdf", "alpha edited")

	resumed, err := e.pipeline(t, 5*time.Second).Resume(context.Background(), first.BatchID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, resumed.Status)
	assert.Equal(t, map[string]string{"a.pdf": sum}, e.manifest(t))
	assert.Len(t, e.fake.Requests(), 1, "resume does not resubmit")

	prev, err := e.store.GetRun(context.Background(), first.RunID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusResumed, prev.Status)
	cur, err := e.store.GetRun(context.Background(), resumed.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, cur.ResumedFrom)

	_, err = e.pipeline(t, 5*time.Second).Resume(context.Background(), first.BatchID)
	assert.ErrorIs(t, err, services.ErrNotFound)

	plan, err := e.pipeline(t, 5*time.Second).Plan(context.Background())
	require.NoError(t, err)
	assert.Len(t, plan.Work, 1)
}

func TestResumeWithoutHistory(t *testing.T) {
	e := newEnv(t)
	p, err := pipeline.New(pipeline.Options{Config: e.cfg, Remote: e.fake.Client()})
	require.NoError(t, err)

	_, err = p.Resume(context.Background(), "batch-1")
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

func TestCancelledRunIsInterrupted(t *testing.T) {
	e := newEnv(t)
	e.writeInput(t, "a.pdf", "alpha")
	e.fake.PollsUntilDone = -1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(60*time.Millisecond, cancel)
	summary, err := e.pipeline(t, 10*time.Second).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, services.ErrTimeout)
	assert.Equal(t, history.StatusInterrupted, summary.Status)
	assert.NoFileExists(t, e.cfg.Paths.ManifestPath)
	assert.NotEmpty(t, summary.BatchID)

	run, err := e.store.FindResumable(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, run.ID)
}

type cancelOnDownload struct {
	*mineru.Client
	cancel context.CancelFunc
}

func (r cancelOnDownload) Download(ctx context.Context, _ string, _ io.Writer) (int64, error) {
	r.cancel()
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestCancelDuringMaterializeIsResumable(t *testing.T) {
	e := newEnv(t)
	sum := e.writeInput(t, "a.pdf", "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := pipeline.New(pipeline.Options{
		Config:       e.cfg,
		Remote:       cancelOnDownload{Client: e.fake.Client(), cancel: cancel},
		Recorder:     e.store,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  5 * time.Second,
		Retry:        mineru.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond},
	})
	require.NoError(t, err)

	first, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, history.StatusInterrupted, first.Status)
	assert.Nil(t, e.manifest(t))

	items, err := e.store.RunItems(context.Background(), first.RunID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, history.OutcomeUploaded, items[0].Outcome)

	resumed, err := e.pipeline(t, 5*time.Second).Resume(context.Background(), first.BatchID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, resumed.Status)
	assert.Equal(t, map[string]string{"a.pdf": sum}, e.manifest(t))
	assert.Len(t, e.fake.Requests(), 1)
}

func TestNewRequiresConfigAndRemote(t *testing.T) {
	_, err := pipeline.New(pipeline.Options{})
	assert.ErrorIs(t, err, services.ErrConfiguration)
	_, err = pipeline.New(pipeline.Options{Config: testsupport.NewConfig(t)})
	assert.ErrorIs(t, err, services.ErrConfiguration)
}
