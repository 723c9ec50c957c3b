package materialize_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/materialize"
	"ocrbatch/internal/mineru"
	"ocrbatch/internal/services"
	"ocrbatch/internal/testsupport"
)

type recorder struct {
	mu      sync.Mutex
	entries map[string]string
}

func (r *recorder) Record(name, fp string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = map[string]string{}
	}
	r.entries[name] = fp
}

func bundleURL(fake *testsupport.FakeMinerU, name string) string {
	return fake.Server.URL + "/bundles/batch-1/" + name + ".zip"
}

func newMaterializer(t *testing.T, fake *testsupport.FakeMinerU, rec *recorder) (*materialize.Materializer, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "ocr")
	m := materialize.New(fake.Client(), rec, materialize.Options{
		OutputDir:   out,
		Concurrency: 2,
		Retry:       mineru.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
	})
	return m, out
}

func assertNoPartFiles(t *testing.T, dir string) {
	t.Helper()
	parts, err := filepath.Glob(filepath.Join(dir, "*.part"))
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func done(fake *testsupport.FakeMinerU, name string) batch.Status {
	return batch.Status{Name: name, State: batch.StateDone, RemoteState: "done", BundleURL: bundleURL(fake, name)}
}

func TestMaterializeCommitsExtractedItems(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	rec := &recorder{}
	m, out := newMaterializer(t, fake, rec)

	report, err := m.Materialize(context.Background(),
		[]batch.Status{done(fake, "a.pdf"), done(fake, "b.pdf")},
		map[string]string{"a.pdf": "fa", "b.pdf": "fb"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Count(materialize.OutcomeCommitted))
	assert.Equal(t, map[string]string{"a.pdf": "fa", "b.pdf": "fb"}, rec.entries)

	md, err := os.ReadFile(filepath.Join(out, "a", "full.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "# a")
	assert.FileExists(t, filepath.Join(out, "a", "images", "page-1.jpg"))
	assert.NoFileExists(t, filepath.Join(out, "a.zip"))
	assertNoPartFiles(t, out)

	staged, err := os.ReadDir(filepath.Join(out, materialize.StagingDirName))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestMaterializeReplacesPreviousOutput(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	rec := &recorder{}
	m, out := newMaterializer(t, fake, rec)
	testsupport.WriteFile(t, filepath.Join(out, "a", "stale.txt"), "old")

	_, err := m.Materialize(context.Background(), []batch.Status{done(fake, "a.pdf")}, map[string]string{"a.pdf": "fa"})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(out, "a", "stale.txt"))
	assert.FileExists(t, filepath.Join(out, "a", "full.md"))
}

func TestMaterializeSkipsFailedAndURLlessItems(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	rec := &recorder{}
	m, out := newMaterializer(t, fake, rec)

	report, err := m.Materialize(context.Background(), []batch.Status{
		{Name: "f.pdf", State: batch.StateFailed, RemoteState: "failed", Message: "bad scan"},
		{Name: "n.pdf", State: batch.StateDone, RemoteState: "done"},
	}, map[string]string{"f.pdf": "ff", "n.pdf": "fn"})
	require.NoError(t, err)

	require.Len(t, report.Items, 2)
	assert.Equal(t, materialize.OutcomeSkipped, report.Items[0].Outcome)
	assert.Contains(t, report.Items[0].Err.Error(), "bad scan")
	assert.Equal(t, materialize.OutcomeSkipped, report.Items[1].Outcome)
	assert.Contains(t, report.Items[1].Err.Error(), "without a bundle url")
	assert.Empty(t, rec.entries)
	assert.Equal(t, 0, fake.Downloads("f.pdf"))
	assert.NoDirExists(t, filepath.Join(out, "f"))
}

func TestMaterializeTruncatedArchiveIsNotCommitted(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	fake.Bundles["b.pdf"] = testsupport.TruncatedBundle(t, map[string]string{
		"full.md":     "# b\n\n" + string(make([]byte, 4096)),
		"layout.json": "{}",
	})
	rec := &recorder{}
	m, out := newMaterializer(t, fake, rec)

	report, err := m.Materialize(context.Background(),
		[]batch.Status{done(fake, "a.pdf"), done(fake, "b.pdf")},
		map[string]string{"a.pdf": "fa", "b.pdf": "fb"})
	require.NoError(t, err)

	assert.Equal(t, materialize.OutcomeCommitted, report.Items[0].Outcome)
	assert.Equal(t, materialize.OutcomeFailed, report.Items[1].Outcome)
	assert.ErrorIs(t, report.Items[1].Err, services.ErrItem)
	assert.Equal(t, map[string]string{"a.pdf": "fa"}, rec.entries)

	assert.FileExists(t, filepath.Join(out, "b.zip"), "archive kept for inspection")
	assert.NoDirExists(t, filepath.Join(out, "b"))
	staged, err := os.ReadDir(filepath.Join(out, materialize.StagingDirName))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestMaterializeRejectsNonZipPayload(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	fake.Bundles["a.pdf"] = []byte("<html><body>expired link</body></html>")
	rec := &recorder{}
	m, _ := newMaterializer(t, fake, rec)

	report, err := m.Materialize(context.Background(), []batch.Status{done(fake, "a.pdf")}, map[string]string{"a.pdf": "fa"})
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, materialize.OutcomeFailed, report.Items[0].Outcome)
	assert.Contains(t, report.Items[0].Err.Error(), "not a zip archive")
	assert.Empty(t, rec.entries)
}

func TestMaterializeRejectsEscapingEntries(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	fake.Bundles["a.pdf"] = testsupport.BuildBundle(t, map[string]string{
		"full.md":          "ok",
		"../../escape.txt": "nope",
	})
	rec := &recorder{}
	m, out := newMaterializer(t, fake, rec)

	report, err := m.Materialize(context.Background(), []batch.Status{done(fake, "a.pdf")}, map[string]string{"a.pdf": "fa"})
	require.NoError(t, err)
	assert.Equal(t, materialize.OutcomeFailed, report.Items[0].Outcome)
	assert.Contains(t, report.Items[0].Err.Error(), "escapes destination")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(out), "escape.txt"))
	assert.Empty(t, rec.entries)
}

func TestMaterializeDownloadNotFoundFailsItem(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	rec := &recorder{}
	m, out := newMaterializer(t, fake, rec)

	st := batch.Status{Name: "a.pdf", State: batch.StateDone, BundleURL: fake.Server.URL + "/missing/a.zip"}
	report, err := m.Materialize(context.Background(), []batch.Status{st}, map[string]string{"a.pdf": "fa"})
	require.NoError(t, err)
	assert.Equal(t, materialize.OutcomeFailed, report.Items[0].Outcome)
	assertNoPartFiles(t, out)
	assert.NoFileExists(t, filepath.Join(out, "a.zip"))
}

func TestMaterializeRequiresFingerprint(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	rec := &recorder{}
	m, _ := newMaterializer(t, fake, rec)

	report, err := m.Materialize(context.Background(), []batch.Status{done(fake, "a.pdf")}, nil)
	require.NoError(t, err)
	assert.Equal(t, materialize.OutcomeFailed, report.Items[0].Outcome)
	assert.Equal(t, 0, fake.Downloads("a.pdf"))
}

func TestMaterializeCancelled(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	rec := &recorder{}
	m, _ := newMaterializer(t, fake, rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Materialize(ctx, []batch.Status{done(fake, "a.pdf")}, map[string]string{"a.pdf": "fa"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.entries)
}

func TestMaterializeStemCollisionKeepsOneOwner(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	fake.Bundles["a.pdf"] = testsupport.BuildBundle(t, map[string]string{"full.md": "lower"})
	fake.Bundles["a.PDF"] = testsupport.BuildBundle(t, map[string]string{"full.md": "upper"})
	rec := &recorder{}
	m, out := newMaterializer(t, fake, rec)

	report, err := m.Materialize(context.Background(),
		[]batch.Status{done(fake, "a.pdf"), done(fake, "a.PDF")},
		map[string]string{"a.pdf": "fp-lower", "a.PDF": "fp-upper"})
	require.NoError(t, err)

	require.Len(t, report.Items, 2)
	assert.Equal(t, materialize.OutcomeFailed, report.Items[0].Outcome)
	assert.ErrorIs(t, report.Items[0].Err, services.ErrItem)
	assert.Contains(t, report.Items[0].Err.Error(), "already used by a.PDF")
	assert.Equal(t, materialize.OutcomeCommitted, report.Items[1].Outcome)
	assert.Equal(t, 0, fake.Downloads("a.pdf"))
	assert.Equal(t, map[string]string{"a.PDF": "fp-upper"}, rec.entries)

	md, err := os.ReadFile(filepath.Join(out, "a", "full.md"))
	require.NoError(t, err)
	assert.Equal(t, "upper", string(md))
	assertNoPartFiles(t, out)
}

func TestMaterializeCollisionIgnoresUnfinishedItems(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	rec := &recorder{}
	m, _ := newMaterializer(t, fake, rec)

	report, err := m.Materialize(context.Background(), []batch.Status{
		{Name: "a.PDF", State: batch.StateFailed, RemoteState: "failed", Message: "bad scan"},
		done(fake, "a.pdf"),
	}, map[string]string{"a.pdf": "fa", "a.PDF": "fA"})
	require.NoError(t, err)

	assert.Equal(t, materialize.OutcomeSkipped, report.Items[0].Outcome)
	assert.Equal(t, materialize.OutcomeCommitted, report.Items[1].Outcome)
	assert.Equal(t, map[string]string{"a.pdf": "fa"}, rec.entries)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "report", materialize.Stem("report.pdf"))
	assert.Equal(t, "archive.tar", materialize.Stem("archive.tar.gz"))
	assert.Equal(t, ".pdf", materialize.Stem(".pdf"))
}
