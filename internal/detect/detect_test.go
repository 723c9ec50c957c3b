package detect_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocrbatch/internal/detect"
	"ocrbatch/internal/fileutil"
	"ocrbatch/internal/manifest"
	"ocrbatch/internal/services"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func emptyManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load(filepath.Join(t.TempDir(), "cache.json"), nil)
	require.NoError(t, err)
	return m
}

func TestFreshDirectoryListsEveryMatchOnce(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "b.pdf", "bravo")
	write(t, dir, "a.PDF", "alpha")
	write(t, dir, "notes.txt", "skip")
	write(t, dir, ".hidden.pdf", "skip")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))
	write(t, filepath.Join(dir, "sub.pdf"), "nested.pdf", "skip")

	res, err := detect.Scan(context.Background(), dir, emptyManifest(t), detect.Options{Extension: ".pdf"})
	require.NoError(t, err)

	require.Len(t, res.Work, 2)
	assert.Equal(t, "a.PDF", res.Work[0].Name)
	assert.Equal(t, "b.pdf", res.Work[1].Name)
	assert.Equal(t, int64(5), res.Work[0].Size)

	sum, _, err := fileutil.HashFile(filepath.Join(dir, "a.PDF"))
	require.NoError(t, err)
	assert.Equal(t, sum, res.Work[0].Fingerprint)
	assert.Equal(t, map[string]string{"a.PDF": res.Work[0].Fingerprint, "b.pdf": res.Work[1].Fingerprint}, res.Current)
	assert.Equal(t, detect.Stats{Matched: 2, New: 2}, res.Stats)
}

func TestUnchangedAndChangedFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.pdf", "alpha")
	write(t, dir, "b.pdf", "bravo")
	m := emptyManifest(t)

	first, err := detect.Scan(context.Background(), dir, m, detect.Options{})
	require.NoError(t, err)
	for name, fp := range first.Current {
		m.Record(name, fp)
	}

	second, err := detect.Scan(context.Background(), dir, m, detect.Options{})
	require.NoError(t, err)
	assert.Empty(t, second.Work, "unchanged files must not be resubmitted")
	assert.Equal(t, 2, second.Stats.Unchanged)

	write(t, dir, "b.pdf", "bravo v2")
	third, err := detect.Scan(context.Background(), dir, m, detect.Options{})
	require.NoError(t, err)
	require.Len(t, third.Work, 1)
	assert.Equal(t, "b.pdf", third.Work[0].Name)
	assert.Equal(t, 1, third.Stats.Modified)
}

func TestScanDoesNotMutateManifest(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.pdf", "alpha")
	m := emptyManifest(t)
	_, err := detect.Scan(context.Background(), dir, m, detect.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Dirty())
}

func TestEmptyDirectory(t *testing.T) {
	res, err := detect.Scan(context.Background(), t.TempDir(), emptyManifest(t), detect.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Work)
	assert.Empty(t, res.Current)
}

func TestMissingDirectoryIsNotFound(t *testing.T) {
	_, err := detect.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), emptyManifest(t), detect.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrNotFound), "got %v", err)
}

func TestSymlinkedFileIsIncluded(t *testing.T) {
	dir := t.TempDir()
	target := write(t, t.TempDir(), "real.pdf", "content")
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "link.pdf")))

	res, err := detect.Scan(context.Background(), dir, emptyManifest(t), detect.Options{})
	require.NoError(t, err)
	require.Len(t, res.Work, 1)
	assert.Equal(t, "link.pdf", res.Work[0].Name)
}

func TestCustomExtension(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "scan.png", "img")
	write(t, dir, "doc.pdf", "pdf")
	res, err := detect.Scan(context.Background(), dir, emptyManifest(t), detect.Options{Extension: "png", Concurrency: 2})
	require.NoError(t, err)
	require.Len(t, res.Work, 1)
	assert.Equal(t, "scan.png", res.Work[0].Name)
}

func TestCanceledContext(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.pdf", "alpha")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := detect.Scan(ctx, dir, emptyManifest(t), detect.Options{})
	require.ErrorIs(t, err, context.Canceled)
}
