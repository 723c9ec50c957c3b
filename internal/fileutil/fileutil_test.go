package fileutil_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ocrbatch/internal/fileutil"
)

func TestHashFileKnownDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, size, err := fileutil.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want {
		t.Fatalf("digest = %s, want %s", sum, want)
	}
	if size != 3 {
		t.Fatalf("size = %d, want 3", size)
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, _, err := fileutil.HashFile(filepath.Join(t.TempDir(), "missing")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestHashReaderEmpty(t *testing.T) {
	sum, size, err := fileutil.HashReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if size != 0 || sum != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty digest %s (%d)", sum, size)
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.json")
	if err := fileutil.WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := fileutil.WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "two" {
		t.Fatalf("unexpected content %q err=%v", data, err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up, found %d entries", len(entries))
	}
}

func TestReplaceDir(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "doc")
	trash := filepath.Join(root, ".staging")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dst, "stale.md"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(root, "incoming")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "full.md"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := fileutil.ReplaceDir(src, dst, trash); err != nil {
		t.Fatalf("ReplaceDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "stale.md")); !os.IsNotExist(err) {
		t.Fatalf("expected old content gone, err=%v", err)
	}
	if data, err := os.ReadFile(filepath.Join(dst, "full.md")); err != nil || string(data) != "new" {
		t.Fatalf("expected new content, got %q err=%v", data, err)
	}
	if entries, _ := os.ReadDir(trash); len(entries) != 0 {
		t.Fatalf("expected parked directory removed, found %d", len(entries))
	}
}

func TestReplaceDirFreshDestination(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "incoming")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(root, "doc")
	if err := fileutil.ReplaceDir(src, dst, filepath.Join(root, ".trash")); err != nil {
		t.Fatalf("ReplaceDir: %v", err)
	}
	if info, err := os.Stat(dst); err != nil || !info.IsDir() {
		t.Fatalf("expected destination dir, err=%v", err)
	}
}
