package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ocrbatch/internal/logging"
)

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "ocrbatch-old.log")
	fresh := filepath.Join(dir, "ocrbatch-new.log")
	current := filepath.Join(dir, "ocrbatch-current.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, current, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 7, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "ocrbatch-*.log",
		Exclude: []string{current},
	})

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{fresh, current, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ocrbatch-old.log")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().AddDate(0, -1, 0)
	_ = os.Chtimes(path, past, past)
	logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir, Pattern: "*.log"})
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected retention 0 to keep files: %v", err)
	}
}
