package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"ocrbatch/internal/testsupport"
)

func TestCheckReadableDirectory(t *testing.T) {
	if res := CheckReadableDirectory("in", t.TempDir()); !res.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", res.Detail)
	}
	if res := CheckReadableDirectory("in", filepath.Join(t.TempDir(), "nope")); res.Passed || res.Detail == "" {
		t.Fatalf("expected failure with detail for missing dir, got %#v", res)
	}
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if res := CheckReadableDirectory("in", f); res.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckWritableDirectoryMissingUsesParent(t *testing.T) {
	base := t.TempDir()
	res := CheckWritableDirectory("out", filepath.Join(base, "ocr", "nested"))
	if !res.Passed {
		t.Fatalf("expected pass when parent is writable, got: %s", res.Detail)
	}
	if res.Detail == "" {
		t.Fatal("expected detail")
	}
}

func TestCheckWritableDirectoryRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if res := CheckWritableDirectory("out", f); res.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if res := CheckFreeSpace("space", dir, 0); !res.Passed {
		t.Fatalf("expected pass with zero minimum, got: %s", res.Detail)
	}
	if res := CheckFreeSpace("space", dir, 1<<30); res.Passed {
		t.Fatalf("expected failure for an exabyte minimum, got: %s", res.Detail)
	}
}

func TestCheckToken(t *testing.T) {
	if CheckToken("  ").Passed {
		t.Fatal("expected failure for blank token")
	}
	if !CheckToken("abc").Passed {
		t.Fatal("expected pass for token")
	}
}

func TestCheckMinerU(t *testing.T) {
	fake := testsupport.NewFakeMinerU(t)
	if res := CheckMinerU(context.Background(), fake.BaseURL(), "test-token"); !res.Passed {
		t.Fatalf("expected pass, got: %s", res.Detail)
	}
}

func TestCheckMinerUAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res := CheckMinerU(context.Background(), srv.URL, "bad")
	if res.Passed {
		t.Fatal("expected failure for 401")
	}
	if res.Detail != "auth failed (invalid api token)" {
		t.Fatalf("unexpected detail: %s", res.Detail)
	}
}

func TestCheckMinerUServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if res := CheckMinerU(context.Background(), srv.URL, "tok"); res.Passed {
		t.Fatal("expected failure for 502")
	}
}

func TestCheckInputContent(t *testing.T) {
	dir := t.TempDir()
	testsupport.WritePDF(t, dir, "good.pdf", "content")
	testsupport.WriteFile(t, filepath.Join(dir, "fake.pdf"), "just some text")
	testsupport.WriteFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	res := CheckInputContent(dir, ".pdf")
	if !res.Advisory {
		t.Fatal("content check must be advisory")
	}
	if res.Passed {
		t.Fatalf("expected mismatch report, got: %s", res.Detail)
	}
	if want := "1 of 2 files do not look like PDF"; len(res.Detail) < len(want) || res.Detail[:len(want)] != want {
		t.Fatalf("unexpected detail: %s", res.Detail)
	}
}

func TestRunLocalAndFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.MinerU.APIToken = ""
	if err := os.MkdirAll(cfg.Paths.InputDir, 0o755); err != nil {
		t.Fatal(err)
	}

	results := RunLocal(cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "API token" {
		t.Fatalf("expected only the token check to fail, got %#v", failed)
	}
}
