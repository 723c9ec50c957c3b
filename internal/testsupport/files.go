package testsupport

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WritePDF writes a minimal PDF-looking document named name into dir.
func WritePDF(t testing.TB, dir, name, body string) string {
	t.Helper()
	return WriteFile(t, filepath.Join(dir, name), "%PDF-1.7\n"+body+"\n%%EOF\n")
}

// BuildBundle returns a zip archive holding files (name to content), written
// in sorted name order.
func BuildBundle(t testing.TB, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// TruncatedBundle returns a bundle cut short so that it still sniffs as a zip
// but cannot be extracted.
func TruncatedBundle(t testing.TB, files map[string]string) []byte {
	t.Helper()
	full := BuildBundle(t, files)
	return full[:len(full)/2]
}
