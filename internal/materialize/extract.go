package materialize

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var errUnsafeEntry = errors.New("archive entry escapes destination")

// isZip sniffs the file at path and reports whether it is a zip container,
// including zip-based formats that mimetype reports as children of zip.
func isZip(path string) (string, bool, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false, err
	}
	for t := mt; t != nil; t = t.Parent() {
		if t.Is("application/zip") {
			return mt.String(), true, nil
		}
	}
	return mt.String(), false, nil
}

// extractZip unpacks archive into dest, which must already exist. Entries that
// resolve outside dest, absolute paths and symlinks are rejected.
func extractZip(archive, dest string) (int, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	files := 0
	for _, f := range zr.File {
		rel, err := entryPath(f.Name)
		if err != nil {
			return files, err
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, rel)
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("create %s: %w", rel, err)
			}
			continue
		case mode&os.ModeSymlink != 0:
			return files, fmt.Errorf("%w: symlink %q", errUnsafeEntry, f.Name)
		}
		if err := writeEntry(f, target); err != nil {
			return files, fmt.Errorf("extract %s: %w", rel, err)
		}
		files++
	}
	return files, nil
}

func entryPath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	trimmed := strings.TrimSuffix(name, "/")
	if trimmed == "" || trimmed == "." {
		return "", nil
	}
	rel := filepath.FromSlash(trimmed)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", errUnsafeEntry, name)
	}
	return filepath.Clean(rel), nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
