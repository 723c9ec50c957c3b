// Package fileutil holds small filesystem helpers shared by the pipeline:
// content fingerprints, atomic file writes, and directory swaps.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// HashFile streams path through SHA-256 and returns the lowercase hex digest
// together with the number of bytes read.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader returns the lowercase hex SHA-256 of everything read from r.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path,
// so readers observe either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReplaceDir moves src into place at dst. An existing dst is first moved aside
// into trashDir and removed once src is in place; if the final rename fails the
// previous dst is restored.
func ReplaceDir(src, dst, trashDir string) error {
	var parked string
	if _, err := os.Lstat(dst); err == nil {
		if err := os.MkdirAll(trashDir, 0o755); err != nil {
			return fmt.Errorf("create trash directory: %w", err)
		}
		parked = filepath.Join(trashDir, filepath.Base(dst)+"-old-"+uuid.NewString())
		if err := os.Rename(dst, parked); err != nil {
			return fmt.Errorf("move existing %s aside: %w", dst, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", dst, err)
	}

	if err := os.Rename(src, dst); err != nil {
		if parked != "" {
			_ = os.Rename(parked, dst)
		}
		return fmt.Errorf("move %s into place: %w", src, err)
	}
	if parked != "" {
		_ = os.RemoveAll(parked)
	}
	return nil
}
