package detect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/fileutil"
	"ocrbatch/internal/logging"
	"ocrbatch/internal/manifest"
	"ocrbatch/internal/services"
)

// Lookup is the read-only view of the manifest the detector needs.
type Lookup interface {
	Lookup(name string) (string, bool)
}

// Options controls which files are considered and how many are hashed at once.
type Options struct {
	Extension   string
	Concurrency int
	Logger      *slog.Logger
}

// Stats summarizes a scan.
type Stats struct {
	Matched   int `json:"matched"`
	New       int `json:"new"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
}

// Result is the outcome of a scan: the work list sorted by name and the
// current fingerprint of every matching file.
type Result struct {
	Work    []batch.WorkItem
	Current map[string]string
	Stats   Stats
}

// Scan fingerprints every matching regular file directly inside dir and
// returns the ones whose fingerprint differs from the manifest. It never
// modifies the manifest.
func Scan(ctx context.Context, dir string, known Lookup, opts Options) (Result, error) {
	logger := logging.NewComponentLogger(opts.Logger, "detector")
	ext := strings.ToLower(strings.TrimSpace(opts.Extension))
	if ext == "" {
		ext = ".pdf"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	candidates, err := listCandidates(dir, ext)
	if err != nil {
		return Result{}, err
	}

	items := make([]batch.WorkItem, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))
	for i, path := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, size, err := fileutil.HashFile(path)
			if err != nil {
				return services.Wrap(services.ErrValidation, "detect", "fingerprint", path, err)
			}
			items[i] = batch.WorkItem{
				Path:        path,
				Name:        manifest.NormalizeName(filepath.Base(path)),
				Fingerprint: sum,
				Size:        size,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result := Result{Current: make(map[string]string, len(items))}
	for _, item := range items {
		result.Current[item.Name] = item.Fingerprint
		result.Stats.Matched++
		previous, ok := known.Lookup(item.Name)
		switch {
		case !ok:
			result.Stats.New++
		case previous != item.Fingerprint:
			result.Stats.Modified++
		default:
			result.Stats.Unchanged++
			continue
		}
		result.Work = append(result.Work, item)
	}
	sort.Slice(result.Work, func(i, j int) bool { return result.Work[i].Name < result.Work[j].Name })

	logger.Info("change detection complete",
		logging.String(logging.FieldEventType, "detect_complete"),
		logging.String("dir", dir),
		logging.Int("matched", result.Stats.Matched),
		logging.Int("new", result.Stats.New),
		logging.Int("modified", result.Stats.Modified),
		logging.Int("unchanged", result.Stats.Unchanged),
	)
	return result, nil
}

func listCandidates(dir, ext string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "detect", "scan", fmt.Sprintf("input directory %s does not exist", dir), err)
		}
		return nil, services.Wrap(services.ErrValidation, "detect", "scan", dir, err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "detect", "scan", fmt.Sprintf("%s is not a directory", dir), nil)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "detect", "read dir", dir, err)
	}

	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if isHidden(name) || entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		path := filepath.Join(dir, name)
		if !isRegular(entry, path) {
			continue
		}
		out = append(out, path)
	}
	return out, nil
}

func isRegular(entry fs.DirEntry, path string) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
