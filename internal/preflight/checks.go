package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sys/unix"
)

// CheckReadableDirectory verifies that the directory exists and can be listed.
func CheckReadableDirectory(name, path string) Result {
	if res, ok := statDirectory(name, path); !ok {
		return res
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read ok)", path)}
}

// CheckWritableDirectory verifies that the directory is writable. A missing
// directory passes when its nearest existing parent is writable, since runs
// create it on demand.
func CheckWritableDirectory(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	info, err := os.Stat(existing)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", existing, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", existing)}
	}
	if err := unix.Access(existing, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", existing, err)}
	}
	if existing != filepath.Clean(path) {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created under %s)", path, existing)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minGiB gibibytes available. A zero minimum only reports the free space.
func CheckFreeSpace(name, path string, minGiB int) Result {
	existing, err := nearestExisting(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	var st unix.Statfs_t
	if err := unix.Statfs(existing, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", existing, err)}
	}
	free := uint64(st.Bavail) * uint64(st.Bsize)
	need := uint64(max(minGiB, 0)) << 30
	detail := fmt.Sprintf("%s available", humanize.IBytes(free))
	if free < need {
		return Result{Name: name, Detail: fmt.Sprintf("%s, need %s", detail, humanize.IBytes(need))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckToken verifies that an API token is configured.
func CheckToken(token string) Result {
	const name = "API token"
	if strings.TrimSpace(token) == "" {
		return Result{Name: name, Detail: "missing (set MINERU_API_TOKEN or mineru.api_token)"}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}

// CheckMinerU verifies that the MinerU API answers an authenticated status
// query. Any answer other than an auth rejection or a server error counts as
// reachable; the probe batch does not need to exist.
func CheckMinerU(ctx context.Context, baseURL, token string) Result {
	const name = "MinerU API"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/extract-results/batch/ocrbatch-preflight", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("probe failed (%v)", err)}
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeProbeError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api token)"}
	case resp.StatusCode >= 500:
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
}

// CheckInputContent sniffs every input file with the expected extension and
// reports those that are not PDF documents. The result is advisory: such files
// are still submitted.
func CheckInputContent(dir, ext string) Result {
	const name = "Input content"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{Name: name, Advisory: true, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	ext = strings.ToLower(ext)
	checked := 0
	var mismatched []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || strings.ToLower(filepath.Ext(entry.Name())) != ext {
			continue
		}
		mt, err := mimetype.DetectFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			mismatched = append(mismatched, entry.Name())
			continue
		}
		checked++
		if ext == ".pdf" && !mt.Is("application/pdf") {
			mismatched = append(mismatched, fmt.Sprintf("%s (%s)", entry.Name(), mt.String()))
		}
	}
	if len(mismatched) > 0 {
		return Result{Name: name, Advisory: true, Detail: fmt.Sprintf("%d of %d files do not look like PDF: %s",
			len(mismatched), checked, strings.Join(mismatched, ", "))}
	}
	return Result{Name: name, Advisory: true, Passed: true, Detail: fmt.Sprintf("%d files checked", checked)}
}

func statDirectory(name, path string) (Result, bool) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}, false
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}, false
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}, false
	}
	return Result{}, true
}

func nearestExisting(path string) (string, error) {
	current := filepath.Clean(path)
	for {
		if _, err := os.Stat(current); err == nil {
			return current, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", errors.New("no existing parent directory")
		}
		current = parent
	}
}

func summarizeProbeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "probe timed out (MinerU API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "probe timed out (MinerU API unreachable)"
	}
	return err.Error()
}
