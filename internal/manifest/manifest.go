package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"ocrbatch/internal/fileutil"
	"ocrbatch/internal/logging"
)

// Entry is one processed document and the fingerprint of the content whose
// output is currently materialized.
type Entry struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

// Manifest maps source file names to the fingerprint last processed
// successfully. It is safe for concurrent use.
type Manifest struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]string
	dirty   bool
}

// Load reads the manifest at path. A missing file yields an empty manifest; a
// file that cannot be parsed is logged and also treated as empty so the next
// save rewrites it. Other read errors are returned.
func Load(path string, logger *slog.Logger) (*Manifest, error) {
	logger = logging.NewComponentLogger(logger, "manifest")
	m := &Manifest{
		path:    path,
		logger:  logger,
		entries: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("manifest not found; starting empty", logging.String("path", path))
			return m, nil
		}
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		logging.WarnWithContext(logger, "manifest unreadable; starting empty", "manifest_corrupt",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect or delete the manifest file"),
			logging.String(logging.FieldImpact, "every input file will be reprocessed this run"),
		)
		m.dirty = true
		return m, nil
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := normalizeName(name)
		if key == "" {
			continue
		}
		m.entries[key] = strings.ToLower(strings.TrimSpace(raw[name]))
	}

	logger.Debug("manifest loaded", logging.String("path", path), logging.Int("entries", len(m.entries)))
	return m, nil
}

// Path returns the file backing the manifest.
func (m *Manifest) Path() string {
	return m.path
}

// Lookup returns the recorded fingerprint for name.
func (m *Manifest) Lookup(name string) (string, bool) {
	key := normalizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	fp, ok := m.entries[key]
	return fp, ok
}

// Record stores the fingerprint for name in memory. Call Save to persist.
func (m *Manifest) Record(name, fingerprint string) {
	key := normalizeName(name)
	if key == "" {
		return
	}
	fingerprint = strings.ToLower(strings.TrimSpace(fingerprint))

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.entries[key]; ok && current == fingerprint {
		return
	}
	m.entries[key] = fingerprint
	m.dirty = true
}

// Forget removes the entry for name so the file is reprocessed on the next run.
func (m *Manifest) Forget(name string) bool {
	key := normalizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	m.dirty = true
	return true
}

// Entries returns every entry sorted by name.
func (m *Manifest) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for name, fp := range m.entries {
		out = append(out, Entry{Name: name, Fingerprint: fp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Dirty reports whether in-memory entries differ from what was loaded or last saved.
func (m *Manifest) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// Save atomically writes the manifest as a JSON object keyed by file name.
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m.entries); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := fileutil.WriteFileAtomic(m.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	m.dirty = false
	m.logger.Debug("manifest saved", logging.String("path", m.path), logging.Int("entries", len(m.entries)))
	return nil
}

// NormalizeName returns the canonical key used for a file name.
func NormalizeName(name string) string {
	return normalizeName(name)
}

func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
