package testsupport

import (
	"path/filepath"
	"testing"

	"ocrbatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Poll timings are shortened to milliseconds-friendly values via the options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "pdf")
	cfgVal.Paths.OutputDir = filepath.Join(base, "ocr")
	cfgVal.Paths.ManifestPath = filepath.Join(base, "pdf", "cache.json")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.MinerU.APIToken = "test-token"
	cfgVal.Workflow.MinFreeGiB = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBaseURL points the config at a fake MinerU server.
func WithBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.MinerU.BaseURL = url
	}
}

// WithPollTimeout sets the poll deadline in seconds.
func WithPollTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.PollTimeout = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.InputDir)
}
