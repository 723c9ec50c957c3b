package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"ocrbatch/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains input, output, and state locations.
type Paths struct {
	InputDir     string `toml:"input_dir"`
	OutputDir    string `toml:"output_dir"`
	ManifestPath string `toml:"manifest_path"`
	LogDir       string `toml:"log_dir"`
	StateDir     string `toml:"state_dir"`
}

// MinerU contains connection and extraction settings for the MinerU batch API.
type MinerU struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	ModelVersion   string `toml:"model_version"`
	IsOCR          bool   `toml:"is_ocr"`
	EnableFormula  bool   `toml:"enable_formula"`
	EnableTable    bool   `toml:"enable_table"`
	Language       string `toml:"language"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Workflow contains pipeline timing and concurrency settings.
type Workflow struct {
	InputExtension string `toml:"input_extension"`
	PollInterval   int    `toml:"poll_interval"`
	PollTimeout    int    `toml:"poll_timeout"`
	Concurrency    int    `toml:"concurrency"`
	MaxAttempts    int    `toml:"max_attempts"`
	MinFreeGiB     int    `toml:"min_free_gib"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for ocrbatch.
//
// Configuration sections by subsystem:
//   - Paths: input documents, output tree, manifest, logs, run history
//   - MinerU: remote API endpoint, token, and extraction options
//   - Workflow: polling cadence, deadline, worker pool size, retries
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	MinerU   MinerU   `toml:"mineru"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ocrbatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "parse", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "normalize", "", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ocrbatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a pipeline run writes into.
// The input directory is never created; a missing input is reported by the scan.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.OutputDir, c.Paths.LogDir, c.Paths.StateDir, filepath.Dir(c.Paths.ManifestPath)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" || filepath.Clean(dir) == filepath.Clean(c.Paths.InputDir) {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RequireToken reports a configuration error when no API token is available.
// Commands that contact the service call it; offline commands do not.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.MinerU.APIToken) != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = "~/.config/ocrbatch/config.toml"
	}
	return services.Wrap(services.ErrConfiguration, "config", "token",
		fmt.Sprintf("mineru.api_token is required. Set MINERU_API_TOKEN env var or edit %s (create with 'ocrbatch config init')", defaultPath), nil)
}

// PollInterval returns the delay between status queries.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// PollTimeout returns the overall deadline for a batch to become terminal.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Workflow.PollTimeout) * time.Second
}

// RequestTimeout returns the per-request HTTP timeout for API calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.MinerU.RequestTimeout) * time.Second
}

// LockPath returns the advisory lock file guarding the manifest.
func (c *Config) LockPath() string {
	return c.Paths.ManifestPath + ".lock"
}

// HistoryPath returns the run history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
