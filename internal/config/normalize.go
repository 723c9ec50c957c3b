package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMinerU()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.InputDir) == "" {
		c.Paths.InputDir = defaultInputDir
	}
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ManifestPath) == "" {
		c.Paths.ManifestPath = filepath.Join(c.Paths.InputDir, defaultManifestName)
	}
	if c.Paths.ManifestPath, err = expandPath(strings.TrimSpace(c.Paths.ManifestPath)); err != nil {
		return fmt.Errorf("paths.manifest_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeMinerU() {
	c.MinerU.APIToken = strings.TrimSpace(c.MinerU.APIToken)
	if c.MinerU.APIToken == "" {
		if value, ok := os.LookupEnv(tokenEnvVar); ok {
			c.MinerU.APIToken = strings.TrimSpace(value)
		}
	}
	c.MinerU.BaseURL = strings.TrimSpace(c.MinerU.BaseURL)
	if value, ok := os.LookupEnv(baseURLEnvVar); ok && strings.TrimSpace(value) != "" {
		c.MinerU.BaseURL = strings.TrimSpace(value)
	}
	if c.MinerU.BaseURL == "" {
		c.MinerU.BaseURL = defaultMinerUBaseURL
	}
	c.MinerU.BaseURL = strings.TrimRight(c.MinerU.BaseURL, "/")
	c.MinerU.ModelVersion = strings.TrimSpace(c.MinerU.ModelVersion)
	if c.MinerU.ModelVersion == "" {
		c.MinerU.ModelVersion = defaultMinerUModelVersion
	}
	c.MinerU.Language = strings.TrimSpace(c.MinerU.Language)
	if c.MinerU.RequestTimeout <= 0 {
		c.MinerU.RequestTimeout = defaultMinerURequestTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	ext := strings.ToLower(strings.TrimSpace(c.Workflow.InputExtension))
	if ext == "" {
		ext = defaultInputExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Workflow.InputExtension = ext
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
