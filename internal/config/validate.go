package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMinerU(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.InputDir == "" {
		return errors.New("paths.input_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if filepath.Clean(c.Paths.InputDir) == filepath.Clean(c.Paths.OutputDir) {
		return errors.New("paths.output_dir must differ from paths.input_dir")
	}
	if c.Paths.ManifestPath == "" {
		return errors.New("paths.manifest_path must be set")
	}
	return nil
}

func (c *Config) validateMinerU() error {
	parsed, err := url.Parse(c.MinerU.BaseURL)
	if err != nil {
		return fmt.Errorf("mineru.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("mineru.base_url must use http or https, got %q", c.MinerU.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("mineru.base_url must include a host, got %q", c.MinerU.BaseURL)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	if c.Workflow.PollTimeout <= 0 {
		return errors.New("workflow.poll_timeout must be positive")
	}
	if c.Workflow.PollInterval >= c.Workflow.PollTimeout {
		return errors.New("workflow.poll_interval must be less than workflow.poll_timeout")
	}
	if c.Workflow.Concurrency < 1 {
		return errors.New("workflow.concurrency must be at least 1")
	}
	if c.Workflow.MaxAttempts < 1 {
		return errors.New("workflow.max_attempts must be at least 1")
	}
	if c.Workflow.MinFreeGiB < 0 {
		return errors.New("workflow.min_free_gib must be zero or positive")
	}
	if strings.ContainsAny(c.Workflow.InputExtension, `/\`) {
		return fmt.Errorf("workflow.input_extension %q must not contain path separators", c.Workflow.InputExtension)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
