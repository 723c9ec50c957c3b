package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ocrbatch/internal/config"
	"ocrbatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	fake       *testsupport.FakeMinerU
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("MINERU_API_TOKEN", "")
	t.Setenv("MINERU_BASE_URL", "")

	fake := testsupport.NewFakeMinerU(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(fake.BaseURL()))
	if err := os.MkdirAll(cfg.Paths.InputDir, 0o755); err != nil {
		t.Fatalf("mkdir input: %v", err)
	}

	configPath := filepath.Join(testsupport.BaseDir(cfg), "ocrbatch.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, fake: fake, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.configPath)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
input_dir = %q
output_dir = %q
manifest_path = %q
log_dir = %q
state_dir = %q

[mineru]
base_url = %q
api_token = %q

[workflow]
poll_interval = 1
poll_timeout = 30
max_attempts = 1
min_free_gib = 0

[logging]
level = "error"
retention_days = 0
`,
		cfg.Paths.InputDir,
		cfg.Paths.OutputDir,
		cfg.Paths.ManifestPath,
		cfg.Paths.LogDir,
		cfg.Paths.StateDir,
		cfg.MinerU.BaseURL,
		cfg.MinerU.APIToken,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", needle, haystack)
	}
}
