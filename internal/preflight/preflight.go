package preflight

import (
	"context"

	"ocrbatch/internal/config"
)

// Result reports the outcome of a single preflight check. Advisory results
// are informational and never fail a run.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
	Advisory bool   `json:"advisory,omitempty"`
}

// RunLocal executes the checks that need no network access.
func RunLocal(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckReadableDirectory("Input directory", cfg.Paths.InputDir),
		CheckWritableDirectory("Output directory", cfg.Paths.OutputDir),
		CheckFreeSpace("Output free space", cfg.Paths.OutputDir, cfg.Workflow.MinFreeGiB),
		CheckToken(cfg.MinerU.APIToken),
	}
}

// RunAll executes the local checks, the MinerU reachability probe and the
// advisory input content check.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := RunLocal(cfg)
	if cfg.MinerU.APIToken != "" {
		results = append(results, CheckMinerU(ctx, cfg.MinerU.BaseURL, cfg.MinerU.APIToken))
	}
	results = append(results, CheckInputContent(cfg.Paths.InputDir, cfg.Workflow.InputExtension))
	return results
}

// Failed returns the non-advisory results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Advisory {
			out = append(out, r)
		}
	}
	return out
}
