package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"ocrbatch/internal/config"
	"ocrbatch/internal/history"
	"ocrbatch/internal/logging"
	"ocrbatch/internal/mineru"
	"ocrbatch/internal/pipeline"
	"ocrbatch/internal/services"
)

const logIDLayout = "20060102T150405.000Z"

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	jsonFlag     *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		jsonFlag:     jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
			if err := cfg.Validate(); err != nil {
				c.configErr = services.Wrap(services.ErrConfiguration, "cli", "log level", "", err)
				return
			}
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// newLogger builds the run logger and prunes expired run logs, keeping the
// one just opened.
func (c *commandContext) newLogger(cfg *config.Config) (*slog.Logger, error) {
	logID := time.Now().UTC().Format(logIDLayout)
	logger, err := logging.NewFromConfig(cfg, logID)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: "ocrbatch-*.log",
		Exclude: []string{logging.RunLogPath(cfg.Paths.LogDir, logID)},
	})
	return logger, nil
}

// runPipeline wires a pipeline for one online command, invokes op, and
// prints the resulting summary. The summary is printed for failed runs too.
func (c *commandContext) runPipeline(cmd *cobra.Command, skipPreflight bool, op func(context.Context, *pipeline.Pipeline) (pipeline.Summary, error)) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}
	logger, err := c.newLogger(cfg)
	if err != nil {
		return err
	}

	client, err := mineru.New(mineru.Config{
		BaseURL: cfg.MinerU.BaseURL,
		Token:   cfg.MinerU.APIToken,
		Timeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return err
	}

	opts := pipeline.Options{Config: cfg, Remote: client, Logger: logger, SkipPreflight: skipPreflight}
	store, err := history.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "run history unavailable", "history_unavailable",
			logging.String("path", cfg.HistoryPath()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.state_dir permissions"),
			logging.String(logging.FieldImpact, "this run is not recorded and cannot be resumed"),
		)
	} else {
		defer store.Close()
		opts.Recorder = store
	}

	p, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	summary, runErr := op(cmd.Context(), p)
	if summary.Status != history.StatusRunning {
		if perr := c.printSummary(cmd, summary); perr != nil && runErr == nil {
			return perr
		}
	}
	return runErr
}

func (c *commandContext) printSummary(cmd *cobra.Command, summary pipeline.Summary) error {
	if c.jsonOutput() {
		return writeJSON(cmd, summary)
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), renderSummary(summary))
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
