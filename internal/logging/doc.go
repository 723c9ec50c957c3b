// Package logging assembles structured slog loggers and formatting helpers used
// across ocrbatch.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so stage code can tag log lines with run
// IDs, batch IDs, and stages. Each pipeline run additionally tees a JSON copy
// of its records into a per-run file under the configured log directory.
package logging
