// Package services defines shared utilities consumed by the pipeline stages
// and the MinerU integration.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, batch IDs, and stage names for
//     logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (transient, per-item, per-batch, timeout, lock contention)
//     with errors.Is instead of string matching.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
