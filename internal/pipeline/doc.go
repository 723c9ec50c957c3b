// Package pipeline sequences one incremental OCR run:
// detect → submit → wait → materialize → commit.
//
// A run holds an advisory lock on the manifest for its whole duration, loads
// the manifest once, and writes it back once at the end with every item whose
// output was fully materialized. Batch-fatal errors (no upload URLs, every
// upload failed, the poll deadline, an API error while polling) abort the run
// with the manifest untouched. Per-item failures are logged, recorded in the
// run history, and leave the item in next run's work list.
package pipeline
