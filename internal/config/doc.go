// Package config loads, normalizes, and validates ocrbatch configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours environment fallbacks such as MINERU_API_TOKEN. The
// Config type centralizes every knob the CLI and pipeline need so the input,
// output, manifest, and history locations are resolved in one pass.
package config
