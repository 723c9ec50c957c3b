// Package main hosts the ocrbatch CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once per invocation, builds
// the MinerU client, run history store, and logger, and hands them to the
// pipeline package. Offline commands (plan, manifest, chunk, config) never
// need an API token.
package main
