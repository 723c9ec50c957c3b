// Package preflight provides readiness checks for the filesystem paths and
// the remote service a pipeline run depends on.
//
// These checks run in two contexts:
//   - The pipeline checks the output directory and its free space before
//     scanning so a run never submits a batch it cannot materialize.
//   - The CLI "ocrbatch check" command runs RunAll: the local checks, a remote
//     reachability probe and an advisory content check of the input files.
package preflight
