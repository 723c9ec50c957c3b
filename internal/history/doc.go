// Package history persists pipeline runs in SQLite.
//
// Each run gets a row with its status, batch identifier and counts, and each
// submitted file a row with the fingerprint that was uploaded and the outcome
// it reached. The history is informational and drives `ocrbatch resume`; it is
// never consulted for change detection, which relies on the manifest alone.
package history
