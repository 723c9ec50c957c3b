// Package submit registers a batch with the extraction service and uploads
// the changed documents to the signed URLs it returns, using a bounded
// worker pool with per-upload retries.
package submit
