// Package mineru is a client for the MinerU batch document extraction API.
//
// A batch is processed in three calls: RequestUploadURLs registers the files
// and returns signed upload URLs, Upload pushes each file's bytes, and
// BatchResults reports per-file state until the bundles can be fetched with
// Download. Non-success responses surface as *APIError; IsRetriable and Retry
// classify and retry transient failures with exponential backoff.
package mineru
