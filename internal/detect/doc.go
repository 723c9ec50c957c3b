// Package detect finds the source documents that need OCR by comparing each
// file's SHA-256 fingerprint with the manifest.
package detect
