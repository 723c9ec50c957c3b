// Package manifest persists the mapping from source document name to the
// SHA-256 fingerprint of the content whose OCR output is currently on disk.
//
// An entry is recorded only after a document's bundle has been extracted into
// the output tree, so the manifest never claims work that is not there. Names
// are normalized to Unicode NFC, which keeps macOS (NFD) and Linux spellings
// of the same file on one entry. Writes go through a temp file and rename.
package manifest
