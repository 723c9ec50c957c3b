// Package materialize turns finished batch items into output directories.
//
// For every item that completed with a bundle, the Materializer downloads the
// archive next to the output tree, checks that it is a zip, extracts it into a
// private staging directory, and swaps the staging directory into place as
// <output>/<stem>. Only then is the item's fingerprint committed, so the
// manifest never claims output that is not on disk.
package materialize
