// Package chunk splits materialized Markdown into header-delimited chunks.
//
// A chunk is the text under one ATX heading of level one to three, tagged
// with the enclosing H1/H2/H3 titles. Headings inside fenced code, block
// quotes or lists are content, not boundaries.
package chunk
