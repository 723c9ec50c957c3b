package chunk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"ocrbatch/internal/fileutil"
)

// MaxLevel is the deepest heading level that starts a new chunk.
const MaxLevel = 3

// Chunk is one section of a document.
type Chunk struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

type boundary struct {
	start int
	end   int
	level int
	title string
}

// Split parses source and returns its chunks in document order. Sections
// without any text, such as a heading directly followed by a subheading, are
// omitted.
func Split(source []byte) []Chunk {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	bounds := headings(doc, source)

	var chunks []Chunk
	titles := map[int]string{}
	emit := func(from, to int) {
		content := strings.TrimSpace(string(source[from:to]))
		if content == "" {
			return
		}
		meta := make(map[string]string, len(titles))
		for level, title := range titles {
			meta[fmt.Sprintf("H%d", level)] = title
		}
		chunks = append(chunks, Chunk{Content: content, Metadata: meta})
	}

	pos := 0
	for _, b := range bounds {
		emit(pos, b.start)
		for level := range titles {
			if level >= b.level {
				delete(titles, level)
			}
		}
		titles[b.level] = b.title
		pos = b.end
	}
	emit(pos, len(source))
	return chunks
}

// headings returns the top-level ATX headings that start a chunk.
func headings(doc ast.Node, source []byte) []boundary {
	var out []boundary
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		h, ok := node.(*ast.Heading)
		if !ok || h.Level > MaxLevel || h.Lines().Len() == 0 {
			continue
		}
		first := h.Lines().At(0)
		lineStart := bytes.LastIndexByte(source[:first.Start], '\n') + 1
		if !bytes.HasPrefix(bytes.TrimLeft(source[lineStart:first.Start], " "), []byte("#")) {
			continue
		}
		lineEnd := len(source)
		if idx := bytes.IndexByte(source[first.Start:], '\n'); idx >= 0 {
			lineEnd = first.Start + idx + 1
		}
		var title strings.Builder
		for i := 0; i < h.Lines().Len(); i++ {
			seg := h.Lines().At(i)
			title.Write(seg.Value(source))
		}
		out = append(out, boundary{
			start: lineStart,
			end:   lineEnd,
			level: h.Level,
			title: strings.TrimSpace(title.String()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// SplitFile reads the Markdown file at path and splits it.
func SplitFile(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	return Split(data), nil
}

// OutputPath resolves where chunks for markdownPath are written. An empty
// output selects the Markdown file's directory; a directory or a path
// without an extension receives "<stem>_chunks.json".
func OutputPath(markdownPath, output string) string {
	stem := strings.TrimSuffix(filepath.Base(markdownPath), filepath.Ext(markdownPath))
	name := stem + "_chunks.json"
	if strings.TrimSpace(output) == "" {
		return filepath.Join(filepath.Dir(markdownPath), name)
	}
	if info, err := os.Stat(output); (err == nil && info.IsDir()) || filepath.Ext(output) == "" {
		return filepath.Join(output, name)
	}
	return output
}

// Write stores chunks as an indented JSON array at path, creating parent
// directories.
func Write(path string, chunks []Chunk) error {
	if chunks == nil {
		chunks = []Chunk{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(chunks); err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chunk directory: %w", err)
	}
	return fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
