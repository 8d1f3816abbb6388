package ingestion

import (
	"strings"
	"unicode/utf8"

	"github.com/neuralstark/neuralstark/vectorstore"
)

// Chunker splits normalised document text into overlapping windows.
// Offsets and sizes are counted in runes so multi-byte text never gets
// cut mid-character.
type Chunker struct {
	// Size is the target chunk length.
	Size int
	// Overlap is how many trailing runes of a chunk are repeated at the
	// start of the next one.
	Overlap int
	// MinSize is the smallest mid-text fragment worth emitting on its
	// own. A shorter trailing remainder still becomes the final chunk
	// so no text is lost.
	MinSize int
}

// NewChunker returns a Chunker with the given window parameters.
func NewChunker(size, overlap, minSize int) *Chunker {
	return &Chunker{Size: size, Overlap: overlap, MinSize: minSize}
}

// Boundary classes tried in order when deciding where to cut a window.
var boundarySets = [][]string{
	{"\n\n"},
	{". ", "! ", "? ", ".\n", "!\n", "?\n"},
	{"\n"},
	{" "},
}

// Chunk splits text into chunks carrying deterministic IDs derived from
// the document path and chunk index. Re-chunking unchanged text always
// yields identical chunks.
func (c *Chunker) Chunk(documentPath, text string) []vectorstore.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	if len(runes) <= c.Size {
		return []vectorstore.Chunk{c.makeChunk(documentPath, 0, 0, len(runes), runes)}
	}

	chunks := make([]vectorstore.Chunk, 0, len(runes)/c.Size+1)
	start := 0
	for start < len(runes) {
		end := start + c.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.findBoundary(runes, start, end)
		}

		// Fragments below MinSize are skipped, except a trailing
		// remainder, which is always emitted. No chunk ever grows past
		// Size runes.
		if end-start >= c.MinSize || end >= len(runes) {
			chunks = append(chunks, c.makeChunk(documentPath, len(chunks), start, end, runes))
		}
		if end >= len(runes) {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// findBoundary looks for the latest natural break in the back half of
// the window, preferring paragraph over sentence over line over word
// breaks. With no break found, the hard cut at end stands.
func (c *Chunker) findBoundary(runes []rune, start, end int) int {
	searchStart := start + c.Size/2
	if searchStart >= end {
		return end
	}
	window := string(runes[searchStart:end])

	for _, delims := range boundarySets {
		best := -1
		for _, delim := range delims {
			idx := strings.LastIndex(window, delim)
			if idx < 0 {
				continue
			}
			cut := utf8.RuneCountInString(window[:idx+len(delim)])
			if cut > best {
				best = cut
			}
		}
		if best > 0 {
			return searchStart + best
		}
	}
	return end
}

func (c *Chunker) makeChunk(documentPath string, index, start, end int, runes []rune) vectorstore.Chunk {
	return vectorstore.Chunk{
		ID:           vectorstore.ChunkID(documentPath, index),
		DocumentPath: documentPath,
		Index:        index,
		Text:         string(runes[start:end]),
		CharStart:    start,
		CharEnd:      end,
	}
}
