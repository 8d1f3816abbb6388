package ingestion

import (
	"strings"
	"testing"
)

func TestChunkerShortTextSingleChunk(t *testing.T) {
	chunker := NewChunker(800, 150, 100)
	chunks := chunker.Chunk("notes/short.txt", "A single short paragraph.")

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "A single short paragraph." {
		t.Fatalf("unexpected chunk text: %q", chunks[0].Text)
	}
	if chunks[0].Index != 0 || chunks[0].CharStart != 0 {
		t.Fatalf("unexpected chunk position: index=%d start=%d", chunks[0].Index, chunks[0].CharStart)
	}
}

func TestChunkerEmptyTextNoChunks(t *testing.T) {
	chunker := NewChunker(800, 150, 100)
	if chunks := chunker.Chunk("notes/empty.txt", ""); len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestChunkerOverlapIsExact(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon. ", 60)
	chunker := NewChunker(200, 40, 20)
	chunks := chunker.Chunk("notes/long.txt", text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		curr := []rune(chunks[i].Text)
		overlap := chunks[i-1].CharEnd - chunks[i].CharStart
		if overlap <= 0 {
			t.Fatalf("chunks %d and %d do not overlap", i-1, i)
		}
		tail := string(prev[len(prev)-overlap:])
		head := string(curr[:overlap])
		if tail != head {
			t.Fatalf("chunk %d tail %q != chunk %d head %q", i-1, tail, i, head)
		}
	}
}

func TestChunkerCoversWholeText(t *testing.T) {
	text := strings.Repeat("one two three four five six seven eight nine ten. ", 50)
	chunker := NewChunker(300, 50, 30)
	chunks := chunker.Chunk("notes/cover.txt", text)

	runes := []rune(text)
	if chunks[0].CharStart != 0 {
		t.Fatalf("first chunk starts at %d", chunks[0].CharStart)
	}
	if last := chunks[len(chunks)-1]; last.CharEnd != len(runes) {
		t.Fatalf("last chunk ends at %d, text has %d runes", last.CharEnd, len(runes))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].CharStart > chunks[i-1].CharEnd {
			t.Fatalf("gap between chunk %d and %d", i-1, i)
		}
	}
}

func TestChunkerPrefersSentenceBoundary(t *testing.T) {
	text := "A cat sat on the mat today. A dog ran in the park today. A bird flew over the hill."
	chunker := NewChunker(40, 10, 5)
	chunks := chunker.Chunk("notes/animals.txt", text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// The first cut should land after a sentence end, not mid-word.
	if !strings.HasSuffix(strings.TrimRight(chunks[0].Text, " "), ".") {
		t.Fatalf("first chunk does not end at a sentence boundary: %q", chunks[0].Text)
	}
}

func TestChunkerDeterministicIDs(t *testing.T) {
	text := strings.Repeat("stable content here. ", 40)
	chunker := NewChunker(150, 30, 20)

	first := chunker.Chunk("docs/report.pdf", text)
	second := chunker.Chunk("docs/report.pdf", text)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("chunk %d IDs differ: %s vs %s", i, first[i].ID, second[i].ID)
		}
		if first[i].Text != second[i].Text {
			t.Fatalf("chunk %d texts differ", i)
		}
	}

	other := chunker.Chunk("docs/other.pdf", text)
	if other[0].ID == first[0].ID {
		t.Fatal("different documents must not share chunk IDs")
	}
}

func TestChunkerTailRemainderStandsAlone(t *testing.T) {
	text := strings.Repeat("word ", 44) // 220 runes
	chunker := NewChunker(200, 20, 50)
	chunks := chunker.Chunk("notes/tail.txt", text)

	for i, chunk := range chunks {
		if got := chunk.CharEnd - chunk.CharStart; got > 200 {
			t.Fatalf("chunk %d has %d runes, above the configured size", i, got)
		}
	}
	last := chunks[len(chunks)-1]
	if last.CharEnd != len([]rune(text)) {
		t.Fatalf("text not fully covered, last end %d", last.CharEnd)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the trailing remainder as its own chunk, got %d chunks", len(chunks))
	}
}

func TestChunkerNeverExceedsConfiguredSize(t *testing.T) {
	// Boundary-free text forces hard cuts, the worst case for size.
	text := strings.Repeat("x", 890)
	chunker := NewChunker(800, 150, 100)
	chunks := chunker.Chunk("notes/dense.txt", text)

	for i, chunk := range chunks {
		if got := len([]rune(chunk.Text)); got > 800 {
			t.Fatalf("chunk %d has %d runes, above the configured size", i, got)
		}
	}
	if last := chunks[len(chunks)-1]; last.CharEnd != 890 {
		t.Fatalf("text not fully covered, last end %d", last.CharEnd)
	}
}
