package index

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neuralstark/neuralstark/embeddings"
	"github.com/neuralstark/neuralstark/ingestion"
	"github.com/neuralstark/neuralstark/vectorstore"
)

type countingEmbedder struct {
	calls atomic.Int32
	texts atomic.Int32

	// blockOn is the 1-based call gated by entered/release; zero gates
	// the first call.
	blockOn int32

	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	call := e.calls.Add(1)
	e.texts.Add(int32(len(texts)))

	gate := e.blockOn
	if gate == 0 {
		gate = 1
	}
	if call == gate {
		e.mu.Lock()
		entered, release := e.entered, e.release
		e.mu.Unlock()
		if entered != nil {
			close(entered)
		}
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1, 0}
	}
	return vectors, nil
}

func (e *countingEmbedder) Dimension() int { return 3 }

var _ embeddings.Embedder = (*countingEmbedder)(nil)

func newTestOrchestrator(t *testing.T, dir string, store vectorstore.Index, embedder embeddings.Embedder) *Orchestrator {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	return NewOrchestrator(Options{
		CorpusDir: dir,
		Store:     store,
		Extractor: ingestion.NewService(nil, logger),
		Chunker:   ingestion.NewChunker(200, 40, 20),
		Embedder:  embedder,
		Workers:   2,
		Logger:    logger,
	})
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestReindexIndexesCorpus(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Cats are small. They purr a lot and sleep all day.")
	writeFile(t, dir, "sub/b.txt", "Dogs are loyal. They bark and fetch.")
	writeFile(t, dir, "ignored.bin", "not a document")

	store := vectorstore.NewMemoryIndex()
	embedder := &countingEmbedder{}
	orch := newTestOrchestrator(t, dir, store, embedder)

	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	docs, err := store.Documents(ctx)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 indexed documents, got %d", len(docs))
	}
	if _, ok := docs[filepath.Join("sub", "b.txt")]; !ok {
		t.Fatal("nested document not indexed")
	}

	snapshot := orch.Snapshot()
	if snapshot.TotalDocuments != 2 || snapshot.IndexedChunks == 0 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.InProgress {
		t.Fatal("snapshot should not report in progress after the pass")
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Stable content that never changes between passes.")

	store := vectorstore.NewMemoryIndex()
	embedder := &countingEmbedder{}
	orch := newTestOrchestrator(t, dir, store, embedder)

	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := embedder.calls.Load()
	if first == 0 {
		t.Fatal("first pass should embed")
	}

	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if embedder.calls.Load() != first {
		t.Fatal("unchanged corpus must not be re-embedded")
	}
}

func TestReindexPicksUpModification(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Original content.")

	store := vectorstore.NewMemoryIndex()
	embedder := &countingEmbedder{}
	orch := newTestOrchestrator(t, dir, store, embedder)

	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := embedder.calls.Load()

	writeFile(t, dir, "a.txt", "Rewritten content with different bytes.")
	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if embedder.calls.Load() == first {
		t.Fatal("modified document should be re-embedded")
	}

	docs, _ := store.Documents(ctx)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
}

func TestReindexRemovesDeletedDocuments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "First document content.")
	writeFile(t, dir, "b.txt", "Second document content.")

	store := vectorstore.NewMemoryIndex()
	orch := newTestOrchestrator(t, dir, store, &countingEmbedder{})

	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	docs, _ := store.Documents(ctx)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document after deletion, got %d", len(docs))
	}
	if _, ok := docs["a.txt"]; !ok {
		t.Fatal("surviving document missing")
	}
}

func TestReindexSkipsBrokenDocuments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "Perfectly fine text content.")
	writeFile(t, dir, "broken.txt", string([]byte{0xff, 0xfe, 0x01}))

	store := vectorstore.NewMemoryIndex()
	orch := newTestOrchestrator(t, dir, store, &countingEmbedder{})

	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	docs, _ := store.Documents(ctx)
	if len(docs) != 1 {
		t.Fatalf("expected only the good document, got %d", len(docs))
	}
	if _, ok := docs["good.txt"]; !ok {
		t.Fatal("good document should be indexed despite the broken one")
	}
}

func TestReindexFullRebuild(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Some content to index.")

	store := vectorstore.NewMemoryIndex()
	// Seed a record that no longer corresponds to any file.
	_ = store.UpsertDocument(ctx, vectorstore.DocumentRecord{Path: "ghost.txt", SHA256: "x"}, nil)

	orch := newTestOrchestrator(t, dir, store, &countingEmbedder{})
	if err := orch.Reindex(ctx, ModeFull); err != nil {
		t.Fatalf("full reindex: %v", err)
	}

	docs, _ := store.Documents(ctx)
	if _, ok := docs["ghost.txt"]; ok {
		t.Fatal("full rebuild should have dropped the stale record")
	}
	if _, ok := docs["a.txt"]; !ok {
		t.Fatal("corpus file missing after full rebuild")
	}
}

func TestSnapshotReflectsLiveProgress(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "First document, indexed before the pass stalls.")
	writeFile(t, dir, "b.txt", "Second document, held at the embedder.")

	embedder := &countingEmbedder{
		blockOn: 2,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := vectorstore.NewMemoryIndex()
	logger := log.New(io.Discard, "", 0)
	// One worker so documents complete in sorted order.
	orch := NewOrchestrator(Options{
		CorpusDir: dir,
		Store:     store,
		Extractor: ingestion.NewService(nil, logger),
		Chunker:   ingestion.NewChunker(200, 40, 20),
		Embedder:  embedder,
		Workers:   1,
		Logger:    logger,
	})

	done := make(chan error, 1)
	go func() { done <- orch.Reindex(ctx, ModeIncremental) }()

	select {
	case <-embedder.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never reached the second document")
	}

	snapshot := orch.Snapshot()
	if !snapshot.InProgress {
		t.Fatal("snapshot should report in progress mid-pass")
	}
	if snapshot.TotalDocuments != 1 || snapshot.IndexedChunks == 0 {
		t.Fatalf("mid-pass snapshot should show the first document: %+v", snapshot)
	}

	close(embedder.release)
	if err := <-done; err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if snapshot := orch.Snapshot(); snapshot.TotalDocuments != 2 {
		t.Fatalf("final snapshot: %+v", snapshot)
	}
}

func TestReindexKeepsUnreadableFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Readable content that stays readable.")
	writeFile(t, dir, "b.txt", "Content that becomes unreadable later.")

	store := vectorstore.NewMemoryIndex()
	orch := newTestOrchestrator(t, dir, store, &countingEmbedder{})

	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// The path still exists but reading it fails.
	if err := os.Remove(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := os.Symlink("no-such-target", filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if err := orch.Reindex(ctx, ModeIncremental); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	docs, _ := store.Documents(ctx)
	if _, ok := docs["b.txt"]; !ok {
		t.Fatal("a read failure must not drop the document's indexed chunks")
	}
	if len(docs) != 2 {
		t.Fatalf("expected both documents kept, got %d", len(docs))
	}
}

func TestReindexSingleFlight(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Content that takes a while to embed.")

	embedder := &countingEmbedder{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	orch := newTestOrchestrator(t, dir, vectorstore.NewMemoryIndex(), embedder)

	done := make(chan error, 1)
	go func() { done <- orch.Reindex(ctx, ModeIncremental) }()

	select {
	case <-embedder.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never reached the embedder")
	}

	if err := orch.Reindex(ctx, ModeIncremental); err != ErrIndexingInProgress {
		t.Fatalf("expected ErrIndexingInProgress, got %v", err)
	}

	close(embedder.release)
	if err := <-done; err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
}

func TestTriggerCoalescesPendingRuns(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Content for the coalescing test.")

	embedder := &countingEmbedder{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := vectorstore.NewMemoryIndex()
	orch := newTestOrchestrator(t, dir, store, embedder)

	orch.Trigger(ctx, ModeIncremental)
	select {
	case <-embedder.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger never started a pass")
	}

	// Pile on triggers while the first pass is blocked; they must fold
	// into a single follow-up pass.
	orch.Trigger(ctx, ModeIncremental)
	orch.Trigger(ctx, ModeIncremental)
	orch.Trigger(ctx, ModeIncremental)
	close(embedder.release)

	deadline := time.After(5 * time.Second)
	for orch.busy.Load() != 0 {
		select {
		case <-deadline:
			t.Fatal("passes never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// One embedding pass plus at most one coalesced follow-up, which
	// embeds nothing because the corpus is unchanged.
	if calls := embedder.calls.Load(); calls != 1 {
		t.Fatalf("expected exactly one embedding call, got %d", calls)
	}
}
