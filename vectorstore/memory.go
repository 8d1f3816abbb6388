package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a mutex-guarded brute-force cosine store. It backs tests
// and the `memory` store type; it does not survive restarts.
type MemoryIndex struct {
	mu     sync.RWMutex
	docs   map[string]DocumentRecord
	chunks map[string][]Chunk // document path -> chunks in index order
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs:   make(map[string]DocumentRecord),
		chunks: make(map[string][]Chunk),
	}
}

var _ Index = (*MemoryIndex)(nil)

func (s *MemoryIndex) UpsertDocument(_ context.Context, doc DocumentRecord, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.Path] = doc
	stored := make([]Chunk, len(chunks))
	for i, chunk := range chunks {
		stored[i] = chunk
		stored[i].Embedding = append([]float32(nil), chunk.Embedding...)
	}
	s.chunks[doc.Path] = stored
	return nil
}

func (s *MemoryIndex) DeleteDocument(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
	delete(s.chunks, path)
	return nil
}

func (s *MemoryIndex) Query(_ context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		k = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.chunks))
	for path := range s.chunks {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	matches := make([]Match, 0)
	for _, path := range paths {
		for _, chunk := range s.chunks[path] {
			score := CosineSimilarity(vector, chunk.Embedding)
			payload := chunk
			payload.Embedding = nil
			matches = append(matches, Match{Chunk: payload, Score: score})
		}
	}

	// Stable sort over path/index order gives deterministic ties.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryIndex) Documents(_ context.Context) (map[string]DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make(map[string]DocumentRecord, len(s.docs))
	for path, doc := range s.docs {
		docs[path] = doc
	}
	return docs, nil
}

func (s *MemoryIndex) ChunkCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, chunks := range s.chunks {
		count += len(chunks)
	}
	return count, nil
}

func (s *MemoryIndex) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]DocumentRecord)
	s.chunks = make(map[string][]Chunk)
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, zero
// when either vector is empty or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
