// Package vectorstore persists embedded chunks and serves approximate
// nearest-neighbor queries over them. Two implementations share the Index
// contract: a durable Postgres/pgvector store and an in-memory store for
// tests and single-shot runs.
package vectorstore

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Chunk is the unit of embedding and retrieval: a bounded slice of a
// document's normalized text with a deterministic identity.
type Chunk struct {
	ID           uuid.UUID
	DocumentPath string
	Index        int
	Text         string
	CharStart    int
	CharEnd      int
	Embedding    []float32
}

// DocumentRecord is the per-document metadata kept alongside chunks. The
// SHA256 content hash drives incremental reindexing: an unchanged hash
// means no re-embedding work.
type DocumentRecord struct {
	Path       string
	SHA256     string
	Format     string
	ByteSize   int64
	ModifiedAt time.Time
}

// Match pairs a retrieved chunk payload with its similarity score.
type Match struct {
	Chunk Chunk
	Score float64
}

// Index is the vector index contract. Upserts are idempotent per chunk
// ID; queries return matches in non-increasing score order with
// deterministic tie-breaking on (document path, chunk index).
type Index interface {
	// UpsertDocument replaces the stored record and chunks for one
	// document atomically at chunk granularity: a concurrent query may
	// see a mix of old and new chunks but never a torn one.
	UpsertDocument(ctx context.Context, doc DocumentRecord, chunks []Chunk) error

	// DeleteDocument removes the document record and cascades chunk
	// deletion. Deleting an absent document is not an error.
	DeleteDocument(ctx context.Context, path string) error

	Query(ctx context.Context, vector []float32, k int) ([]Match, error)

	// Documents returns the stored records keyed by path, the source of
	// truth for incremental diffs and the document list projection.
	Documents(ctx context.Context) (map[string]DocumentRecord, error)

	// ChunkCount reports the number of chunks actually retrievable.
	ChunkCount(ctx context.Context) (int, error)

	Clear(ctx context.Context) error
}

// ChunkID derives the deterministic chunk identity from document path and
// sequence index, so re-chunking unchanged text never creates duplicates.
func ChunkID(documentPath string, index int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("neuralstark:"+documentPath+"#"+strconv.Itoa(index)))
}
