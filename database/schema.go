package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureCorpusSchema creates the document and chunk tables used by the
// Postgres vector index. The embedding column dimension must match the
// configured embedding model; changing models requires a full reindex.
func EnsureCorpusSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS corpus_documents (
			path TEXT PRIMARY KEY,
			sha256 TEXT NOT NULL,
			format TEXT NOT NULL,
			byte_size BIGINT NOT NULL,
			modified_at TIMESTAMPTZ NOT NULL,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS corpus_chunks (
			id UUID PRIMARY KEY,
			document_path TEXT NOT NULL REFERENCES corpus_documents(path) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			char_start INT NOT NULL,
			char_end INT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(document_path, chunk_index)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_corpus_chunks_document ON corpus_chunks(document_path)",
		"CREATE INDEX IF NOT EXISTS idx_corpus_chunks_embedding ON corpus_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
