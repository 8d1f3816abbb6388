package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresIndex stores chunks in Postgres with pgvector embeddings. It is
// the durable implementation: index state survives process restarts.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

var _ Index = (*PostgresIndex)(nil)

func (s *PostgresIndex) UpsertDocument(ctx context.Context, doc DocumentRecord, chunks []Chunk) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO corpus_documents (path, sha256, format, byte_size, modified_at, indexed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (path) DO UPDATE
		SET sha256 = EXCLUDED.sha256,
		    format = EXCLUDED.format,
		    byte_size = EXCLUDED.byte_size,
		    modified_at = EXCLUDED.modified_at,
		    indexed_at = NOW()
	`, doc.Path, doc.SHA256, doc.Format, doc.ByteSize, doc.ModifiedAt); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	// Stale chunks beyond the new chunk count must not survive a
	// replacement; deterministic IDs make the rest plain upserts.
	if _, err = tx.Exec(ctx, `
		DELETE FROM corpus_chunks WHERE document_path = $1 AND chunk_index >= $2
	`, doc.Path, len(chunks)); err != nil {
		return fmt.Errorf("trim stale chunks: %w", err)
	}

	for _, chunk := range chunks {
		vec := pgvector.NewVector(chunk.Embedding)
		if _, err = tx.Exec(ctx, `
			INSERT INTO corpus_chunks (id, document_path, chunk_index, content, char_start, char_end, embedding, indexed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content,
			    char_start = EXCLUDED.char_start,
			    char_end = EXCLUDED.char_end,
			    embedding = EXCLUDED.embedding,
			    indexed_at = NOW()
		`, chunk.ID, chunk.DocumentPath, chunk.Index, chunk.Text, chunk.CharStart, chunk.CharEnd, vec); err != nil {
			return fmt.Errorf("upsert chunk %d: %w", chunk.Index, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresIndex) DeleteDocument(ctx context.Context, path string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM corpus_documents WHERE path = $1", path); err != nil {
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	return nil
}

func (s *PostgresIndex) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		k = 5
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT id, document_path, chunk_index, content, char_start, char_end,
		       (embedding <-> $1::vector) AS distance
		FROM corpus_chunks
		ORDER BY embedding <-> $1::vector, document_path, chunk_index
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		var distance float64
		if err := rows.Scan(&m.Chunk.ID, &m.Chunk.DocumentPath, &m.Chunk.Index,
			&m.Chunk.Text, &m.Chunk.CharStart, &m.Chunk.CharEnd, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		m.Score = 1 / (1 + distance)
		matches = append(matches, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return matches, nil
}

func (s *PostgresIndex) Documents(ctx context.Context) (map[string]DocumentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT path, sha256, format, byte_size, modified_at FROM corpus_documents
	`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]DocumentRecord)
	for rows.Next() {
		var doc DocumentRecord
		if err := rows.Scan(&doc.Path, &doc.SHA256, &doc.Format, &doc.ByteSize, &doc.ModifiedAt); err != nil {
			return nil, fmt.Errorf("scan document record: %w", err)
		}
		docs[doc.Path] = doc
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return docs, nil
}

func (s *PostgresIndex) ChunkCount(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM corpus_chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func (s *PostgresIndex) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE corpus_chunks, corpus_documents"); err != nil {
		return fmt.Errorf("truncate corpus tables: %w", err)
	}
	return nil
}
