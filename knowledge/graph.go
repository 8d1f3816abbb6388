// Package knowledge mirrors the indexed corpus into a Neo4j graph of
// Document, Chunk and Folder nodes. The graph is a secondary view used
// for source enrichment; the vector store stays authoritative.
package knowledge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/neuralstark/neuralstark/vectorstore"
)

// DocumentInsights summarises a document's graph neighbourhood.
type DocumentInsights struct {
	Path             string   `json:"path"`
	ChunkCount       int      `json:"chunk_count"`
	Folders          []string `json:"folders"`
	RelatedDocuments []string `json:"related_documents"`
}

// Graph wraps a Neo4j driver with corpus-shaped write and read paths.
type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// SyncDocument upserts the document node keyed by path, its folder
// relation and its chunk nodes. Existing chunk nodes are replaced so
// the graph never keeps chunks from an older revision.
func (g *Graph) SyncDocument(ctx context.Context, doc vectorstore.DocumentRecord, chunks []vectorstore.Chunk) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	folder := filepath.ToSlash(filepath.Dir(doc.Path))
	if folder == "." {
		folder = ""
	}

	params := map[string]any{
		"path":   doc.Path,
		"sha":    doc.SHA256,
		"format": doc.Format,
		"folder": folder,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {path: $path})
			SET d.sha256 = $sha,
			    d.format = $format,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if folder != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {path: $path})-[r:IN_FOLDER]->(:Folder)
				DELETE r
			`, params); err != nil {
				return nil, fmt.Errorf("remove stale folder relation: %w", err)
			}
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {path: $path})
				MERGE (f:Folder {name: $folder})
				MERGE (d)-[:IN_FOLDER]->(f)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert folder relation: %w", err)
			}
		} else {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {path: $path})-[r:IN_FOLDER]->(f:Folder)
				DELETE r
				WITH f
				WHERE NOT (f)<-[:IN_FOLDER]-(:Document)
				DETACH DELETE f
			`, params); err != nil {
				return nil, fmt.Errorf("cleanup folder relation: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {path: $path})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, params); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		for _, chunk := range chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {path: $path})
				MERGE (c:Chunk {id: $chunk_id})
				SET c.index = $chunk_index,
				    c.text = $chunk_text
				MERGE (d)-[:HAS_CHUNK {order: $chunk_index}]->(c)
			`, map[string]any{
				"path":        doc.Path,
				"chunk_id":    chunk.ID.String(),
				"chunk_index": chunk.Index,
				"chunk_text":  chunk.Text,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}

		return nil, nil
	})
	return err
}

// RemoveDocument deletes a document node, its chunks, and any folder
// node left without documents.
func (g *Graph) RemoveDocument(ctx context.Context, path string) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (d:Document {path: $path})
			OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE d, c
		`, map[string]any{"path": path}); err != nil {
			return nil, fmt.Errorf("delete document: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (f:Folder)
			WHERE NOT (f)<-[:IN_FOLDER]-(:Document)
			DETACH DELETE f
		`, nil); err != nil {
			return nil, fmt.Errorf("cleanup folders: %w", err)
		}
		return nil, nil
	})
	return err
}

// Clear removes every corpus node from the graph.
func (g *Graph) Clear(ctx context.Context) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:Document OR n:Chunk OR n:Folder
			DETACH DELETE n
		`, nil); err != nil {
			return nil, fmt.Errorf("clear graph: %w", err)
		}
		return nil, nil
	})
	return err
}

// Insights reads a document's chunk count, folders and the other
// documents sharing those folders.
func (g *Graph) Insights(ctx context.Context, path string) (DocumentInsights, error) {
	insights := DocumentInsights{Path: path}
	if g.driver == nil {
		return insights, fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		record, err := tx.Run(ctx, `
			MATCH (d:Document {path: $path})
			OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
			OPTIONAL MATCH (d)-[:IN_FOLDER]->(f:Folder)
			OPTIONAL MATCH (f)<-[:IN_FOLDER]-(related:Document)
			WHERE related.path <> d.path
			RETURN count(DISTINCT c) AS chunk_count,
			       collect(DISTINCT f.name) AS folders,
			       collect(DISTINCT related.path) AS related
		`, map[string]any{"path": path})
		if err != nil {
			return nil, err
		}
		return record.Single(ctx)
	})
	if err != nil {
		return insights, fmt.Errorf("read document insights: %w", err)
	}

	record, ok := result.(*neo4j.Record)
	if !ok {
		return insights, fmt.Errorf("unexpected insights result type %T", result)
	}

	if count, ok := record.Get("chunk_count"); ok {
		if n, ok := count.(int64); ok {
			insights.ChunkCount = int(n)
		}
	}
	insights.Folders = stringList(record, "folders")
	insights.RelatedDocuments = stringList(record, "related")
	return insights, nil
}

func stringList(record *neo4j.Record, key string) []string {
	value, ok := record.Get(key)
	if !ok {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
