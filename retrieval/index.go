package retrieval

import (
	"context"

	"github.com/google/uuid"
)

// LexicalIndex runs the full-text primitive search.
type LexicalIndex interface {
	Search(ctx context.Context, workspaceID uuid.UUID, query string, limit int) ([]Candidate, error)
}

// VectorIndex runs the dense-vector primitive search. Two implementations
// exist — Postgres (raw SQL against pgvector's `<=>` operator) and SQLite
// (asg017/sqlite-vec-go-bindings' `vec0` virtual table) — both collocated
// with the relational store, so callers never branch on
// driver outside the storage layer.
type VectorIndex interface {
	Search(ctx context.Context, workspaceID uuid.UUID, queryVector []float32, limit int) ([]Candidate, error)
	// Available reports whether the backend answered its last health probe;
	// false triggers the lexical-only degrade path
	Available(ctx context.Context) bool
}

// MetaLookup resolves a chunk's metadata map for filter evaluation, kept
// separate from the two search primitives since both need it identically.
type MetaLookup interface {
	Meta(ctx context.Context, workspaceID uuid.UUID, chunkIDs []uuid.UUID) (map[uuid.UUID]map[string]string, error)
}

// VectorWriter is the write side of VectorIndex, used by the embedding step
// of the ingestion pipeline. Both backends implement it with a delete+insert
// "upsert" since vec0 has no UPDATE and pgvector re-embeds are rare enough
// that ON CONFLICT isn't worth the extra index.
type VectorWriter interface {
	Upsert(ctx context.Context, workspaceID, documentID, chunkID uuid.UUID, vector []float32) error
}
