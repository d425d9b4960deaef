// Package retrieval implements C4: hybrid lexical+vector search with RRF
// fusion, MMR diversity reranking, and keyset/hybrid-index pagination.
// The SQLite vector backend rides on asg017/sqlite-vec-go-bindings; the
// Postgres backend is raw SQL against the pgvector extension. Both live
// collocated with the relational store rather than in a standalone vector
// service, behind the same VectorIndex seam.
package retrieval

import (
	"time"

	"github.com/google/uuid"
)

// FilterValue is either a scalar, a list ("any of"), or a range expression
// string recognized by ParseRange.
type FilterValue struct {
	Scalar string
	List   []string
	IsList bool
}

// Candidate is one row surfaced by a primitive search, before fusion.
type Candidate struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Text       string
	Rank       int     // 1-based rank within its source list
	Score      float64 // text-rank (lexical) or negative distance (vector), for cursor comparisons
}

// FusionConfig tunes RRF. ListWeight lets a deployment weight the lexical
// and vector lists differently; plain RRF is the unweighted sum, so this
// defaults to {1,1}.
type FusionConfig struct {
	K          int
	ListWeight [2]float64 // [lexical, vector]
}

func DefaultFusionConfig(k int) FusionConfig {
	return FusionConfig{K: k, ListWeight: [2]float64{1, 1}}
}

// Fused is one candidate after RRF, before MMR.
type Fused struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Text       string
	Score      float64
}

// Result is one row returned to the caller.
type Result struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Text       string    `json:"text"`
	Score      float64   `json:"score"`
}

// PaginationMode selects which cursor shape a request uses.
type PaginationMode string

const (
	PaginationNative PaginationMode = "native"
	PaginationHybrid PaginationMode = "hybrid"
)

// Cursor is the decoded form of the opaque pagination token. QueryHash binds
// a cursor to the exact (query, filters, workspace, hybrid) it was issued
// for; cursors presented against a different query are rejected with 400.
type Cursor struct {
	Mode      PaginationMode
	QueryHash string
	LastScore float64
	LastID    uuid.UUID
	Index     int // hybrid mode only
}

// Request is the input to Search, shared by /tools/retrieve_context and
// /search.
type Request struct {
	WorkspaceID uuid.UUID
	Query       string
	Filters     map[string]FilterValue
	TopK        int
	Hybrid      bool
	Cursor      *Cursor
	Mode        PaginationMode
}

// Response mirrors the response shape.
type Response struct {
	Results         []Result
	Query           string
	TotalResults    int
	ProcessingTime  time.Duration
	SearchType      string // "hybrid" | "lexical" | "none" (empty query)
	NextCursor      *Cursor
	PaginationMode  PaginationMode
	Degraded        bool // true when hybrid degraded to lexical-only
}

const (
	MaxQueryLen     = 1024
	TruncateChars   = 1200
	ChunkTokenWords = 40 // MMR Jaccard window
)
