package retrieval

import (
	"context"

	"github.com/google/uuid"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/embedding"
)

// EmbeddingCache is the embcache namespace seam; satisfied by
// ephemeral.EmbeddingCache.
type EmbeddingCache interface {
	Get(ctx context.Context, workspaceID, queryHash string) ([]float32, bool, error)
	Put(ctx context.Context, workspaceID, queryHash string, vector []float32) error
}

// CacheCounters reports cache outcomes to observability without the engine
// depending on the metrics registry directly.
type CacheCounters interface {
	Hit(cache string)
	Miss(cache string)
}

// Engine runs the full C4 pipeline: validate → two primitive searches →
// filter → fuse → diversify → paginate → truncate.
type Engine struct {
	Lexical    LexicalIndex
	Vector     VectorIndex
	Meta       MetaLookup
	Embeddings embedding.Backend
	EmbCache   EmbeddingCache
	Counters   CacheCounters
	Fusion     FusionConfig
	MMR        MMRConfig
	TopNBM25   int
	TopNVector int
	MaxTopK    int
}

// embedQuery resolves the query vector through the embcache namespace when
// one is wired, falling through to the backend on a miss.
func (e *Engine) embedQuery(ctx context.Context, workspaceID uuid.UUID, query string) ([]float32, error) {
	if e.EmbCache == nil {
		return e.Embeddings.Embed(ctx, query)
	}
	qh := sha256Hex(query)
	if vec, ok, err := e.EmbCache.Get(ctx, workspaceID.String(), qh); err == nil && ok {
		if e.Counters != nil {
			e.Counters.Hit("embedding")
		}
		return vec, nil
	}
	if e.Counters != nil {
		e.Counters.Miss("embedding")
	}
	vec, err := e.Embeddings.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	_ = e.EmbCache.Put(ctx, workspaceID.String(), qh, vec)
	return vec, nil
}

func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if len(req.Query) > MaxQueryLen {
		return nil, apperr.PayloadTooLargeError("query exceeds max length")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	if topK > e.MaxTopK {
		topK = e.MaxTopK
	}
	if req.Query == "" {
		return &Response{Query: req.Query, Results: nil, PaginationMode: req.Mode, SearchType: "none"}, nil
	}

	qHash := QueryHash(req.WorkspaceID.String(), req.Query, req.Filters, req.Hybrid)
	if req.Cursor != nil && req.Cursor.QueryHash != qHash {
		return nil, apperr.BadRequestError("cursor does not match the current query")
	}

	lexicalRaw, err := e.Lexical.Search(ctx, req.WorkspaceID, req.Query, e.TopNBM25)
	if err != nil {
		return nil, err
	}
	lexical := e.filterCandidates(ctx, req.WorkspaceID, lexicalRaw, req.Filters)

	degraded := false
	var vector []Candidate
	searchType := "lexical"
	if req.Hybrid {
		if e.Vector.Available(ctx) {
			qVec, err := e.embedQuery(ctx, req.WorkspaceID, req.Query)
			if err == nil {
				vectorRaw, err := e.Vector.Search(ctx, req.WorkspaceID, qVec, e.TopNVector)
				if err == nil {
					vector = e.filterCandidates(ctx, req.WorkspaceID, vectorRaw, req.Filters)
					searchType = "hybrid"
				} else {
					degraded = true
				}
			} else {
				degraded = true
			}
		} else {
			degraded = true
		}
	}

	fused := FuseRRF(lexical, vector, e.Fusion)
	fused = applyKeysetCursor(fused, req.Cursor)

	// Diversity runs on the full fused list, before any slicing — the
	// rerank must see the candidates it could swap in from less-represented
	// documents, which a pre-truncated page no longer contains.
	var page []Fused
	var nextCursor *Cursor
	switch req.Mode {
	case PaginationHybrid:
		start := 0
		if req.Cursor != nil {
			start = req.Cursor.Index
		}
		diversified := Diversify(fused, start+topK, e.MMR)
		budgetUsed := len(diversified) == start+topK
		end := start + topK
		if end > len(diversified) {
			end = len(diversified)
		}
		if start > len(diversified) {
			start = len(diversified)
		}
		page = diversified[start:end]
		// More pages only when the rerank filled its whole budget and fused
		// candidates remain; a per-document cap that ran dry ends the walk.
		if budgetUsed && end < len(fused) {
			nextCursor = &Cursor{Mode: PaginationHybrid, QueryHash: qHash, Index: end}
		}
	default:
		page = Diversify(fused, topK, e.MMR)
		if len(page) > 0 && len(fused) > len(page) {
			last := page[len(page)-1]
			nextCursor = &Cursor{Mode: PaginationNative, QueryHash: qHash, LastScore: last.Score, LastID: last.ChunkID}
		}
	}

	results := make([]Result, len(page))
	for i, d := range page {
		results[i] = Result{ChunkID: d.ChunkID, DocumentID: d.DocumentID, Text: Truncate(d.Text), Score: d.Score}
	}

	return &Response{
		Results:        results,
		Query:          req.Query,
		TotalResults:   len(fused),
		SearchType:     searchType,
		NextCursor:     nextCursor,
		PaginationMode: req.Mode,
		Degraded:       degraded,
	}, nil
}

func (e *Engine) filterCandidates(ctx context.Context, workspaceID uuid.UUID, candidates []Candidate, filters map[string]FilterValue) []Candidate {
	if len(filters) == 0 || len(candidates) == 0 {
		return candidates
	}
	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	metaByChunk, err := e.Meta.Meta(ctx, workspaceID, ids)
	if err != nil {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if MatchesMeta(metaByChunk[c.ChunkID], filters) {
			out = append(out, c)
		}
	}
	return out
}
