package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostgresLexicalIndex queries the precomputed `chunks.tsv` column with a
// web-search-style parser (`websearch_to_tsquery`) under the same
// accent-folding `es_unaccent` configuration that builds the column, ordered
// by rank descending then chunk id.
type PostgresLexicalIndex struct{ db *gorm.DB }

func NewPostgresLexicalIndex(db *gorm.DB) *PostgresLexicalIndex { return &PostgresLexicalIndex{db: db} }

type lexicalRow struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Text       string
	Rank       float64
}

func (idx *PostgresLexicalIndex) Search(ctx context.Context, workspaceID uuid.UUID, query string, limit int) ([]Candidate, error) {
	var rows []lexicalRow
	err := idx.db.WithContext(ctx).Raw(`
		SELECT id AS chunk_id, document_id, text,
		       ts_rank(tsv, websearch_to_tsquery('es_unaccent', ?)) AS rank
		FROM chunks
		WHERE workspace_id = ? AND deleted_at IS NULL
		  AND tsv @@ websearch_to_tsquery('es_unaccent', ?)
		ORDER BY rank DESC, id ASC
		LIMIT ?
	`, query, workspaceID, query, limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	out := make([]Candidate, len(rows))
	for i, r := range rows {
		out[i] = Candidate{ChunkID: r.ChunkID, DocumentID: r.DocumentID, Text: r.Text, Rank: i + 1, Score: r.Rank}
	}
	return out, nil
}

// PostgresVectorIndex queries chunk_embeddings.vector via pgvector's
// cosine-distance operator `<=>`, ordered by distance ascending then chunk
// id.
type PostgresVectorIndex struct {
	db        *gorm.DB
	available bool
}

func NewPostgresVectorIndex(db *gorm.DB) *PostgresVectorIndex {
	return &PostgresVectorIndex{db: db, available: true}
}

type vectorRow struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Text       string
	Distance   float64
}

func (idx *PostgresVectorIndex) Search(ctx context.Context, workspaceID uuid.UUID, queryVector []float32, limit int) ([]Candidate, error) {
	var rows []vectorRow
	err := idx.db.WithContext(ctx).Raw(`
		SELECT c.id AS chunk_id, c.document_id, c.text,
		       (e.vector <=> ?) AS distance
		FROM chunk_embeddings e
		JOIN chunks c ON c.id = e.chunk_id AND c.workspace_id = e.workspace_id
		WHERE e.workspace_id = ? AND e.deleted_at IS NULL AND c.deleted_at IS NULL
		ORDER BY distance ASC, c.id ASC
		LIMIT ?
	`, vectorLiteral(queryVector), workspaceID, limit).Scan(&rows).Error
	if err != nil {
		idx.available = false
		return nil, fmt.Errorf("vector search: %w", err)
	}
	idx.available = true
	out := make([]Candidate, len(rows))
	for i, r := range rows {
		out[i] = Candidate{ChunkID: r.ChunkID, DocumentID: r.DocumentID, Text: r.Text, Rank: i + 1, Score: -r.Distance}
	}
	return out, nil
}

func (idx *PostgresVectorIndex) Available(ctx context.Context) bool {
	return idx.db.WithContext(ctx).Exec("SELECT 1").Error == nil
}

// Upsert replaces a chunk's stored vector. Postgres has no vec0-style
// UPDATE restriction, but delete+insert keeps the write path identical to
// the SQLite backend for callers in ingestion.
func (idx *PostgresVectorIndex) Upsert(ctx context.Context, workspaceID, documentID, chunkID uuid.UUID, vector []float32) error {
	tx := idx.db.WithContext(ctx)
	if err := tx.Exec(`DELETE FROM chunk_embeddings WHERE chunk_id = ? AND workspace_id = ?`, chunkID, workspaceID).Error; err != nil {
		return fmt.Errorf("deleting old embedding: %w", err)
	}
	err := tx.Exec(`
		INSERT INTO chunk_embeddings (chunk_id, workspace_id, document_id, vector, created_at)
		VALUES (?, ?, ?, ?, now())
	`, chunkID, workspaceID, documentID, vectorLiteral(vector)).Error
	if err != nil {
		return fmt.Errorf("inserting embedding: %w", err)
	}
	return nil
}

// vectorLiteral renders a []float32 as pgvector's text literal `[1,2,3]`.
func vectorLiteral(v []float32) string {
	s := "["
	for i, f := range v {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%g", f)
	}
	return s + "]"
}

// PostgresMetaLookup reads chunks.meta for filter evaluation.
type PostgresMetaLookup struct{ db *gorm.DB }

func NewPostgresMetaLookup(db *gorm.DB) *PostgresMetaLookup { return &PostgresMetaLookup{db: db} }

func (m *PostgresMetaLookup) Meta(ctx context.Context, workspaceID uuid.UUID, chunkIDs []uuid.UUID) (map[uuid.UUID]map[string]string, error) {
	type row struct {
		ID       uuid.UUID
		MetaJSON []byte
	}
	var rows []row
	if err := m.db.WithContext(ctx).Table("chunks").
		Select("id, meta_json").
		Where("workspace_id = ? AND id IN ?", workspaceID, chunkIDs).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = decodeMetaJSON(r.MetaJSON)
	}
	return out, nil
}
