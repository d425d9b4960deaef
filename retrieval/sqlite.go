package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
)

// SQLiteVectorIndex is the SQLite backend for VectorIndex, grounded on
// papercomputeco-tapes' pkg/vector/sqlitevec driver: a vec0 virtual table
// keyed by an integer rowid, with a mapping table from that rowid back to
// the chunk's UUID (vec0 cannot use UUID primary keys directly).
type SQLiteVectorIndex struct {
	db         *sql.DB
	dimensions int
	available  bool
}

func NewSQLiteVectorIndex(db *sql.DB, dimensions int) (*SQLiteVectorIndex, error) {
	sqlite_vec.Auto()

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_chunk_map (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_id TEXT NOT NULL UNIQUE,
			workspace_id TEXT NOT NULL,
			document_id TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("creating vec_chunk_map: %w", err)
	}
	createVec := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunk_embeddings USING vec0(embedding float[%d])`, dimensions)
	if _, err := db.Exec(createVec); err != nil {
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}
	return &SQLiteVectorIndex{db: db, dimensions: dimensions, available: true}, nil
}

// Upsert stores or replaces a chunk's embedding, mirroring the tapes
// driver's delete+insert pattern (vec0 doesn't support UPDATE).
func (idx *SQLiteVectorIndex) Upsert(ctx context.Context, workspaceID, documentID, chunkID uuid.UUID, vector []float32) error {
	blob, err := serializeFloat32(vector)
	if err != nil {
		return err
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRowContext(ctx, `SELECT rowid FROM vec_chunk_map WHERE chunk_id = ?`, chunkID.String()).Scan(&rowID)
	switch err {
	case nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunk_embeddings WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("deleting old embedding: %w", err)
		}
	case sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `INSERT INTO vec_chunk_map(chunk_id, workspace_id, document_id) VALUES (?, ?, ?)`,
			chunkID.String(), workspaceID.String(), documentID.String())
		if err != nil {
			return fmt.Errorf("inserting chunk map row: %w", err)
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("looking up chunk map row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO vec_chunk_embeddings(rowid, embedding) VALUES (?, ?)`, rowID, blob); err != nil {
		return fmt.Errorf("inserting embedding: %w", err)
	}
	return tx.Commit()
}

func (idx *SQLiteVectorIndex) Search(ctx context.Context, workspaceID uuid.UUID, queryVector []float32, limit int) ([]Candidate, error) {
	blob, err := serializeFloat32(queryVector)
	if err != nil {
		return nil, err
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT m.chunk_id, m.document_id, v.distance
		FROM vec_chunk_embeddings v
		INNER JOIN vec_chunk_map m ON m.rowid = v.rowid
		WHERE v.embedding MATCH ? AND v.k = ? AND m.workspace_id = ?
		ORDER BY v.distance
	`, blob, limit, workspaceID.String())
	if err != nil {
		idx.available = false
		return nil, fmt.Errorf("sqlite vector search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	rank := 0
	for rows.Next() {
		var chunkIDStr, documentIDStr string
		var distance float64
		if err := rows.Scan(&chunkIDStr, &documentIDStr, &distance); err != nil {
			return nil, err
		}
		chunkID, err := uuid.Parse(chunkIDStr)
		if err != nil {
			continue
		}
		documentID, err := uuid.Parse(documentIDStr)
		if err != nil {
			continue
		}
		rank++
		out = append(out, Candidate{ChunkID: chunkID, DocumentID: documentID, Rank: rank, Score: -distance})
	}
	idx.available = true
	return out, rows.Err()
}

func (idx *SQLiteVectorIndex) Available(_ context.Context) bool { return idx.available }

// SQLiteLexicalIndex is the lexical primitive for the SQLite deployment
// shape: a tokenized LIKE match ranked by how many query terms a chunk
// hits. Postgres deployments get the real tsvector ranking; this keeps the
// single-binary dev setup honest without FTS5 schema baggage.
type SQLiteLexicalIndex struct {
	db *sql.DB
}

func NewSQLiteLexicalIndex(db *sql.DB) *SQLiteLexicalIndex { return &SQLiteLexicalIndex{db: db} }

func (idx *SQLiteLexicalIndex) Search(ctx context.Context, workspaceID uuid.UUID, query string, limit int) ([]Candidate, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if len(terms) > 8 {
		terms = terms[:8]
	}

	var score strings.Builder
	args := []any{workspaceID.String()}
	score.WriteString("(")
	for i, term := range terms {
		if i > 0 {
			score.WriteString(" + ")
		}
		score.WriteString("(LOWER(text) LIKE ?)")
		args = append(args, "%"+term+"%")
	}
	score.WriteString(")")

	q := fmt.Sprintf(`
		SELECT id, document_id, text, %s AS hits
		FROM chunks
		WHERE workspace_id = ? AND deleted_at IS NULL AND %s > 0
		ORDER BY hits DESC, id ASC
		LIMIT ?
	`, score.String(), score.String())
	// The score expression appears twice (select + predicate); repeat args.
	allArgs := append([]any{}, args[1:]...)
	allArgs = append(allArgs, workspaceID.String())
	allArgs = append(allArgs, args[1:]...)
	allArgs = append(allArgs, limit)

	rows, err := idx.db.QueryContext(ctx, q, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("sqlite lexical search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	rank := 0
	for rows.Next() {
		var idStr, docStr, text string
		var hits float64
		if err := rows.Scan(&idStr, &docStr, &text, &hits); err != nil {
			return nil, err
		}
		chunkID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		documentID, err := uuid.Parse(docStr)
		if err != nil {
			continue
		}
		rank++
		out = append(out, Candidate{ChunkID: chunkID, DocumentID: documentID, Text: text, Rank: rank, Score: hits})
	}
	return out, rows.Err()
}

func serializeFloat32(v []float32) ([]byte, error) {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}
