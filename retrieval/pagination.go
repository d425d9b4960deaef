package retrieval

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type cursorWire struct {
	Mode      PaginationMode `json:"mode"`
	QueryHash string         `json:"query_hash"`
	LastScore float64        `json:"last_score"`
	LastID    string         `json:"last_id"`
	Index     int            `json:"index"`
}

// EncodeCursor renders an opaque pagination token.
func EncodeCursor(c Cursor) string {
	w := cursorWire{Mode: c.Mode, QueryHash: c.QueryHash, LastScore: c.LastScore, LastID: c.LastID.String(), Index: c.Index}
	b, _ := json.Marshal(w)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by EncodeCursor. Callers must still
// check QueryHash against the current request before trusting it.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	var w cursorWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor payload: %w", err)
	}
	var id uuid.UUID
	if w.LastID != "" {
		id, err = uuid.Parse(w.LastID)
		if err != nil {
			return Cursor{}, fmt.Errorf("invalid cursor last_id: %w", err)
		}
	}
	return Cursor{Mode: w.Mode, QueryHash: w.QueryHash, LastScore: w.LastScore, LastID: id, Index: w.Index}, nil
}

// applyKeysetCursor filters a score-ordered candidate list (already sorted
// descending by Score, then ascending by ChunkID) to rows strictly after the
// cursor position, following the resumption predicate:
// `(score < last OR (score = last AND id > last_id))`.
func applyKeysetCursor(items []Fused, cur *Cursor) []Fused {
	if cur == nil {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if it.Score < cur.LastScore || (it.Score == cur.LastScore && it.ChunkID.String() > cur.LastID.String()) {
			out = append(out, it)
		}
	}
	return out
}
