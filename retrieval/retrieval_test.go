package retrieval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseRangeVariants(t *testing.T) {
	cases := []struct {
		raw   string
		value float64
		want  bool
	}{
		{"10-20", 15, true},
		{"10-20", 25, false},
		{">=10", 10, true},
		{">=10", 9.99, false},
		{"<=10", 10, true},
		{">10", 10, false},
		{">10", 10.01, true},
		{"<10", 9.99, true},
		{"15", 15, true},
		{"15", 15.01, false},
		{"abc", 1, false},
	}
	for _, c := range cases {
		got := ParseRange(c.raw).Matches(c.value)
		require.Equal(t, c.want, got, "raw=%s value=%v", c.raw, c.value)
	}
}

func TestMatchesMetaListAndScalar(t *testing.T) {
	meta := map[string]string{"category": "Pizza", "city": "CABA", "price": "18.5"}
	require.True(t, MatchesMeta(meta, map[string]FilterValue{"category": {Scalar: "pizza"}}))
	require.False(t, MatchesMeta(meta, map[string]FilterValue{"category": {Scalar: "empanada"}}))
	require.True(t, MatchesMeta(meta, map[string]FilterValue{"city": {IsList: true, List: []string{"Rosario", "CABA"}}}))
	require.True(t, MatchesMeta(meta, map[string]FilterValue{"price": {Scalar: "10-20"}}))
	require.False(t, MatchesMeta(meta, map[string]FilterValue{"price": {Scalar: "abc"}}))
}

func TestFuseRRFOrdersByFusedScore(t *testing.T) {
	idA, idB, idC := uuid.New(), uuid.New(), uuid.New()
	lexical := []Candidate{{ChunkID: idA, Rank: 1}, {ChunkID: idB, Rank: 2}}
	vector := []Candidate{{ChunkID: idB, Rank: 1}, {ChunkID: idC, Rank: 2}}

	fused := FuseRRF(lexical, vector, DefaultFusionConfig(60))
	require.Len(t, fused, 3)
	require.Equal(t, idB, fused[0].ChunkID, "idB appears in both lists so it should rank first")
}

func TestDiversifyCapsPerDocument(t *testing.T) {
	docA, docB := uuid.New(), uuid.New()
	var candidates []Fused
	for i := 0; i < 4; i++ {
		candidates = append(candidates, Fused{ChunkID: uuid.New(), DocumentID: docA, Text: "alpha beta gamma", Score: 1.0 - float64(i)*0.01})
	}
	candidates = append(candidates, Fused{ChunkID: uuid.New(), DocumentID: docB, Text: "delta epsilon zeta", Score: 0.5})

	picked := Diversify(candidates, 3, DefaultMMRConfig())
	require.Len(t, picked, 3)
	fromA := 0
	for _, p := range picked {
		if p.DocumentID == docA {
			fromA++
		}
	}
	require.LessOrEqual(t, fromA, 2, "cap per source document at 2")
}

func TestDiversifySeesFullCandidatePool(t *testing.T) {
	// 20 high-scoring chunks from one document and 10 lower-scoring from
	// another: the rerank must reach past the raw-score top 5 (all docA)
	// and pull docB in, keeping docA at the per-document cap.
	docA, docB := uuid.New(), uuid.New()
	var fused []Fused
	for i := 0; i < 20; i++ {
		fused = append(fused, Fused{ChunkID: uuid.New(), DocumentID: docA, Text: "pizza margherita napolitana", Score: 1.0 - float64(i)*0.001})
	}
	for i := 0; i < 10; i++ {
		fused = append(fused, Fused{ChunkID: uuid.New(), DocumentID: docB, Text: "empanadas de carne al horno", Score: 0.5 - float64(i)*0.001})
	}

	picked := Diversify(fused, 5, DefaultMMRConfig())
	require.NotEmpty(t, picked)
	fromA, fromB := 0, 0
	for _, p := range picked {
		if p.DocumentID == docA {
			fromA++
		} else if p.DocumentID == docB {
			fromB++
		}
	}
	require.LessOrEqual(t, fromA, 2)
	// The lower-scored document is represented at all only because the
	// rerank saw the full pool, not a raw-score top-5 slice.
	require.Greater(t, fromB, 0)
}

func TestEncodeDecodeCursorRoundTrip(t *testing.T) {
	c := Cursor{Mode: PaginationNative, QueryHash: "abc123", LastScore: 0.42, LastID: uuid.New()}
	token := EncodeCursor(c)
	got, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestTruncateAppliesEllipsisAt1200(t *testing.T) {
	long := make([]byte, 1300)
	for i := range long {
		long[i] = 'a'
	}
	out := Truncate(string(long))
	require.Equal(t, 1201, len([]rune(out)))
}

func TestQueryHashBindsFiltersAndWorkspace(t *testing.T) {
	h1 := QueryHash("ws1", "pizza", map[string]FilterValue{"city": {Scalar: "CABA"}}, true)
	h2 := QueryHash("ws1", "pizza", map[string]FilterValue{"city": {Scalar: "CABA"}}, true)
	h3 := QueryHash("ws2", "pizza", map[string]FilterValue{"city": {Scalar: "CABA"}}, true)
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
}
