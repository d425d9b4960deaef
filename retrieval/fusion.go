package retrieval

import "sort"

// FuseRRF combines two ranked candidate lists (lexical, vector) via
// Reciprocal Rank Fusion.3: for each candidate, sum
// `1/(k + rank_in_list)` across the lists it appears in, order by fused
// score descending. cfg.ListWeight scales each list's term (default {1,1},
// the plain unweighted sum — see FusionConfig's doc comment).
func FuseRRF(lexical, vector []Candidate, cfg FusionConfig) []Fused {
	scores := make(map[[2]uint64]float64)
	meta := make(map[[2]uint64]Fused)

	add := func(list []Candidate, weight float64) {
		for _, c := range list {
			key := idKey(c.ChunkID)
			scores[key] += weight * (1.0 / float64(cfg.K+c.Rank))
			if _, ok := meta[key]; !ok {
				meta[key] = Fused{ChunkID: c.ChunkID, DocumentID: c.DocumentID, Text: c.Text}
			}
		}
	}
	add(lexical, cfg.ListWeight[0])
	add(vector, cfg.ListWeight[1])

	out := make([]Fused, 0, len(scores))
	for key, score := range scores {
		f := meta[key]
		f.Score = score
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID.String() < out[j].ChunkID.String()
	})
	return out
}

func idKey(id [16]byte) [2]uint64 {
	var a, b uint64
	for i := 0; i < 8; i++ {
		a = a<<8 | uint64(id[i])
	}
	for i := 8; i < 16; i++ {
		b = b<<8 | uint64(id[i])
	}
	return [2]uint64{a, b}
}
