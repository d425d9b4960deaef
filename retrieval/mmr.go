package retrieval

// MMRConfig tunes the diversity rerank.
type MMRConfig struct {
	Lambda           float64
	SameDocPenalty   float64
	MaxPerDocument   int
}

func DefaultMMRConfig() MMRConfig {
	return MMRConfig{Lambda: 0.7, SameDocPenalty: 0.3, MaxPerDocument: 2}
}

// Diversify applies the MMR-light rerank:
// iteratively pick the best remaining item maximizing
// `λ·score − (1−λ)·max_similarity_to_selected − 0.3·(docs_already_selected_from_same_document + 1)`,
// with a hard cap of MaxPerDocument picks per source document. When there
// are no more candidates than topK there is nothing to diversify between and
// the list passes through uncapped; otherwise the cap may return fewer than
// topK rows.
func Diversify(candidates []Fused, topK int, cfg MMRConfig) []Fused {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}
	if len(candidates) <= topK {
		return candidates
	}
	remaining := append([]Fused{}, candidates...)
	tokens := make([][]string, len(remaining))
	for i, c := range remaining {
		tokens[i] = firstTokens(c.Text, ChunkTokenWords)
	}
	selected := make([]Fused, 0, topK)
	selectedTokens := make([][]string, 0, topK)
	perDoc := make(map[string]int)

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i, c := range remaining {
			docCount := perDoc[c.DocumentID.String()]
			if docCount >= cfg.MaxPerDocument {
				continue
			}
			maxSim := 0.0
			for _, st := range selectedTokens {
				if sim := jaccard(tokens[i], st); sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := cfg.Lambda*c.Score - (1-cfg.Lambda)*maxSim - cfg.SameDocPenalty*float64(docCount+1)
			if bestIdx == -1 || mmrScore > bestScore {
				bestIdx = i
				bestScore = mmrScore
			}
		}
		if bestIdx == -1 {
			break
		}
		chosen := remaining[bestIdx]
		selected = append(selected, chosen)
		selectedTokens = append(selectedTokens, tokens[bestIdx])
		perDoc[chosen.DocumentID.String()]++
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		tokens = append(tokens[:bestIdx], tokens[bestIdx+1:]...)
	}
	return selected
}

// jaccard computes set similarity over two token lists.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
