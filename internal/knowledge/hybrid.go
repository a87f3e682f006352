package knowledge

import "sort"

// HybridSearchResult is one entity ranked by Reciprocal Rank Fusion across
// keyword and vector result lists. KeywordRank/VectorRank are 1-based and
// zero when the entity did not appear in that list, so callers can explain
// why an entity ranked where it did.
type HybridSearchResult struct {
	EntityID   string
	Score      float32
	KeywordRank int
	VectorRank  int
}

// HybridSearchRRF fuses keyword-ranked entity IDs and vector search results
// with Reciprocal Rank Fusion: score = Σ 1/(k+rank+1) across whichever
// lists an entity appears in. k is typically 60.
func HybridSearchRRF(keywordResults []string, vectorResults []VectorSearchResult, k float32, limit int) []HybridSearchResult {
	type acc struct {
		score               float32
		keywordRank, vectorRank int
	}
	scores := make(map[string]*acc)

	for rank, id := range keywordResults {
		a, ok := scores[id]
		if !ok {
			a = &acc{}
			scores[id] = a
		}
		a.score += 1.0 / (k + float32(rank) + 1.0)
		a.keywordRank = rank + 1
	}
	for rank, r := range vectorResults {
		a, ok := scores[r.EntityID]
		if !ok {
			a = &acc{}
			scores[r.EntityID] = a
		}
		a.score += 1.0 / (k + float32(rank) + 1.0)
		a.vectorRank = rank + 1
	}

	results := make([]HybridSearchResult, 0, len(scores))
	for id, a := range scores {
		results = append(results, HybridSearchResult{
			EntityID:    id,
			Score:       a.score,
			KeywordRank: a.keywordRank,
			VectorRank:  a.vectorRank,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit >= 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}
