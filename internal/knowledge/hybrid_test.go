package knowledge

import "testing"

func TestHybridSearchRRFCombinesRanks(t *testing.T) {
	keyword := []string{"a", "b", "c"}
	vector := []VectorSearchResult{
		{EntityID: "b", Similarity: 0.9},
		{EntityID: "d", Similarity: 0.8},
	}

	results := HybridSearchRRF(keyword, vector, 60, 10)
	if len(results) != 4 {
		t.Fatalf("expected 4 distinct entities, got %d", len(results))
	}

	var b *HybridSearchResult
	for i := range results {
		if results[i].EntityID == "b" {
			b = &results[i]
		}
	}
	if b == nil {
		t.Fatalf("expected entity b in results")
	}
	if b.KeywordRank != 2 || b.VectorRank != 1 {
		t.Fatalf("expected b to carry both ranks, got keyword=%d vector=%d", b.KeywordRank, b.VectorRank)
	}
	if results[0].EntityID != "b" {
		t.Fatalf("expected b (present in both lists) to rank first, got %q", results[0].EntityID)
	}
}

func TestHybridSearchRRFRespectsLimit(t *testing.T) {
	keyword := []string{"a", "b", "c", "d", "e"}
	results := HybridSearchRRF(keyword, nil, 60, 2)
	if len(results) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(results))
	}
}
