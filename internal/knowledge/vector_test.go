package knowledge

import "testing"

func TestVectorIndexInsertRejectsWrongDimension(t *testing.T) {
	idx := NewVectorIndex(3)
	if err := idx.Insert("a", []float32{1, 2}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	if err := idx.Insert("a", []float32{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", idx.Len())
	}
}

func TestVectorIndexSearchRanksBySimilarity(t *testing.T) {
	idx := NewVectorIndex(2)
	_ = idx.Insert("same", []float32{1, 0})
	_ = idx.Insert("orthogonal", []float32{0, 1})
	_ = idx.Insert("opposite", []float32{-1, 0})

	results := idx.Search([]float32{1, 0}, 3)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].EntityID != "same" {
		t.Fatalf("expected closest match first, got %q", results[0].EntityID)
	}
	if results[len(results)-1].EntityID != "opposite" {
		t.Fatalf("expected opposite vector ranked last, got %q", results[len(results)-1].EntityID)
	}
}

func TestVectorIndexRemove(t *testing.T) {
	idx := NewVectorIndex(2)
	_ = idx.Insert("a", []float32{1, 1})
	idx.Remove("a")
	if idx.Len() != 0 {
		t.Fatalf("expected index to be empty after remove")
	}
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.0, 0}
	blob := float32sToBytes(vec)
	got, ok := bytesToFloat32s(blob)
	if !ok {
		t.Fatalf("expected successful decode")
	}
	if len(got) != len(vec) {
		t.Fatalf("expected %d floats, got %d", len(vec), len(got))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("expected identical vectors to have similarity 1, got %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected orthogonal vectors to have similarity 0, got %v", got)
	}
	if got := cosineSimilarity(nil, nil); got != 0 {
		t.Fatalf("expected empty vectors to have similarity 0, got %v", got)
	}
}
