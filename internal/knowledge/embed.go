package knowledge

// EmbeddingConfig controls whether and how text is embedded for vector
// search, plus the relative weight of vector vs. keyword score when a
// caller chooses to blend them outside of RRF.
type EmbeddingConfig struct {
	Enabled       bool
	ModelName     string
	Dimensions    int
	VectorWeight  float32
	KeywordWeight float32
}

// DefaultEmbeddingConfig: embeddings off by default, 384-dimensional
// MiniLM-shaped vectors, evenly weighted.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Enabled:       false,
		ModelName:     "sentence-transformers/all-MiniLM-L6-v2",
		Dimensions:    384,
		VectorWeight:  0.5,
		KeywordWeight: 0.5,
	}
}

// EmbeddingProvider generates embedding vectors for text. Swappable so the
// knowledge store isn't tied to a single embedding backend.
type EmbeddingProvider interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
	Dimensions() int
}

// NoOpEmbeddingProvider returns zero vectors so the system degrades
// gracefully when embeddings are disabled.
type NoOpEmbeddingProvider struct {
	dims int
}

// NewNoOpEmbeddingProvider returns a provider producing dims-length zero
// vectors.
func NewNoOpEmbeddingProvider(dims int) *NoOpEmbeddingProvider {
	return &NoOpEmbeddingProvider{dims: dims}
}

func (p *NoOpEmbeddingProvider) Embed(_ string) ([]float32, error) {
	return make([]float32, p.dims), nil
}

func (p *NoOpEmbeddingProvider) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dims)
	}
	return out, nil
}

func (p *NoOpEmbeddingProvider) Dimensions() int { return p.dims }
