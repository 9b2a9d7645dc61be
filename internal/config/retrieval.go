package config

import "fmt"

// RetrievalConfig configures the reference-sample retriever.
type RetrievalConfig struct {
	// TopK is the number of reference samples requested per query.
	TopK int `yaml:"top_k"`

	// SimilarityFloor drops references below this cosine similarity.
	// Queries with no match above the floor compose zero-shot requests.
	SimilarityFloor float64 `yaml:"similarity_floor"`

	// CorpusPath is an optional JSON file of reference samples loaded
	// into the corpus before a run. Empty means the run's own samples
	// with known values form the corpus.
	CorpusPath string `yaml:"corpus_path"`
}

// DefaultRetrievalConfig returns sensible defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:            5,
		SimilarityFloor: 0.0,
	}
}

// Validate checks retrieval settings.
func (c *RetrievalConfig) Validate() error {
	if c.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", c.TopK)
	}
	if c.SimilarityFloor < -1 || c.SimilarityFloor > 1 {
		return fmt.Errorf("similarity_floor must be in [-1,1], got %v", c.SimilarityFloor)
	}
	return nil
}
