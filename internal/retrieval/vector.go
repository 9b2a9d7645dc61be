package retrieval

import (
	"math"
	"sort"
)

// alignVectors projects two feature maps onto the union of their keys,
// in sorted order, so cosine similarity compares like with like even
// when samples carry different feature sets.
func alignVectors(a, b map[string]float64) ([]float64, []float64) {
	keys := map[string]bool{}
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	va := make([]float64, len(sorted))
	vb := make([]float64, len(sorted))
	for i, k := range sorted {
		va[i] = a[k]
		vb[i] = b[k]
	}
	return va, vb
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either has zero magnitude.
func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FeatureSimilarity is the similarity between two samples' feature
// maps, exposed for ranking diagnostics.
func FeatureSimilarity(a, b map[string]float64) float64 {
	va, vb := alignVectors(a, b)
	return cosineSimilarity(va, vb)
}
