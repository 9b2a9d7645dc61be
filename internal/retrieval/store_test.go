package retrieval

import (
	"context"
	"math"
	"testing"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
)

func newTestCorpus(t *testing.T, samples []engine.Sample) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.AddSamples(context.Background(), samples); err != nil {
		t.Fatalf("AddSamples failed: %v", err)
	}
	return store
}

func refSample(id string, al, zn, uts float64) engine.Sample {
	return engine.Sample{
		ID:          id,
		Features:    map[string]float64{"Al": al, "Zn": zn},
		KnownValues: map[string]float64{"UTS": uts},
	}
}

func TestQueryOrdersBySimilarity(t *testing.T) {
	store := newTestCorpus(t, []engine.Sample{
		refSample("near", 5.0, 1.5, 640),
		refSample("far", 1.0, 9.0, 300),
		refSample("exact", 5.5, 1.1, 650),
	})

	query := engine.Sample{ID: "q", Features: map[string]float64{"Al": 5.5, "Zn": 1.1}}
	refs, err := store.Query(context.Background(), query, 3, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("got %d references, want 3", len(refs))
	}
	if refs[0].SampleID != "exact" {
		t.Errorf("top reference = %s, want exact", refs[0].SampleID)
	}
	if refs[0].Similarity < refs[1].Similarity || refs[1].Similarity < refs[2].Similarity {
		t.Errorf("similarities not descending: %v, %v, %v",
			refs[0].Similarity, refs[1].Similarity, refs[2].Similarity)
	}
	if refs[0].KnownValues["UTS"] != 650 {
		t.Errorf("known values not carried: %v", refs[0].KnownValues)
	}
}

func TestQueryTopKAndFloor(t *testing.T) {
	store := newTestCorpus(t, []engine.Sample{
		refSample("a", 5.0, 1.0, 640),
		refSample("b", 5.1, 1.0, 645),
		refSample("c", 1.0, 9.0, 300),
	})
	query := engine.Sample{ID: "q", Features: map[string]float64{"Al": 5.0, "Zn": 1.0}}

	refs, err := store.Query(context.Background(), query, 1, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("topK=1 returned %d references", len(refs))
	}

	// A floor near 1 keeps only near-parallel feature vectors.
	refs, err = store.Query(context.Background(), query, 10, 0.99)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for _, ref := range refs {
		if ref.SampleID == "c" {
			t.Error("dissimilar sample survived the floor")
		}
	}

	refs, err = store.Query(context.Background(), query, 0, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if refs != nil {
		t.Errorf("topK=0 must return nothing, got %v", refs)
	}
}

func TestQueryLeavesSelfOut(t *testing.T) {
	self := refSample("s1", 5.0, 1.0, 640)
	store := newTestCorpus(t, []engine.Sample{self, refSample("other", 5.1, 1.0, 645)})

	refs, err := store.Query(context.Background(), self, 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for _, ref := range refs {
		if ref.SampleID == "s1" {
			t.Error("query sample retrieved itself")
		}
	}
	if len(refs) != 1 {
		t.Errorf("got %d references, want 1", len(refs))
	}
}

func TestQueryEmptyCorpusNotAnError(t *testing.T) {
	store := newTestCorpus(t, nil)
	refs, err := store.Query(context.Background(),
		engine.Sample{ID: "q", Features: map[string]float64{"Al": 5.0}}, 5, 0)
	if err != nil {
		t.Fatalf("empty corpus must not error: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("got %v, want none", refs)
	}
}

func TestAddSamplesSkipsUnknown(t *testing.T) {
	store := newTestCorpus(t, []engine.Sample{
		refSample("known", 5.0, 1.0, 640),
		{ID: "unknown", Features: map[string]float64{"Al": 5.0}},
	})
	refs, err := store.Query(context.Background(),
		engine.Sample{ID: "q", Features: map[string]float64{"Al": 5.0, "Zn": 1.0}}, 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(refs) != 1 || refs[0].SampleID != "known" {
		t.Errorf("refs = %v, want only the sample with known values", refs)
	}
}

func TestAddSamplesIncrementalLoad(t *testing.T) {
	store := newTestCorpus(t, []engine.Sample{
		refSample("far", 1.0, 9.0, 300),
	})
	// A second load upserts and reindexes; queries see the whole corpus.
	if err := store.AddSamples(context.Background(), []engine.Sample{
		refSample("exact", 5.5, 1.1, 650),
		refSample("far", 1.0, 9.0, 310),
	}); err != nil {
		t.Fatalf("AddSamples failed: %v", err)
	}

	query := engine.Sample{ID: "q", Features: map[string]float64{"Al": 5.5, "Zn": 1.1}}
	refs, err := store.Query(context.Background(), query, 5, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d references, want 2", len(refs))
	}
	if refs[0].SampleID != "exact" {
		t.Errorf("top reference = %s, want exact", refs[0].SampleID)
	}
	if refs[1].KnownValues["UTS"] != 310 {
		t.Errorf("reloaded sample kept stale values: %v", refs[1].KnownValues)
	}
}

func TestFeatureSimilarity(t *testing.T) {
	a := map[string]float64{"Al": 1, "Zn": 0}
	if got := FeatureSimilarity(a, a); math.Abs(got-1) > 1e-12 {
		t.Errorf("self similarity = %v, want 1", got)
	}
	b := map[string]float64{"Al": 0, "Zn": 1}
	if got := FeatureSimilarity(a, b); math.Abs(got) > 1e-12 {
		t.Errorf("orthogonal similarity = %v, want 0", got)
	}
	// Disjoint feature keys align on the union.
	c := map[string]float64{"Cu": 1}
	if got := FeatureSimilarity(a, c); math.Abs(got) > 1e-12 {
		t.Errorf("disjoint similarity = %v, want 0", got)
	}
	if got := FeatureSimilarity(a, map[string]float64{}); got != 0 {
		t.Errorf("zero vector similarity = %v, want 0", got)
	}
}
