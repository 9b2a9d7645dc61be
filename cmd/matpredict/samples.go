package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/history"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/retrieval"
)

// loadSamples reads a JSON array of samples.
func loadSamples(path string) ([]engine.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples file: %w", err)
	}
	var samples []engine.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse samples file %s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("samples file %s is empty", path)
	}
	return samples, nil
}

// openHistory opens the run history database from config.
func openHistory() (*history.Store, error) {
	return history.NewStore(cfg.DatabasePath())
}

// openCorpus opens the reference corpus and seeds it. When no corpus
// file is configured, the run's own samples with known values act as
// the reference pool (leave-self-out applies at query time).
func openCorpus(ctx context.Context, runSamples []engine.Sample) (*retrieval.Store, error) {
	store, err := retrieval.NewStore(filepath.Join(cfg.WorkDir, "corpus.db"))
	if err != nil {
		return nil, err
	}

	seed := runSamples
	if cfg.Retrieval.CorpusPath != "" {
		seed, err = loadSamples(cfg.Retrieval.CorpusPath)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	if err := store.AddSamples(ctx, seed); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
