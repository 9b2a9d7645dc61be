// Package retrieval finds reference samples similar to a query sample.
// The corpus lives in SQLite; similarity is cosine over the samples'
// numeric feature vectors, so no learned embeddings are involved.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/logging"
)

const refSchema = `
CREATE TABLE IF NOT EXISTS ref_samples (
	id           TEXT PRIMARY KEY,
	features     TEXT NOT NULL,
	processing   TEXT NOT NULL DEFAULT '',
	known_values TEXT NOT NULL
);
`

// Store is a SQLite-backed reference corpus implementing
// engine.Retriever.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// indexKeys is the sorted feature-key union the vec0 index was
	// built over. Empty when no index exists (or on non-vec builds).
	indexKeys []string
}

// Compile-time assertion that Store implements the engine contract.
var _ engine.Retriever = (*Store)(nil)

// NewStore opens (or creates) a corpus database. Pass ":memory:" for
// an ephemeral corpus.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(refSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply corpus schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddSamples loads samples with known values into the corpus. Samples
// without known values are skipped: they cannot serve as references.
func (s *Store) AddSamples(ctx context.Context, samples []engine.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, sample := range samples {
		if len(sample.KnownValues) == 0 {
			continue
		}
		features, err := json.Marshal(sample.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features for %s: %w", sample.ID, err)
		}
		known, err := json.Marshal(sample.KnownValues)
		if err != nil {
			return fmt.Errorf("failed to encode known values for %s: %w", sample.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO ref_samples (id, features, processing, known_values)
			VALUES (?, ?, ?, ?)`,
			sample.ID, string(features), sample.Processing, string(known),
		); err != nil {
			return fmt.Errorf("failed to insert reference %s: %w", sample.ID, err)
		}
		added++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit corpus load: %w", err)
	}
	if err := s.rebuildIndex(ctx); err != nil {
		// Non-fatal: the in-Go cosine scan still serves queries.
		logging.Get(logging.CategoryRetrieval).Warn("failed to rebuild vector index: %v", err)
	}
	logging.Retrieval("corpus loaded: %d reference samples", added)
	return nil
}

// Query returns up to topK references ordered by descending cosine
// similarity, dropping anything below the similarity floor and the
// query sample itself when it is part of the corpus. An empty result
// is not an error.
func (s *Store) Query(ctx context.Context, sample engine.Sample, topK int, similarityFloor float64) ([]engine.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		return nil, nil
	}

	// Vector index first; brute-force scan when it is absent or fails.
	if refs, ok, err := s.indexQuery(ctx, sample, topK, similarityFloor); err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("vector index query failed, falling back to scan: %v", err)
	} else if ok {
		logging.Get(logging.CategoryRetrieval).Debug("query %s: %d references via vector index", sample.ID, len(refs))
		return refs, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, features, processing, known_values FROM ref_samples`)
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus: %w", err)
	}
	defer rows.Close()

	var candidates []engine.Reference
	for rows.Next() {
		var id, featuresJSON, processing, knownJSON string
		if err := rows.Scan(&id, &featuresJSON, &processing, &knownJSON); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		if id == sample.ID {
			continue
		}
		var features, known map[string]float64
		if err := json.Unmarshal([]byte(featuresJSON), &features); err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("skipping reference %s: bad features: %v", id, err)
			continue
		}
		if err := json.Unmarshal([]byte(knownJSON), &known); err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("skipping reference %s: bad known values: %v", id, err)
			continue
		}
		similarity := FeatureSimilarity(sample.Features, features)
		if similarity < similarityFloor {
			continue
		}
		candidates = append(candidates, engine.Reference{
			SampleID:    id,
			Features:    features,
			Processing:  processing,
			KnownValues: known,
			Similarity:  similarity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("corpus iteration failed: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	logging.Get(logging.CategoryRetrieval).Debug("query %s: %d references returned", sample.ID, len(candidates))
	return candidates, nil
}
