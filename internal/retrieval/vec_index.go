//go:build sqlite_vec && cgo

package retrieval

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/logging"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension.
	vec.Auto()
}

// rebuildIndex recreates the vec0 index over the corpus. Feature maps
// are projected onto the sorted union of every corpus sample's keys,
// which fixes the vector dimension, so a corpus change rebuilds the
// table. Called under s.mu.
func (s *Store) rebuildIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, features FROM ref_samples`)
	if err != nil {
		return fmt.Errorf("failed to scan corpus for indexing: %w", err)
	}
	defer rows.Close()

	features := map[string]map[string]float64{}
	keySet := map[string]bool{}
	for rows.Next() {
		var id, featuresJSON string
		if err := rows.Scan(&id, &featuresJSON); err != nil {
			return fmt.Errorf("failed to scan reference: %w", err)
		}
		var f map[string]float64
		if err := json.Unmarshal([]byte(featuresJSON), &f); err != nil {
			continue
		}
		features[id] = f
		for k := range f {
			keySet[k] = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("corpus iteration failed: %w", err)
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.indexKeys = keys

	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS vec_refs`); err != nil {
		return fmt.Errorf("failed to drop vector index: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	create := fmt.Sprintf(`CREATE VIRTUAL TABLE vec_refs USING vec0(embedding float[%d], sample_id TEXT)`, len(keys))
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	for id, f := range features {
		blob := encodeFloat32SliceToBlob(alignToKeys(f, keys))
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO vec_refs (embedding, sample_id) VALUES (?, ?)`, blob, id,
		); err != nil {
			return fmt.Errorf("failed to index reference %s: %w", id, err)
		}
	}
	logging.Get(logging.CategoryRetrieval).Debug("vector index rebuilt: %d samples, %d dims", len(features), len(keys))
	return nil
}

// indexQuery answers Query through the vec0 index. Returns ok=false
// when the index is empty so the caller falls back to the in-Go scan.
// Query features outside the indexed key set do not contribute to the
// distance.
func (s *Store) indexQuery(ctx context.Context, sample engine.Sample, topK int, similarityFloor float64) ([]engine.Reference, bool, error) {
	if len(s.indexKeys) == 0 {
		return nil, false, nil
	}
	queryBlob := encodeFloat32SliceToBlob(alignToKeys(sample.Features, s.indexKeys))

	// One extra neighbor so leave-self-out cannot shrink the result
	// below topK.
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.sample_id, vec_distance_cosine(v.embedding, ?) AS distance,
			r.features, r.processing, r.known_values
		FROM vec_refs v
		JOIN ref_samples r ON r.id = v.sample_id
		ORDER BY distance ASC
		LIMIT ?`, queryBlob, topK+1)
	if err != nil {
		return nil, false, fmt.Errorf("vector index query failed: %w", err)
	}
	defer rows.Close()

	var refs []engine.Reference
	for rows.Next() {
		var id, featuresJSON, processing, knownJSON string
		var distance float64
		if err := rows.Scan(&id, &distance, &featuresJSON, &processing, &knownJSON); err != nil {
			return nil, false, fmt.Errorf("failed to scan index hit: %w", err)
		}
		if id == sample.ID {
			continue
		}
		similarity := 1 - distance
		if similarity < similarityFloor {
			continue
		}
		var features, known map[string]float64
		if err := json.Unmarshal([]byte(featuresJSON), &features); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(knownJSON), &known); err != nil {
			continue
		}
		refs = append(refs, engine.Reference{
			SampleID:    id,
			Features:    features,
			Processing:  processing,
			KnownValues: known,
			Similarity:  similarity,
		})
		if len(refs) == topK {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("index iteration failed: %w", err)
	}
	return refs, true, nil
}

func alignToKeys(features map[string]float64, keys []string) []float32 {
	out := make([]float32, len(keys))
	for i, k := range keys {
		out[i] = float32(features[k])
	}
	return out
}

func encodeFloat32SliceToBlob(v []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil
	}
	return buf.Bytes()
}
