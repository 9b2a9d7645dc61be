//go:build !sqlite_vec || !cgo

package retrieval

import (
	"context"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
)

// Without the sqlite-vec build the Go cosine scan in store.go serves
// every query.

func (s *Store) rebuildIndex(ctx context.Context) error { return nil }

func (s *Store) indexQuery(ctx context.Context, sample engine.Sample, topK int, similarityFloor float64) ([]engine.Reference, bool, error) {
	return nil, false, nil
}
