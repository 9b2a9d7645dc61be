package engine

import "math"

// computeMetrics evaluates final predictions against known true values.
// Samples without a known value for a property are skipped; a property
// with no evaluable samples gets no metrics entry.
func computeMetrics(byID map[string]Sample, states map[string]*SampleRunState, properties []string) []PropertyMetrics {
	var out []PropertyMetrics
	for _, p := range properties {
		var preds, truths []float64
		for id, state := range states {
			sample, ok := byID[id]
			if !ok {
				continue
			}
			truth, ok := sample.KnownValues[p]
			if !ok {
				continue
			}
			rec, ok := state.Records[p]
			if !ok {
				continue
			}
			pred, ok := rec.Latest()
			if !ok {
				continue
			}
			preds = append(preds, pred)
			truths = append(truths, truth)
		}
		if len(preds) == 0 {
			continue
		}
		out = append(out, PropertyMetrics{
			Property: p,
			Count:    len(preds),
			MAE:      meanAbsoluteError(preds, truths),
			MAPE:     meanAbsolutePercentageError(preds, truths),
			R2:       rSquared(preds, truths),
		})
	}
	return out
}

func meanAbsoluteError(preds, truths []float64) float64 {
	sum := 0.0
	for i := range preds {
		sum += math.Abs(preds[i] - truths[i])
	}
	return sum / float64(len(preds))
}

// meanAbsolutePercentageError skips zero truths to avoid division by
// zero; returns NaN if nothing remains.
func meanAbsolutePercentageError(preds, truths []float64) float64 {
	sum := 0.0
	n := 0
	for i := range preds {
		if truths[i] == 0 {
			continue
		}
		sum += math.Abs((preds[i] - truths[i]) / truths[i])
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n) * 100
}

func rSquared(preds, truths []float64) float64 {
	mean := 0.0
	for _, t := range truths {
		mean += t
	}
	mean /= float64(len(truths))

	var ssRes, ssTot float64
	for i := range truths {
		ssRes += (truths[i] - preds[i]) * (truths[i] - preds[i])
		ssTot += (truths[i] - mean) * (truths[i] - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return math.NaN()
	}
	return 1 - ssRes/ssTot
}
