package engine

import "math"

// ConvergenceChecker decides when iteration has stabilized. All
// methods are synchronous and allocation-light; the orchestrator calls
// them between rounds, never concurrently for the same record.
type ConvergenceChecker struct {
	threshold float64
	floor     float64
}

// DefaultFloor guards the relative-change denominator when the
// previous value is near zero.
const DefaultFloor = 0.1

// NewConvergenceChecker creates a checker. A non-positive floor falls
// back to DefaultFloor.
func NewConvergenceChecker(threshold, floor float64) *ConvergenceChecker {
	if floor <= 0 {
		floor = DefaultFloor
	}
	return &ConvergenceChecker{threshold: threshold, floor: floor}
}

// Threshold returns the configured relative-change threshold.
func (c *ConvergenceChecker) Threshold() float64 { return c.threshold }

// RelativeChange computes abs(curr-prev) / max(abs(prev), floor).
func (c *ConvergenceChecker) RelativeChange(prev, curr float64) float64 {
	return math.Abs(curr-prev) / math.Max(math.Abs(prev), c.floor)
}

// Converged reports whether the pairwise check passes. The comparison
// is strict: a relative change exactly equal to the threshold is NOT
// converged.
func (c *ConvergenceChecker) Converged(prev, curr float64) bool {
	return c.RelativeChange(prev, curr) < c.threshold
}

// Trail returns the pairwise relative changes along a value sequence,
// one entry per consecutive pair. Used by the request composer to show
// the model its own trend.
func (c *ConvergenceChecker) Trail(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	trail := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		trail = append(trail, c.RelativeChange(values[i-1], values[i]))
	}
	return trail
}

// CheckRecord runs the pairwise check on a record's two most recent
// values and marks convergence at the given round. Marking is
// idempotent: a record converged at an earlier round keeps that round
// even if a later pair would also pass. A record with fewer than two
// values is never converged.
func (c *ConvergenceChecker) CheckRecord(rec *IterationRecord, round int) bool {
	if rec.Status == StatusConverged {
		return true
	}
	n := len(rec.Values)
	if n < 2 {
		return false
	}
	if !c.Converged(rec.Values[n-2], rec.Values[n-1]) {
		return false
	}
	rec.Status = StatusConverged
	rec.ConvergedAtRound = round
	return true
}

// CheckSample aggregates across properties: a sample is converged iff
// every target property's record is converged. On the first round where
// that holds, the sample is marked converged and excluded from further
// rounds.
func (c *ConvergenceChecker) CheckSample(state *SampleRunState, round int) bool {
	all := true
	for _, rec := range state.Records {
		if !c.CheckRecord(rec, round) {
			all = false
		}
	}
	if !all {
		return false
	}
	if !state.Converged {
		state.Converged = true
		state.ConvergedAtRound = round
		state.Excluded = true
	}
	return true
}
