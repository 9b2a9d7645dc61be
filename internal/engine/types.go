// Package engine implements the iterative prediction core: repeated
// rounds of retrieval-augmented property estimation per sample, with
// per-sample convergence decisions, bounded-concurrency rounds,
// failure isolation, and a resumable iteration history.
package engine

import (
	"context"
	"time"
)

// Sample is one input record. Immutable once a run starts.
type Sample struct {
	ID string `json:"id"`

	// Features holds numeric composition/processing features.
	Features map[string]float64 `json:"features"`

	// Processing is an optional free-text processing description.
	Processing string `json:"processing,omitempty"`

	// KnownValues holds measured true values, used only for evaluation.
	KnownValues map[string]float64 `json:"known_values,omitempty"`
}

// ConvergenceStatus is the per-property convergence state.
type ConvergenceStatus string

const (
	StatusNotConverged ConvergenceStatus = "not_converged"
	StatusConverged    ConvergenceStatus = "converged"
)

// IterationRecord tracks one target property of one sample across
// rounds. Values is append-only, one entry per round in which the
// sample's attempt succeeded; Rounds holds the matching round indexes.
type IterationRecord struct {
	Property string            `json:"property"`
	Values   []float64         `json:"values"`
	Rounds   []int             `json:"rounds"`
	Status   ConvergenceStatus `json:"status"`

	// ConvergedAtRound is the round at which the pairwise check first
	// succeeded. Zero means not yet converged. Never overwritten.
	ConvergedAtRound int `json:"converged_at_round,omitempty"`
}

// Append records a value for a round. A value is appended at most once
// per round index.
func (r *IterationRecord) Append(round int, value float64) {
	if n := len(r.Rounds); n > 0 && r.Rounds[n-1] >= round {
		return
	}
	r.Values = append(r.Values, value)
	r.Rounds = append(r.Rounds, round)
}

// Latest returns the most recent value, or false when empty.
func (r *IterationRecord) Latest() (float64, bool) {
	if len(r.Values) == 0 {
		return 0, false
	}
	return r.Values[len(r.Values)-1], true
}

// SampleRunState aggregates all of one sample's iteration records.
type SampleRunState struct {
	SampleID string                      `json:"sample_id"`
	Records  map[string]*IterationRecord `json:"records"`
	Failures []FailureRecord             `json:"failures,omitempty"`

	// Converged is set once every property's record has converged.
	Converged        bool `json:"converged"`
	ConvergedAtRound int  `json:"converged_at_round,omitempty"`

	// Excluded removes the sample from further rounds: converged, or
	// permanently failed.
	Excluded bool `json:"excluded"`
}

// NewSampleRunState creates empty records for each target property.
func NewSampleRunState(sampleID string, properties []string) *SampleRunState {
	records := make(map[string]*IterationRecord, len(properties))
	for _, p := range properties {
		records[p] = &IterationRecord{Property: p, Status: StatusNotConverged}
	}
	return &SampleRunState{SampleID: sampleID, Records: records}
}

// FinalValues returns the latest value per property.
func (s *SampleRunState) FinalValues() map[string]float64 {
	out := make(map[string]float64, len(s.Records))
	for prop, rec := range s.Records {
		if v, ok := rec.Latest(); ok {
			out[prop] = v
		}
	}
	return out
}

// FailureRecord attributes one failed attempt to a sample and round.
// Append-only; kept to support selective retry.
type FailureRecord struct {
	SampleID  string       `json:"sample_id"`
	Round     int          `json:"round"`
	Class     FailureClass `json:"class"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// RoundSummary describes one completed round. Append-only; used for
// progress reporting, never for control decisions.
type RoundSummary struct {
	Round          int           `json:"round"`
	Attempted      int           `json:"attempted"`
	NewlyConverged int           `json:"newly_converged"`
	Failed         int           `json:"failed"`
	Duration       time.Duration `json:"duration"`
}

// StopReason explains why a run ended.
type StopReason string

const (
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopAllConverged    StopReason = "all_converged"
	StopCancelled       StopReason = "cancelled"
)

// PropertyMetrics holds evaluation metrics for one target property,
// computed against known true values at finalization.
type PropertyMetrics struct {
	Property string  `json:"property"`
	Count    int     `json:"count"`
	MAE      float64 `json:"mae"`
	MAPE     float64 `json:"mape"`
	R2       float64 `json:"r2"`
}

// RunResult is the terminal snapshot of a run. Immutable once created.
type RunResult struct {
	RunID       string `json:"run_id"`
	SourceRunID string `json:"source_run_id,omitempty"`

	Properties  []string   `json:"properties"`
	TotalRounds int        `json:"total_rounds"`
	StopReason  StopReason `json:"stop_reason"`

	SampleCount    int `json:"sample_count"`
	ConvergedCount int `json:"converged_count"`
	FailedCount    int `json:"failed_count"`

	Samples  map[string]*SampleRunState `json:"samples"`
	Rounds   []RoundSummary             `json:"rounds"`
	Failures []FailureRecord            `json:"failures"`
	Metrics  []PropertyMetrics          `json:"metrics,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Status is the live view of a running or finished run.
type Status struct {
	RunID          string     `json:"run_id"`
	Round          int        `json:"round"`
	ActiveCount    int        `json:"active_count"`
	ConvergedCount int        `json:"converged_count"`
	FailedCount    int        `json:"failed_count"`
	StopReason     StopReason `json:"stop_reason,omitempty"`
}

// Reference is a similar known sample supplied to the model as context.
type Reference struct {
	SampleID    string             `json:"sample_id"`
	Features    map[string]float64 `json:"features"`
	Processing  string             `json:"processing,omitempty"`
	KnownValues map[string]float64 `json:"known_values"`
	Similarity  float64            `json:"similarity"`
}

// Retriever returns reference samples similar to the query sample.
// An empty result is not an error; only transport failures are.
type Retriever interface {
	Query(ctx context.Context, sample Sample, topK int, similarityFloor float64) ([]Reference, error)
}

// ModelInvoker sends a composed request and returns raw model text.
type ModelInvoker interface {
	Invoke(ctx context.Context, request string) (string, error)
}

// HistoryStore persists run state incrementally so a long run survives
// process restarts without losing completed rounds.
type HistoryStore interface {
	// CreateRun registers run metadata before the first round.
	CreateRun(ctx context.Context, meta RunMeta) error

	// AppendRound persists one completed round. Idempotent with respect
	// to round index: calling it twice with the same round must not
	// duplicate data.
	AppendRound(ctx context.Context, runID string, summary RoundSummary, updated []*SampleRunState, failures []FailureRecord) error

	// SaveResult persists the terminal snapshot.
	SaveResult(ctx context.Context, result *RunResult) error

	// LoadRun returns whatever has been persisted so far, including for
	// runs that crashed mid-round.
	LoadRun(ctx context.Context, runID string) (*RunResult, error)

	// ReadSample returns a single sample's state without materializing
	// the full run.
	ReadSample(ctx context.Context, runID, sampleID string) (*SampleRunState, error)
}

// RunMeta is the global metadata persisted at run creation.
type RunMeta struct {
	RunID       string    `json:"run_id"`
	SourceRunID string    `json:"source_run_id,omitempty"`
	Properties  []string  `json:"properties"`
	RoundBudget int       `json:"round_budget"`
	Threshold   float64   `json:"threshold"`
	Floor       float64   `json:"floor"`
	Concurrency int       `json:"concurrency"`
	EarlyStop   bool      `json:"early_stop"`
	SampleCount int       `json:"sample_count"`
	StartedAt   time.Time `json:"started_at"`
}
