package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/config"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/logging"
)

// Orchestrator drives the predict → check → continue/stop loop across
// all samples. Rounds are strictly sequential: round N+1 never starts
// scheduling until every attempt of round N has completed, so all of
// round N's appended values are visible to round N+1's convergence
// checks.
type Orchestrator struct {
	cfg       config.EngineConfig
	topK      int
	simFloor  float64
	retriever Retriever
	invoker   ModelInvoker
	composer  *Composer
	checker   *ConvergenceChecker
	history   HistoryStore

	mu   sync.RWMutex
	live map[string]*Status
}

// Options bundle the orchestrator's construction-time configuration.
type Options struct {
	Engine          config.EngineConfig
	TopK            int
	SimilarityFloor float64
}

// New creates an orchestrator. All collaborators are injected; nothing
// is read from ambient globals during execution.
func New(opts Options, retriever Retriever, invoker ModelInvoker, history HistoryStore) *Orchestrator {
	checker := NewConvergenceChecker(opts.Engine.Threshold, opts.Engine.Floor)
	return &Orchestrator{
		cfg:       opts.Engine,
		topK:      opts.TopK,
		simFloor:  opts.SimilarityFloor,
		retriever: retriever,
		invoker:   invoker,
		composer:  NewComposer(checker),
		checker:   checker,
		history:   history,
		live:      make(map[string]*Status),
	}
}

// Run executes a fresh prediction run over the given samples and
// target properties, blocking until the run finalizes.
func (o *Orchestrator) Run(ctx context.Context, samples []Sample, properties []string) (*RunResult, error) {
	if err := validateInput(samples, properties); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	states := make(map[string]*SampleRunState, len(samples))
	for _, s := range samples {
		states[s.ID] = NewSampleRunState(s.ID, properties)
	}
	return o.run(ctx, runID, "", samples, properties, 0, states)
}

// Retry starts a new run continuing a prior one for a subset of sample
// ids (defaulting to the prior run's failed set). The new run seeds its
// records from the prior run's last successful round and continues the
// round sequence; the prior run's persisted records are never mutated.
func (o *Orchestrator) Retry(ctx context.Context, priorRunID string, sampleIDs []string, samples []Sample, properties []string) (*RunResult, error) {
	prior, err := o.history.LoadRun(ctx, priorRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior run %s: %w", priorRunID, err)
	}

	if len(sampleIDs) == 0 {
		seen := map[string]bool{}
		for _, f := range prior.Failures {
			if !seen[f.SampleID] {
				seen[f.SampleID] = true
				sampleIDs = append(sampleIDs, f.SampleID)
			}
		}
		sort.Strings(sampleIDs)
	}
	if len(sampleIDs) == 0 {
		return nil, fmt.Errorf("run %s has no failed samples to retry", priorRunID)
	}

	wanted := map[string]bool{}
	for _, id := range sampleIDs {
		wanted[id] = true
	}
	var subset []Sample
	for _, s := range samples {
		if wanted[s.ID] {
			subset = append(subset, s)
		}
	}
	if len(subset) != len(sampleIDs) {
		return nil, fmt.Errorf("retry needs the input samples for all %d ids, got %d", len(sampleIDs), len(subset))
	}
	if err := validateInput(subset, properties); err != nil {
		return nil, err
	}

	// Seed from the prior run: copied records, re-included for
	// iteration. The copies belong to the new run; the back-reference
	// is the id, not shared state.
	states := make(map[string]*SampleRunState, len(subset))
	for _, s := range subset {
		state := NewSampleRunState(s.ID, properties)
		if priorState, ok := prior.Samples[s.ID]; ok {
			for _, p := range properties {
				priorRec, ok := priorState.Records[p]
				if !ok {
					continue
				}
				rec := state.Records[p]
				rec.Values = append([]float64(nil), priorRec.Values...)
				rec.Rounds = append([]int(nil), priorRec.Rounds...)
			}
		}
		states[s.ID] = state
	}

	runID := uuid.NewString()
	logging.Engine("retry run %s continuing %s from round %d (%d samples)",
		runID, priorRunID, prior.TotalRounds, len(subset))
	return o.run(ctx, runID, priorRunID, subset, properties, prior.TotalRounds, states)
}

// Status reports live progress for an in-flight run, falling back to
// persisted state for finished or crashed runs.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*Status, error) {
	o.mu.RLock()
	if st, ok := o.live[runID]; ok {
		copied := *st
		o.mu.RUnlock()
		return &copied, nil
	}
	o.mu.RUnlock()

	result, err := o.history.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return StatusFromResult(result), nil
}

// run is the Init → PredictRound → CheckConvergence → Finalize loop.
func (o *Orchestrator) run(ctx context.Context, runID, sourceRunID string, samples []Sample, properties []string, startRound int, states map[string]*SampleRunState) (*RunResult, error) {
	started := time.Now()
	meta := RunMeta{
		RunID:       runID,
		SourceRunID: sourceRunID,
		Properties:  properties,
		RoundBudget: o.cfg.RoundBudget,
		Threshold:   o.cfg.Threshold,
		Floor:       o.cfg.Floor,
		Concurrency: o.cfg.Concurrency,
		EarlyStop:   o.cfg.EarlyStop,
		SampleCount: len(samples),
		StartedAt:   started,
	}
	if err := o.history.CreateRun(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	o.setLive(runID, &Status{RunID: runID, Round: startRound, ActiveCount: len(samples)})
	defer o.clearLive(runID)

	byID := make(map[string]Sample, len(samples))
	order := make([]string, 0, len(samples))
	for _, s := range samples {
		byID[s.ID] = s
		order = append(order, s.ID)
	}

	var (
		rounds      []RoundSummary
		allFailures []FailureRecord
		round       = startRound
		cancelled   bool
		fatalErr    error
	)

	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if round >= o.cfg.RoundBudget {
			break
		}

		active := activeIDs(order, states)
		round++
		roundStart := time.Now()

		results := o.predictRound(ctx, round, active, byID, states, properties)

		// Merge strictly after the round barrier. Each attempt owned
		// its result slot exclusively; counters are reduced here, never
		// incremented concurrently.
		var appended []string
		var roundFailures []FailureRecord
		for _, res := range results {
			if res.err != nil {
				failure := FailureRecord{
					SampleID:  res.err.SampleID,
					Round:     round,
					Class:     res.err.Class,
					Message:   res.err.Err.Error(),
					Timestamp: time.Now(),
				}
				states[res.sampleID].Failures = append(states[res.sampleID].Failures, failure)
				roundFailures = append(roundFailures, failure)
				if round == 1 && res.err.Class == FailureAuth {
					fatalErr = fmt.Errorf("authentication failed on first round, aborting run: %w", res.err)
				}
				continue
			}
			state := states[res.sampleID]
			for _, p := range properties {
				state.Records[p].Append(round, res.values[p])
			}
			appended = append(appended, res.sampleID)
		}

		newlyConverged := 0
		for _, id := range appended {
			if o.checker.CheckSample(states[id], round) {
				newlyConverged++
			}
		}

		summary := RoundSummary{
			Round:          round,
			Attempted:      len(active),
			NewlyConverged: newlyConverged,
			Failed:         len(roundFailures),
			Duration:       time.Since(roundStart),
		}
		rounds = append(rounds, summary)
		allFailures = append(allFailures, roundFailures...)

		// Incremental persist so completed rounds survive restarts.
		updated := make([]*SampleRunState, 0, len(active))
		for _, id := range active {
			updated = append(updated, states[id])
		}
		if err := o.history.AppendRound(ctx, runID, summary, updated, roundFailures); err != nil {
			return nil, fmt.Errorf("failed to persist round %d: %w", round, err)
		}

		remaining := len(activeIDs(order, states))
		o.setLive(runID, &Status{
			RunID:          runID,
			Round:          round,
			ActiveCount:    remaining,
			ConvergedCount: convergedCount(states),
			FailedCount:    failedSampleCount(states),
		})
		logging.Engine("run %s round %d: attempted=%d converged=%d failed=%d took=%v",
			runID, round, summary.Attempted, summary.NewlyConverged, summary.Failed, summary.Duration)

		if fatalErr != nil {
			break
		}
		if round >= o.cfg.RoundBudget {
			break
		}
		if o.cfg.EarlyStop && remaining == 0 {
			break
		}
		if ctx.Err() != nil {
			cancelled = true
			break
		}
	}

	result := o.finalize(ctx, runID, sourceRunID, byID, states, properties, rounds, allFailures, round, cancelled, started)
	if fatalErr != nil {
		return result, fatalErr
	}
	return result, nil
}

// attemptResult is written by exactly one round task and read only
// after the round barrier.
type attemptResult struct {
	sampleID string
	values   map[string]float64
	err      *AttemptError
}

// predictRound schedules one attempt per active sample under the
// bounded worker limit and waits for all of them: the round barrier.
// Attempt failures never cancel sibling attempts.
func (o *Orchestrator) predictRound(ctx context.Context, round int, active []string, byID map[string]Sample, states map[string]*SampleRunState, properties []string) []attemptResult {
	results := make([]attemptResult, len(active))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, id := range active {
		i, id := i, id
		g.Go(func() error {
			values, err := o.attempt(ctx, round, byID[id], states[id], properties)
			if err != nil {
				results[i] = attemptResult{sampleID: id, err: &AttemptError{
					SampleID: id, Round: round, Class: Classify(err), Err: err,
				}}
				return nil
			}
			results[i] = attemptResult{sampleID: id, values: values}
			return nil
		})
	}
	g.Wait()
	return results
}

// attempt runs Retriever → Composer → ModelInvoker → Parser for one
// sample. It blocks only on the retriever and invoker calls.
func (o *Orchestrator) attempt(ctx context.Context, round int, sample Sample, state *SampleRunState, properties []string) (map[string]float64, error) {
	refs, err := o.retriever.Query(ctx, sample, o.topK, o.simFloor)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	request := o.composer.Compose(ComposeInput{
		Sample:     sample,
		References: refs,
		Properties: properties,
		Round:      round,
		State:      state,
	})

	raw, err := o.invokeWithRetry(ctx, request)
	if err != nil {
		return nil, err
	}

	parsed := ParseResponse(raw, properties)
	if !parsed.Complete() {
		var missing []string
		for _, p := range properties {
			if _, ok := parsed.Values[p]; !ok {
				missing = append(missing, p)
			}
		}
		return nil, &ParseError{Missing: missing, Details: parsed.Errors}
	}

	for _, p := range properties {
		if r, ok := o.cfg.ValidationRanges[p]; ok {
			if v := parsed.Values[p]; v < r.Min || v > r.Max {
				return nil, &ValidationError{Property: p, Value: v, Min: r.Min, Max: r.Max}
			}
		}
	}
	return parsed.Values, nil
}

// invokeWithRetry retries transient failures with doubling backoff.
// Auth and protocol errors surface immediately.
func (o *Orchestrator) invokeWithRetry(ctx context.Context, request string) (string, error) {
	backoff := o.cfg.RetryBackoff.Std()
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxAttemptRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff << (attempt - 1)):
			}
		}
		raw, err := o.invoker.Invoke(ctx, request)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if Classify(err) != FailureTransient || ctx.Err() != nil {
			return "", err
		}
		logging.APIDebug("transient invoke failure (attempt %d/%d): %v", attempt+1, o.cfg.MaxAttemptRetries+1, err)
	}
	return "", fmt.Errorf("all %d attempts failed: %w", o.cfg.MaxAttemptRetries+1, lastErr)
}

// finalize builds and persists the terminal RunResult.
func (o *Orchestrator) finalize(ctx context.Context, runID, sourceRunID string, byID map[string]Sample, states map[string]*SampleRunState, properties []string, rounds []RoundSummary, failures []FailureRecord, totalRounds int, cancelled bool, started time.Time) *RunResult {
	stop := StopBudgetExhausted
	switch {
	case cancelled:
		stop = StopCancelled
	case len(activeIDsAll(states)) == 0:
		stop = StopAllConverged
	}

	result := &RunResult{
		RunID:          runID,
		SourceRunID:    sourceRunID,
		Properties:     properties,
		TotalRounds:    totalRounds,
		StopReason:     stop,
		SampleCount:    len(states),
		ConvergedCount: convergedCount(states),
		FailedCount:    failedSampleCount(states),
		Samples:        states,
		Rounds:         rounds,
		Failures:       failures,
		Metrics:        computeMetrics(byID, states, properties),
		StartedAt:      started,
		FinishedAt:     time.Now(),
	}

	if err := o.history.SaveResult(ctx, result); err != nil {
		logging.Get(logging.CategoryHistory).Error("failed to persist result for run %s: %v", runID, err)
	}
	logging.Engine("run %s finished: rounds=%d stop=%s converged=%d/%d failed=%d",
		runID, totalRounds, stop, result.ConvergedCount, result.SampleCount, result.FailedCount)
	return result
}

func (o *Orchestrator) setLive(runID string, st *Status) {
	o.mu.Lock()
	o.live[runID] = st
	o.mu.Unlock()
}

func (o *Orchestrator) clearLive(runID string) {
	o.mu.Lock()
	delete(o.live, runID)
	o.mu.Unlock()
}

func validateInput(samples []Sample, properties []string) error {
	if len(samples) == 0 {
		return fmt.Errorf("no samples provided")
	}
	if len(properties) == 0 {
		return fmt.Errorf("no target properties provided")
	}
	seen := map[string]bool{}
	for _, s := range samples {
		if s.ID == "" {
			return fmt.Errorf("sample with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate sample id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func activeIDs(order []string, states map[string]*SampleRunState) []string {
	var out []string
	for _, id := range order {
		if !states[id].Excluded {
			out = append(out, id)
		}
	}
	return out
}

func activeIDsAll(states map[string]*SampleRunState) []string {
	var out []string
	for id, st := range states {
		if !st.Excluded {
			out = append(out, id)
		}
	}
	return out
}

func convergedCount(states map[string]*SampleRunState) int {
	n := 0
	for _, st := range states {
		if st.Converged {
			n++
		}
	}
	return n
}

func failedSampleCount(states map[string]*SampleRunState) int {
	n := 0
	for _, st := range states {
		if len(st.Failures) > 0 {
			n++
		}
	}
	return n
}

// StatusFromResult derives the progress view from a persisted run,
// possibly partial for runs that crashed mid-round.
func StatusFromResult(result *RunResult) *Status {
	active := 0
	for _, st := range result.Samples {
		if !st.Excluded {
			active++
		}
	}
	return &Status{
		RunID:          result.RunID,
		Round:          result.TotalRounds,
		ActiveCount:    active,
		ConvergedCount: result.ConvergedCount,
		FailedCount:    result.FailedCount,
		StopReason:     result.StopReason,
	}
}
