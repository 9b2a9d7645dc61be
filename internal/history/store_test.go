package history

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testMeta(runID string) engine.RunMeta {
	return engine.RunMeta{
		RunID:       runID,
		Properties:  []string{"UTS", "El"},
		RoundBudget: 5,
		Threshold:   0.01,
		Floor:       0.1,
		Concurrency: 4,
		EarlyStop:   true,
		SampleCount: 1,
		StartedAt:   time.Now(),
	}
}

func testState(sampleID string) *engine.SampleRunState {
	state := engine.NewSampleRunState(sampleID, []string{"UTS", "El"})
	state.Records["UTS"].Append(1, 850)
	state.Records["El"].Append(1, 4.5)
	return state
}

func TestCreateAndLoadRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, testMeta("run1")))

	state := testState("s1")
	summary := engine.RoundSummary{Round: 1, Attempted: 1, Duration: 120 * time.Millisecond}
	require.NoError(t, store.AppendRound(ctx, "run1", summary, []*engine.SampleRunState{state}, nil))

	loaded, err := store.LoadRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, []string{"UTS", "El"}, loaded.Properties)
	assert.Equal(t, 1, loaded.TotalRounds)
	// Crash-window view: no terminal snapshot yet.
	assert.Empty(t, string(loaded.StopReason))

	require.Len(t, loaded.Rounds, 1)
	assert.Equal(t, 120*time.Millisecond, loaded.Rounds[0].Duration)

	rec := loaded.Samples["s1"].Records["UTS"]
	require.NotNil(t, rec)
	assert.Equal(t, []float64{850}, rec.Values)
	assert.Equal(t, []int{1}, rec.Rounds)
}

func TestLoadRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadRun(context.Background(), "nope")
	assert.Error(t, err)
}

func TestAppendRoundIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, testMeta("run1")))

	state := testState("s1")
	failure := engine.FailureRecord{
		SampleID: "s2", Round: 1, Class: engine.FailureParse,
		Message: "no numbers", Timestamp: time.Now(),
	}
	summary := engine.RoundSummary{Round: 1, Attempted: 2, Failed: 1}

	require.NoError(t, store.AppendRound(ctx, "run1", summary, []*engine.SampleRunState{state}, []engine.FailureRecord{failure}))
	// Replay of the same round, as after a crash between persist and
	// the in-memory round advance.
	require.NoError(t, store.AppendRound(ctx, "run1", summary, []*engine.SampleRunState{state}, []engine.FailureRecord{failure}))

	loaded, err := store.LoadRun(ctx, "run1")
	require.NoError(t, err)
	assert.Len(t, loaded.Rounds, 1, "replayed round must not duplicate its summary")
	assert.Len(t, loaded.Failures, 1, "replayed round must not duplicate failures")
	assert.Equal(t, []float64{850}, loaded.Samples["s1"].Records["UTS"].Values)
	assert.Equal(t, 1, loaded.TotalRounds)
}

func TestAppendRoundAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, testMeta("run1")))

	state := testState("s1")
	require.NoError(t, store.AppendRound(ctx, "run1",
		engine.RoundSummary{Round: 1, Attempted: 1}, []*engine.SampleRunState{state}, nil))

	state.Records["UTS"].Append(2, 855)
	state.Records["El"].Append(2, 4.51)
	state.Converged = true
	state.ConvergedAtRound = 2
	state.Excluded = true
	require.NoError(t, store.AppendRound(ctx, "run1",
		engine.RoundSummary{Round: 2, Attempted: 1, NewlyConverged: 1}, []*engine.SampleRunState{state}, nil))

	loaded, err := store.LoadRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.TotalRounds)
	assert.Equal(t, []float64{850, 855}, loaded.Samples["s1"].Records["UTS"].Values)
	assert.True(t, loaded.Samples["s1"].Converged)
	assert.Equal(t, 2, loaded.Samples["s1"].ConvergedAtRound)
	assert.True(t, loaded.Samples["s1"].Excluded)
}

func TestSaveResultAndMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, testMeta("run1")))

	state := testState("s1")
	require.NoError(t, store.AppendRound(ctx, "run1",
		engine.RoundSummary{Round: 1, Attempted: 1}, []*engine.SampleRunState{state}, nil))

	result := &engine.RunResult{
		RunID:          "run1",
		Properties:     []string{"UTS", "El"},
		TotalRounds:    1,
		StopReason:     engine.StopBudgetExhausted,
		SampleCount:    1,
		ConvergedCount: 0,
		Metrics: []engine.PropertyMetrics{
			{Property: "UTS", Count: 1, MAE: 10, MAPE: math.NaN(), R2: 0.95},
		},
		FinishedAt: time.Now(),
	}
	require.NoError(t, store.SaveResult(ctx, result))

	loaded, err := store.LoadRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, engine.StopBudgetExhausted, loaded.StopReason)
	require.Len(t, loaded.Metrics, 1)
	assert.Equal(t, 10.0, loaded.Metrics[0].MAE)
	assert.True(t, math.IsNaN(loaded.Metrics[0].MAPE), "NULL round-trips to NaN")
	assert.Equal(t, 0.95, loaded.Metrics[0].R2)
}

func TestReadSample(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, testMeta("run1")))

	state := testState("s1")
	failure := engine.FailureRecord{
		SampleID: "s1", Round: 2, Class: engine.FailureTransient,
		Message: "rate limited", Timestamp: time.Now(),
	}
	require.NoError(t, store.AppendRound(ctx, "run1",
		engine.RoundSummary{Round: 1, Attempted: 1}, []*engine.SampleRunState{state}, nil))
	require.NoError(t, store.AppendRound(ctx, "run1",
		engine.RoundSummary{Round: 2, Attempted: 1, Failed: 1}, []*engine.SampleRunState{state}, []engine.FailureRecord{failure}))

	got, err := store.ReadSample(ctx, "run1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SampleID)
	assert.Equal(t, []float64{850}, got.Records["UTS"].Values)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, engine.FailureTransient, got.Failures[0].Class)

	_, err = store.ReadSample(ctx, "run1", "missing")
	assert.Error(t, err)
}
