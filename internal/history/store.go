// Package history persists run state to SQLite: global run metadata,
// per-sample per-property value sequences with convergence rounds, an
// append-only failure list, and round summaries. Each completed round
// is persisted incrementally so a crashed run can be inspected and
// retried without recomputing finished rounds.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/logging"
)

// Store implements engine.HistoryStore on SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Compile-time assertion that Store implements the engine contract.
var _ engine.HistoryStore = (*Store)(nil)

// NewStore opens (or creates) the history database at the given path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Get(logging.CategoryHistory).Debug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryHistory).Debug("failed to set journal_mode=WAL: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logging.History("history store opened at %s", path)
	return &Store{db: db, dbPath: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun registers run metadata before the first round.
func (s *Store) CreateRun(ctx context.Context, meta engine.RunMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, err := json.Marshal(meta.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, source_run_id, properties, round_budget, threshold, floor,
			concurrency, early_stop, sample_count, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.RunID, meta.SourceRunID, string(props), meta.RoundBudget, meta.Threshold,
		meta.Floor, meta.Concurrency, boolToInt(meta.EarlyStop), meta.SampleCount, meta.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", meta.RunID, err)
	}
	return nil
}

// AppendRound persists one completed round inside a transaction.
// Idempotent with respect to round index: the round row, predictions,
// and record state are keyed upserts, and the round's failure rows are
// replaced wholesale.
func (s *Store) AppendRound(ctx context.Context, runID string, summary engine.RoundSummary, updated []*engine.SampleRunState, failures []engine.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO rounds (run_id, round, attempted, newly_converged, failed, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, summary.Round, summary.Attempted, summary.NewlyConverged, summary.Failed,
		summary.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("failed to write round summary: %w", err)
	}

	for _, state := range updated {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO sample_states (run_id, sample_id, converged, converged_at_round, excluded)
			VALUES (?, ?, ?, ?, ?)`,
			runID, state.SampleID, boolToInt(state.Converged), state.ConvergedAtRound, boolToInt(state.Excluded),
		); err != nil {
			return fmt.Errorf("failed to write sample state %s: %w", state.SampleID, err)
		}
		for _, rec := range state.Records {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO records (run_id, sample_id, property, status, converged_at_round)
				VALUES (?, ?, ?, ?, ?)`,
				runID, state.SampleID, rec.Property, string(rec.Status), rec.ConvergedAtRound,
			); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
			for i, round := range rec.Rounds {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR REPLACE INTO predictions (run_id, sample_id, property, round, value)
					VALUES (?, ?, ?, ?, ?)`,
					runID, state.SampleID, rec.Property, round, rec.Values[i],
				); err != nil {
					return fmt.Errorf("failed to write prediction: %w", err)
				}
			}
		}
	}

	// Failure rows carry an autoincrement id, so replay-safe persistence
	// replaces the round's slice instead of blind inserts.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM failures WHERE run_id = ? AND round = ?`, runID, summary.Round,
	); err != nil {
		return fmt.Errorf("failed to clear round failures: %w", err)
	}
	for _, f := range failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO failures (run_id, sample_id, round, class, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, f.SampleID, f.Round, string(f.Class), f.Message, f.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to write failure: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET total_rounds = MAX(total_rounds, ?) WHERE id = ?`,
		summary.Round, runID,
	); err != nil {
		return fmt.Errorf("failed to bump total_rounds: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit round %d: %w", summary.Round, err)
	}
	return nil
}

// SaveResult records the terminal snapshot: stop reason, counts, and
// evaluation metrics.
func (s *Store) SaveResult(ctx context.Context, result *engine.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET total_rounds = ?, stop_reason = ?, converged_count = ?,
			failed_count = ?, finished_at = ?
		WHERE id = ?`,
		result.TotalRounds, string(result.StopReason), result.ConvergedCount,
		result.FailedCount, result.FinishedAt, result.RunID,
	); err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	for _, m := range result.Metrics {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO metrics (run_id, property, count, mae, mape, r2)
			VALUES (?, ?, ?, ?, ?, ?)`,
			result.RunID, m.Property, m.Count, nullableFloat(m.MAE), nullableFloat(m.MAPE), nullableFloat(m.R2),
		); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	logging.History("run %s finalized: %s after %d rounds", result.RunID, result.StopReason, result.TotalRounds)
	return nil
}

// LoadRun returns whatever has been persisted so far. Runs that crashed
// mid-round load with an empty stop reason and the rounds completed
// before the crash.
func (s *Store) LoadRun(ctx context.Context, runID string) (*engine.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &engine.RunResult{RunID: runID, Samples: map[string]*engine.SampleRunState{}}

	var propsJSON, stopReason string
	var finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT source_run_id, properties, total_rounds, stop_reason, sample_count,
			converged_count, failed_count, started_at, finished_at
		FROM runs WHERE id = ?`, runID,
	).Scan(&result.SourceRunID, &propsJSON, &result.TotalRounds, &stopReason,
		&result.SampleCount, &result.ConvergedCount, &result.FailedCount,
		&result.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	result.StopReason = engine.StopReason(stopReason)
	if finishedAt.Valid {
		result.FinishedAt = finishedAt.Time
	}
	if err := json.Unmarshal([]byte(propsJSON), &result.Properties); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}

	if err := s.loadRounds(ctx, result); err != nil {
		return nil, err
	}
	if err := s.loadSamples(ctx, result); err != nil {
		return nil, err
	}
	if err := s.loadFailures(ctx, result); err != nil {
		return nil, err
	}
	if err := s.loadMetrics(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ReadSample returns one sample's state without materializing the
// whole run.
func (s *Store) ReadSample(ctx context.Context, runID, sampleID string) (*engine.SampleRunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &engine.SampleRunState{SampleID: sampleID, Records: map[string]*engine.IterationRecord{}}

	var converged, excluded int
	err := s.db.QueryRowContext(ctx, `
		SELECT converged, converged_at_round, excluded
		FROM sample_states WHERE run_id = ? AND sample_id = ?`, runID, sampleID,
	).Scan(&converged, &state.ConvergedAtRound, &excluded)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sample %s not found in run %s", sampleID, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sample state: %w", err)
	}
	state.Converged = converged != 0
	state.Excluded = excluded != 0

	if err := s.loadRecords(ctx, runID, sampleID, state); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT round, class, message, created_at FROM failures
		WHERE run_id = ? AND sample_id = ? ORDER BY round`, runID, sampleID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		f := engine.FailureRecord{SampleID: sampleID}
		var class string
		if err := rows.Scan(&f.Round, &class, &f.Message, &f.Timestamp); err != nil {
			return nil, err
		}
		f.Class = engine.FailureClass(class)
		state.Failures = append(state.Failures, f)
	}
	return state, rows.Err()
}

func (s *Store) loadRounds(ctx context.Context, result *engine.RunResult) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, attempted, newly_converged, failed, duration_ms
		FROM rounds WHERE run_id = ? ORDER BY round`, result.RunID)
	if err != nil {
		return fmt.Errorf("failed to load rounds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r engine.RoundSummary
		var durationMS int64
		if err := rows.Scan(&r.Round, &r.Attempted, &r.NewlyConverged, &r.Failed, &durationMS); err != nil {
			return err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		result.Rounds = append(result.Rounds, r)
	}
	return rows.Err()
}

func (s *Store) loadSamples(ctx context.Context, result *engine.RunResult) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_id, converged, converged_at_round, excluded
		FROM sample_states WHERE run_id = ?`, result.RunID)
	if err != nil {
		return fmt.Errorf("failed to load sample states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		state := &engine.SampleRunState{Records: map[string]*engine.IterationRecord{}}
		var converged, excluded int
		if err := rows.Scan(&state.SampleID, &converged, &state.ConvergedAtRound, &excluded); err != nil {
			return err
		}
		state.Converged = converged != 0
		state.Excluded = excluded != 0
		result.Samples[state.SampleID] = state
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, state := range result.Samples {
		if err := s.loadRecords(ctx, result.RunID, state.SampleID, state); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadRecords(ctx context.Context, runID, sampleID string, state *engine.SampleRunState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT property, status, converged_at_round
		FROM records WHERE run_id = ? AND sample_id = ?`, runID, sampleID)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec := &engine.IterationRecord{}
		var status string
		if err := rows.Scan(&rec.Property, &status, &rec.ConvergedAtRound); err != nil {
			return err
		}
		rec.Status = engine.ConvergenceStatus(status)
		state.Records[rec.Property] = rec
	}
	if err := rows.Err(); err != nil {
		return err
	}

	vrows, err := s.db.QueryContext(ctx, `
		SELECT property, round, value FROM predictions
		WHERE run_id = ? AND sample_id = ? ORDER BY property, round`, runID, sampleID)
	if err != nil {
		return fmt.Errorf("failed to load predictions: %w", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var property string
		var round int
		var value float64
		if err := vrows.Scan(&property, &round, &value); err != nil {
			return err
		}
		rec, ok := state.Records[property]
		if !ok {
			rec = &engine.IterationRecord{Property: property, Status: engine.StatusNotConverged}
			state.Records[property] = rec
		}
		rec.Values = append(rec.Values, value)
		rec.Rounds = append(rec.Rounds, round)
	}
	return vrows.Err()
}

func (s *Store) loadFailures(ctx context.Context, result *engine.RunResult) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_id, round, class, message, created_at FROM failures
		WHERE run_id = ? ORDER BY round, id`, result.RunID)
	if err != nil {
		return fmt.Errorf("failed to load failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f engine.FailureRecord
		var class string
		if err := rows.Scan(&f.SampleID, &f.Round, &class, &f.Message, &f.Timestamp); err != nil {
			return err
		}
		f.Class = engine.FailureClass(class)
		result.Failures = append(result.Failures, f)
		if state, ok := result.Samples[f.SampleID]; ok {
			state.Failures = append(state.Failures, f)
		}
	}
	return rows.Err()
}

func (s *Store) loadMetrics(ctx context.Context, result *engine.RunResult) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT property, count, mae, mape, r2 FROM metrics
		WHERE run_id = ? ORDER BY property`, result.RunID)
	if err != nil {
		return fmt.Errorf("failed to load metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m engine.PropertyMetrics
		var mae, mape, r2 sql.NullFloat64
		if err := rows.Scan(&m.Property, &m.Count, &mae, &mape, &r2); err != nil {
			return err
		}
		m.MAE = floatOrNaN(mae)
		m.MAPE = floatOrNaN(mape)
		m.R2 = floatOrNaN(r2)
		result.Metrics = append(result.Metrics, m)
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableFloat maps NaN to NULL: SQLite has no NaN representation.
func nullableFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
