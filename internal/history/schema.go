package history

// Schema for run history. Predictions are keyed by
// (run, sample, property, round) so re-persisting a round replaces
// rather than duplicates, and single-sample reads never touch the
// rest of the run.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	source_run_id   TEXT NOT NULL DEFAULT '',
	properties      TEXT NOT NULL,
	round_budget    INTEGER NOT NULL,
	threshold       REAL NOT NULL,
	floor           REAL NOT NULL,
	concurrency     INTEGER NOT NULL,
	early_stop      INTEGER NOT NULL,
	sample_count    INTEGER NOT NULL,
	total_rounds    INTEGER NOT NULL DEFAULT 0,
	stop_reason     TEXT NOT NULL DEFAULT '',
	converged_count INTEGER NOT NULL DEFAULT 0,
	failed_count    INTEGER NOT NULL DEFAULT 0,
	started_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rounds (
	run_id          TEXT NOT NULL,
	round           INTEGER NOT NULL,
	attempted       INTEGER NOT NULL,
	newly_converged INTEGER NOT NULL,
	failed          INTEGER NOT NULL,
	duration_ms     INTEGER NOT NULL,
	PRIMARY KEY (run_id, round)
);

CREATE TABLE IF NOT EXISTS predictions (
	run_id    TEXT NOT NULL,
	sample_id TEXT NOT NULL,
	property  TEXT NOT NULL,
	round     INTEGER NOT NULL,
	value     REAL NOT NULL,
	PRIMARY KEY (run_id, sample_id, property, round)
);

CREATE TABLE IF NOT EXISTS records (
	run_id             TEXT NOT NULL,
	sample_id          TEXT NOT NULL,
	property           TEXT NOT NULL,
	status             TEXT NOT NULL,
	converged_at_round INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, sample_id, property)
);

CREATE TABLE IF NOT EXISTS sample_states (
	run_id             TEXT NOT NULL,
	sample_id          TEXT NOT NULL,
	converged          INTEGER NOT NULL DEFAULT 0,
	converged_at_round INTEGER NOT NULL DEFAULT 0,
	excluded           INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, sample_id)
);

CREATE TABLE IF NOT EXISTS failures (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	sample_id  TEXT NOT NULL,
	round      INTEGER NOT NULL,
	class      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failures_run_round ON failures(run_id, round);

CREATE TABLE IF NOT EXISTS metrics (
	run_id   TEXT NOT NULL,
	property TEXT NOT NULL,
	count    INTEGER NOT NULL,
	mae      REAL,
	mape     REAL,
	r2       REAL,
	PRIMARY KEY (run_id, property)
);
`
