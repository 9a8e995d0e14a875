// Package runstore persists pipeline runs in a local SQLite database. Run
// headers and stage traces are append-only; the only update a row ever sees
// is the transition from in_progress to a terminal status.
package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	schemapipeline "github.com/davidahmann/evalgate/core/schema/v1/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id            TEXT PRIMARY KEY,
	schema_version    TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	producer_version  TEXT NOT NULL,
	transcript_digest TEXT NOT NULL,
	redacted          INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	failed_stage      INTEGER NOT NULL DEFAULT 0,
	failure_reason    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_stages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	stage         TEXT NOT NULL,
	model_id      TEXT NOT NULL,
	output        TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	latency_ms    INTEGER NOT NULL,
	cost          REAL NOT NULL,
	UNIQUE (run_id, stage),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// Store records pipeline runs in SQLite. It satisfies the orchestrator's
// Recorder contract.
type Store struct {
	db *sql.DB
}

// Open opens or creates the run database and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Begin inserts the run header in its initial status. Run IDs are unique;
// beginning the same run twice is an error.
func (s *Store) Begin(run schemapipeline.PipelineRun) error {
	if run.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, schema_version, created_at, producer_version, transcript_digest, redacted, status, failed_stage, failure_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SchemaVersion, run.CreatedAt.UTC().Format(time.RFC3339Nano),
		run.ProducerVersion, run.TranscriptDigest, boolToInt(run.Redacted),
		run.Status, run.FailedStage, run.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordStage appends one completed stage to an in-progress run.
func (s *Store) RecordStage(runID string, stage schemapipeline.StageResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := currentStatus(tx, runID)
	if err != nil {
		return err
	}
	if schemapipeline.IsTerminal(status) {
		return fmt.Errorf("run %s already finished with status %s", runID, status)
	}

	_, err = tx.Exec(
		`INSERT INTO run_stages (run_id, stage, model_id, output, input_tokens, output_tokens, latency_ms, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, stage.Stage, stage.ModelID, stage.Output,
		stage.Trace.InputTokens, stage.Trace.OutputTokens, stage.Trace.LatencyMS, stage.Trace.Cost,
	)
	if err != nil {
		return fmt.Errorf("insert stage %s for run %s: %w", stage.Stage, runID, err)
	}
	return tx.Commit()
}

// Finish records the terminal status for a run. The run must exist and must
// not already be finished.
func (s *Store) Finish(run schemapipeline.PipelineRun) error {
	if !schemapipeline.IsTerminal(run.Status) {
		return fmt.Errorf("finish requires a terminal status, got %q", run.Status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := currentStatus(tx, run.RunID)
	if err != nil {
		return err
	}
	if schemapipeline.IsTerminal(status) {
		return fmt.Errorf("run %s already finished with status %s", run.RunID, status)
	}

	_, err = tx.Exec(
		`UPDATE runs SET status = ?, failed_stage = ?, failure_reason = ? WHERE run_id = ?`,
		run.Status, run.FailedStage, run.FailureReason, run.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.RunID, err)
	}
	return tx.Commit()
}

// Get loads one run with its stages in execution order.
func (s *Store) Get(runID string) (schemapipeline.PipelineRun, error) {
	run, err := scanRun(s.db.QueryRow(
		`SELECT run_id, schema_version, created_at, producer_version, transcript_digest, redacted, status, failed_stage, failure_reason
		 FROM runs WHERE run_id = ?`, runID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return schemapipeline.PipelineRun{}, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return schemapipeline.PipelineRun{}, err
	}

	rows, err := s.db.Query(
		`SELECT stage, model_id, output, input_tokens, output_tokens, latency_ms, cost
		 FROM run_stages WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return schemapipeline.PipelineRun{}, fmt.Errorf("list stages for run %s: %w", runID, err)
	}
	defer rows.Close()

	run.Stages = []schemapipeline.StageResult{}
	for rows.Next() {
		var stage schemapipeline.StageResult
		if err := rows.Scan(&stage.Stage, &stage.ModelID, &stage.Output,
			&stage.Trace.InputTokens, &stage.Trace.OutputTokens, &stage.Trace.LatencyMS, &stage.Trace.Cost); err != nil {
			return schemapipeline.PipelineRun{}, fmt.Errorf("scan stage: %w", err)
		}
		run.Stages = append(run.Stages, stage)
	}
	return run, rows.Err()
}

// List returns run headers, newest first. Stages are not loaded; use Get for
// the full run.
func (s *Store) List(limit int) ([]schemapipeline.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT run_id, schema_version, created_at, producer_version, transcript_digest, redacted, status, failed_stage, failure_reason
		 FROM runs ORDER BY created_at DESC, run_id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []schemapipeline.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (schemapipeline.PipelineRun, error) {
	var run schemapipeline.PipelineRun
	var createdAt string
	var redacted int
	err := row.Scan(&run.RunID, &run.SchemaVersion, &createdAt, &run.ProducerVersion,
		&run.TranscriptDigest, &redacted, &run.Status, &run.FailedStage, &run.FailureReason)
	if errors.Is(err, sql.ErrNoRows) {
		return schemapipeline.PipelineRun{}, err
	}
	if err != nil {
		return schemapipeline.PipelineRun{}, fmt.Errorf("scan run: %w", err)
	}
	run.SchemaID = schemapipeline.RunSchemaID
	run.Redacted = redacted != 0
	run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return schemapipeline.PipelineRun{}, fmt.Errorf("parse run created_at: %w", err)
	}
	return run, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func currentStatus(tx *sql.Tx, runID string) (string, error) {
	var status string
	err := tx.QueryRow(`SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return "", fmt.Errorf("get run status: %w", err)
	}
	return status, nil
}
