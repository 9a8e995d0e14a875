package runstore

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/evalgate/core/pipeline"
	schemapipeline "github.com/davidahmann/evalgate/core/schema/v1/pipeline"
)

var _ pipeline.Recorder = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func sampleRun(runID string, createdAt time.Time) schemapipeline.PipelineRun {
	return schemapipeline.PipelineRun{
		SchemaID:         schemapipeline.RunSchemaID,
		SchemaVersion:    schemapipeline.RunSchemaV1,
		CreatedAt:        createdAt,
		ProducerVersion:  "0.0.0-dev",
		RunID:            runID,
		TranscriptDigest: "a1b2c3",
		Status:           schemapipeline.StatusInProgress,
	}
}

func sampleStage(stage, modelID string) schemapipeline.StageResult {
	return schemapipeline.StageResult{
		Stage:   stage,
		ModelID: modelID,
		Output:  "output for " + stage,
		Trace: schemapipeline.StageTrace{
			InputTokens:  1200,
			OutputTokens: 340,
			LatencyMS:    910,
			Cost:         0.0123,
		},
	}
}

func TestBeginRecordFinishRoundTrip(t *testing.T) {
	store := openTestStore(t)
	createdAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	run := sampleRun("run_roundtrip", createdAt)
	run.Redacted = true

	if err := store.Begin(run); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	facts := sampleStage(schemapipeline.StageFactExtraction, "model-a")
	reasoning := sampleStage(schemapipeline.StageReasoning, "model-b")
	if err := store.RecordStage(run.RunID, facts); err != nil {
		t.Fatalf("RecordStage facts: %v", err)
	}
	if err := store.RecordStage(run.RunID, reasoning); err != nil {
		t.Fatalf("RecordStage reasoning: %v", err)
	}

	run.Status = schemapipeline.StatusCompleted
	if err := store.Finish(run); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	loaded, err := store.Get(run.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.Status != schemapipeline.StatusCompleted || !loaded.Redacted {
		t.Fatalf("unexpected run header: %#v", loaded)
	}
	if loaded.SchemaID != schemapipeline.RunSchemaID || loaded.TranscriptDigest != "a1b2c3" {
		t.Fatalf("unexpected run header: %#v", loaded)
	}
	if !loaded.CreatedAt.Equal(createdAt) {
		t.Fatalf("created_at mismatch: %v", loaded.CreatedAt)
	}
	if !reflect.DeepEqual(loaded.Stages, []schemapipeline.StageResult{facts, reasoning}) {
		t.Fatalf("stages mismatch: %#v", loaded.Stages)
	}
}

func TestFailedRunKeepsPartialStages(t *testing.T) {
	store := openTestStore(t)
	run := sampleRun("run_failed", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))

	if err := store.Begin(run); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.RecordStage(run.RunID, sampleStage(schemapipeline.StageFactExtraction, "model-a")); err != nil {
		t.Fatalf("RecordStage: %v", err)
	}

	run.Status = schemapipeline.FailedAtStage(2)
	run.FailedStage = 2
	run.FailureReason = "stage reasoning: provider rate limited"
	if err := store.Finish(run); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	loaded, err := store.Get(run.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.Status != "failed_at_stage(2)" || loaded.FailedStage != 2 {
		t.Fatalf("unexpected terminal state: %#v", loaded)
	}
	if !strings.Contains(loaded.FailureReason, "rate limited") {
		t.Fatalf("failure reason lost: %q", loaded.FailureReason)
	}
	if len(loaded.Stages) != 1 || loaded.Stages[0].Stage != schemapipeline.StageFactExtraction {
		t.Fatalf("partial stages lost: %#v", loaded.Stages)
	}
}

func TestRecordStageRejectsFinishedRun(t *testing.T) {
	store := openTestStore(t)
	run := sampleRun("run_done", time.Now().UTC())
	if err := store.Begin(run); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	run.Status = schemapipeline.StatusCompleted
	if err := store.Finish(run); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	err := store.RecordStage(run.RunID, sampleStage(schemapipeline.StageFactExtraction, "model-a"))
	if err == nil || !strings.Contains(err.Error(), "already finished") {
		t.Fatalf("expected already finished error, got %v", err)
	}
}

func TestRecordStageUnknownRun(t *testing.T) {
	store := openTestStore(t)
	err := store.RecordStage("run_missing", sampleStage(schemapipeline.StageFactExtraction, "model-a"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestFinishRequiresTerminalStatus(t *testing.T) {
	store := openTestStore(t)
	run := sampleRun("run_open", time.Now().UTC())
	if err := store.Begin(run); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Finish(run); err == nil || !strings.Contains(err.Error(), "terminal status") {
		t.Fatalf("expected terminal status error, got %v", err)
	}
}

func TestFinishTwiceRejected(t *testing.T) {
	store := openTestStore(t)
	run := sampleRun("run_twice", time.Now().UTC())
	if err := store.Begin(run); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	run.Status = schemapipeline.StatusCompleted
	if err := store.Finish(run); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if err := store.Finish(run); err == nil || !strings.Contains(err.Error(), "already finished") {
		t.Fatalf("expected already finished error, got %v", err)
	}
}

func TestBeginDuplicateRunRejected(t *testing.T) {
	store := openTestStore(t)
	run := sampleRun("run_dup", time.Now().UTC())
	if err := store.Begin(run); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Begin(run); err == nil {
		t.Fatalf("expected duplicate run error")
	}
}

func TestGetMissingRun(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get("run_missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for index, runID := range []string{"run_old", "run_mid", "run_new"} {
		run := sampleRun(runID, base.Add(time.Duration(index)*time.Minute))
		if err := store.Begin(run); err != nil {
			t.Fatalf("Begin %s: %v", runID, err)
		}
	}

	runs, err := store.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run_new" || runs[1].RunID != "run_mid" {
		t.Fatalf("unexpected list order: %#v", runs)
	}
	if runs[0].Stages != nil {
		t.Fatalf("list must not load stages: %#v", runs[0].Stages)
	}
}
