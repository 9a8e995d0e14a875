package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/evalgate/core/errors"
	evaljcs "github.com/davidahmann/evalgate/core/jcs"
	"github.com/davidahmann/evalgate/core/provider"
	"github.com/davidahmann/evalgate/core/redact"
	schemapipeline "github.com/davidahmann/evalgate/core/schema/v1/pipeline"
)

// Recorder persists run state as it evolves: one Begin, one RecordStage per
// completed stage, one Finish with the terminal status. Failed runs are
// finished too, so partial stage output stays diagnosable. A nil Recorder
// disables persistence.
type Recorder interface {
	Begin(run schemapipeline.PipelineRun) error
	RecordStage(runID string, stage schemapipeline.StageResult) error
	Finish(run schemapipeline.PipelineRun) error
}

type RunOptions struct {
	RunID           string
	PIIRedaction    bool
	StageTimeout    time.Duration
	ProducerVersion string
	CreatedAt       time.Time
}

type Orchestrator struct {
	generator provider.Generator
	detector  redact.Detector
	recorder  Recorder
}

func NewOrchestrator(generator provider.Generator, detector redact.Detector, recorder Recorder) *Orchestrator {
	if detector == nil {
		detector = redact.NewRegexDetector()
	}
	return &Orchestrator{generator: generator, detector: detector, recorder: recorder}
}

// Run executes the three stages strictly in order. A stage failure aborts
// the run immediately: the returned PipelineRun carries status
// failed_at_stage(n) and every completed predecessor stage, alongside the
// classified error. Generation calls are never retried here.
func (o *Orchestrator) Run(ctx context.Context, transcript string, config Config, opts RunOptions) (schemapipeline.PipelineRun, error) {
	normalizedConfig, err := normalizeConfig(config)
	if err != nil {
		return schemapipeline.PipelineRun{}, errors.Wrap(err, errors.CategoryInvalidInput,
			"stage_config_invalid", "fix the stage configuration and rerun", false)
	}
	if strings.TrimSpace(transcript) == "" {
		return schemapipeline.PipelineRun{}, errors.Wrap(fmt.Errorf("transcript is empty"),
			errors.CategoryInvalidInput, "transcript_empty", "supply a non-empty transcript", false)
	}
	if len(transcript) > MaxTranscriptChars {
		return schemapipeline.PipelineRun{}, errors.Wrap(
			fmt.Errorf("transcript length %d exceeds %d chars", len(transcript), MaxTranscriptChars),
			errors.CategoryInvalidInput, "transcript_too_long", "split the transcript before submission", false)
	}

	// With redaction enabled every stage sees only the masked text; the raw
	// transcript is not referenced again and its digest is never recorded.
	subject := transcript
	redacted := false
	if opts.PIIRedaction {
		subject, _ = redactSubject(o.detector, transcript)
		redacted = true
	}

	run := schemapipeline.PipelineRun{
		SchemaID:         schemapipeline.RunSchemaID,
		SchemaVersion:    schemapipeline.RunSchemaV1,
		CreatedAt:        resolveCreatedAt(opts.CreatedAt),
		ProducerVersion:  resolveProducerVersion(opts.ProducerVersion),
		RunID:            resolveRunID(opts.RunID),
		TranscriptDigest: evaljcs.DigestText(subject),
		Redacted:         redacted,
		Status:           schemapipeline.StatusInProgress,
		Stages:           []schemapipeline.StageResult{},
	}
	if o.recorder != nil {
		if err := o.recorder.Begin(run); err != nil {
			return run, errors.Wrap(fmt.Errorf("begin run: %w", err),
				errors.CategoryIOFailure, "run_persist_failed", "check the run store path and permissions", false)
		}
	}

	factsSchemaMap, compiledFacts, err := factsOutputSchema()
	if err != nil {
		wrapped := errors.Wrap(err, errors.CategoryInternalFailure, "facts_schema_build_failed", "", false)
		return o.finishFailed(run, 1, schemapipeline.StageFactExtraction, wrapped)
	}

	var factsText, insightsText string
	for position, stageName := range schemapipeline.StageOrder() {
		stageNumber := position + 1
		stageConfig := normalizedConfig.Stages[stageName]
		request := provider.GenerationRequest{
			ModelID:     stageConfig.ModelID,
			Temperature: stageConfig.Temperature,
			TopP:        stageConfig.TopP,
			MaxTokens:   stageConfig.MaxTokens,
		}
		switch stageName {
		case schemapipeline.StageFactExtraction:
			request.SystemPrompt = factExtractionPrompt
			request.UserPrompt = buildFactExtractionInput(subject)
			request.OutputSchemaName = factsSchemaName
			request.OutputSchema = factsSchemaMap
		case schemapipeline.StageReasoning:
			request.SystemPrompt = reasoningPrompt
			request.UserPrompt = buildReasoningInput(subject, factsText)
		case schemapipeline.StageSummarization:
			request.SystemPrompt = summarizationPrompt
			request.UserPrompt = buildSummarizationInput(factsText, insightsText)
		}

		result, err := o.invokeStage(ctx, request, opts.StageTimeout)
		if err != nil {
			return o.finishFailed(run, stageNumber, stageName, err)
		}
		if stageName == schemapipeline.StageFactExtraction {
			if _, err := decodeFacts(result.Text, compiledFacts); err != nil {
				wrapped := errors.Wrap(err, errors.CategorySchemaViolation,
					"stage_output_schema_violation", "inspect the fact extraction output", false)
				return o.finishFailed(run, stageNumber, stageName, wrapped)
			}
		}

		stageResult := schemapipeline.StageResult{
			Stage:   stageName,
			ModelID: stageConfig.ModelID,
			Output:  result.Text,
			Trace: schemapipeline.StageTrace{
				InputTokens:  result.InputTokens,
				OutputTokens: result.OutputTokens,
				LatencyMS:    result.LatencyMS,
				Cost:         normalizedConfig.Prices.Cost(stageConfig.ModelID, result.InputTokens, result.OutputTokens),
			},
		}
		run.Stages = append(run.Stages, stageResult)
		if o.recorder != nil {
			if err := o.recorder.RecordStage(run.RunID, stageResult); err != nil {
				wrapped := errors.Wrap(fmt.Errorf("record stage %s: %w", stageName, err),
					errors.CategoryIOFailure, "run_persist_failed", "check the run store path and permissions", false)
				return o.finishFailed(run, stageNumber, stageName, wrapped)
			}
		}

		switch stageName {
		case schemapipeline.StageFactExtraction:
			factsText = result.Text
		case schemapipeline.StageReasoning:
			insightsText = result.Text
		}
	}

	run.Status = schemapipeline.StatusCompleted
	if o.recorder != nil {
		if err := o.recorder.Finish(run); err != nil {
			return run, errors.Wrap(fmt.Errorf("finish run: %w", err),
				errors.CategoryIOFailure, "run_persist_failed", "check the run store path and permissions", false)
		}
	}
	return run, nil
}

func (o *Orchestrator) invokeStage(ctx context.Context, request provider.GenerationRequest, timeout time.Duration) (provider.GenerationResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.generator.Invoke(ctx, request)
}

func (o *Orchestrator) finishFailed(run schemapipeline.PipelineRun, stageNumber int, stageName string, cause error) (schemapipeline.PipelineRun, error) {
	cause = fmt.Errorf("stage %s: %w", stageName, cause)
	run.Status = schemapipeline.FailedAtStage(stageNumber)
	run.FailedStage = stageNumber
	run.FailureReason = cause.Error()
	if o.recorder != nil {
		if err := o.recorder.Finish(run); err != nil {
			return run, fmt.Errorf("%w; persist run: %v", cause, err)
		}
	}
	return run, cause
}

func redactSubject(detector redact.Detector, transcript string) (string, []redact.Detection) {
	if detector == nil {
		detector = redact.NewRegexDetector()
	}
	return redact.Redact(detector, transcript)
}

func resolveRunID(runID string) string {
	trimmed := strings.TrimSpace(runID)
	if trimmed != "" {
		return trimmed
	}
	return "run_" + uuid.New().String()
}

func resolveCreatedAt(createdAt time.Time) time.Time {
	if createdAt.IsZero() {
		return time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return createdAt.UTC()
}

func resolveProducerVersion(producerVersion string) string {
	if producerVersion == "" {
		return "0.0.0-dev"
	}
	return producerVersion
}
