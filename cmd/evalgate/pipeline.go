package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/davidahmann/evalgate/core/pipeline"
	"github.com/davidahmann/evalgate/core/projectconfig"
	"github.com/davidahmann/evalgate/core/runstore"
	schemapipeline "github.com/davidahmann/evalgate/core/schema/v1/pipeline"
)

const (
	defaultStorePath    = ".evalgate/runs.db"
	defaultStageTimeout = 90 * time.Second
)

type pipelineRunOutput struct {
	OK            bool    `json:"ok"`
	RunID         string  `json:"run_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	Stages        int     `json:"stages,omitempty"`
	TotalCost     float64 `json:"total_cost,omitempty"`
	Redacted      bool    `json:"redacted,omitempty"`
	Store         string  `json:"store,omitempty"`
	FailedStage   int     `json:"failed_stage,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type pipelineShowOutput struct {
	OK    bool                        `json:"ok"`
	Run   *schemapipeline.PipelineRun `json:"run,omitempty"`
	Error string                      `json:"error,omitempty"`
}

type pipelineListOutput struct {
	OK    bool                         `json:"ok"`
	Runs  []schemapipeline.PipelineRun `json:"runs,omitempty"`
	Error string                       `json:"error,omitempty"`
}

func runPipeline(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Execute the fact extraction, reasoning, and summarization stages against a client transcript and persist the run with per-stage traces.")
	}
	if len(arguments) == 0 {
		printPipelineUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "run":
		return runPipelineRun(arguments[1:])
	case "show":
		return runPipelineShow(arguments[1:])
	case "list":
		return runPipelineList(arguments[1:])
	default:
		printPipelineUsage()
		return exitInvalidInput
	}
}

func runPipelineRun(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Run the three-stage pipeline once. A stage failure aborts the run; completed stages stay persisted under a failed_at_stage status.")
	}
	flagSet := flag.NewFlagSet("pipeline-run", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var transcriptPath string
	var stagesPath string
	var storePath string
	var configPath string
	var apiKeyEnv string
	var timeoutText string
	var redactPII bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&transcriptPath, "transcript", "", "path to the transcript text file")
	flagSet.StringVar(&stagesPath, "stages", "", "path to stage config yaml")
	flagSet.StringVar(&storePath, "store", "", "path to the run database")
	flagSet.StringVar(&configPath, "config", projectconfig.DefaultPath, "path to project config")
	flagSet.StringVar(&apiKeyEnv, "api-key-env", "", "environment variable holding the provider API key")
	flagSet.StringVar(&timeoutText, "timeout", "", "per-stage timeout, e.g. 90s")
	flagSet.BoolVar(&redactPII, "redact-pii", false, "mask detected PII before any stage sees the transcript")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: err.Error()}, nil, exitInvalidInput)
	}
	if helpFlag {
		printPipelineUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: "unexpected positional arguments"}, nil, exitInvalidInput)
	}
	if strings.TrimSpace(transcriptPath) == "" {
		return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: "missing required --transcript <path>"}, nil, exitInvalidInput)
	}

	projectDefaults, err := projectconfig.Load(configPath, true)
	if err != nil {
		return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	// #nosec G304 -- transcript path is explicit local user input.
	transcriptBytes, err := os.ReadFile(transcriptPath)
	if err != nil {
		return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: fmt.Sprintf("read transcript: %v", err)}, nil, exitInvalidInput)
	}

	stageConfig := pipeline.DefaultConfig()
	if resolved := firstNonEmpty(stagesPath, projectDefaults.Pipeline.StageConfig); resolved != "" {
		stageConfig, err = pipeline.LoadConfigFile(resolved)
		if err != nil {
			return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
		}
	}

	stageTimeout := defaultStageTimeout
	if resolved := firstNonEmpty(timeoutText, projectDefaults.Pipeline.StageTimeout); resolved != "" {
		stageTimeout, err = time.ParseDuration(resolved)
		if err != nil {
			return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: fmt.Sprintf("parse timeout: %v", err)}, nil, exitInvalidInput)
		}
	}

	resolvedStore := firstNonEmpty(storePath, projectDefaults.Pipeline.Store, defaultStorePath)
	store, err := runstore.Open(resolvedStore)
	if err != nil {
		return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
	}
	defer func() {
		_ = store.Close()
	}()

	client, err := newProviderClient(firstNonEmpty(apiKeyEnv, projectDefaults.Provider.APIKeyEnv), "")
	if err != nil {
		return writePipelineRunOutput(jsonOutput, pipelineRunOutput{OK: false, Error: err.Error()}, err, exitCodeForError(err, exitInvalidInput))
	}

	orchestrator := pipeline.NewOrchestrator(client, nil, store)
	pipelineRun, err := orchestrator.Run(context.Background(), string(transcriptBytes), stageConfig, pipeline.RunOptions{
		PIIRedaction:    redactPII || projectDefaults.Pipeline.RedactPII,
		StageTimeout:    stageTimeout,
		ProducerVersion: version,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		exitCode := exitCodeForError(err, exitInternalFailure)
		if _, failed := schemapipeline.FailedStageOf(pipelineRun.Status); failed {
			exitCode = exitPipelineFailed
		}
		return writePipelineRunOutput(jsonOutput, pipelineRunOutput{
			OK:            false,
			RunID:         pipelineRun.RunID,
			Status:        pipelineRun.Status,
			Stages:        len(pipelineRun.Stages),
			TotalCost:     totalRunCost(pipelineRun),
			Redacted:      pipelineRun.Redacted,
			Store:         resolvedStore,
			FailedStage:   pipelineRun.FailedStage,
			FailureReason: pipelineRun.FailureReason,
			Error:         err.Error(),
		}, err, exitCode)
	}

	return writePipelineRunOutput(jsonOutput, pipelineRunOutput{
		OK:        true,
		RunID:     pipelineRun.RunID,
		Status:    pipelineRun.Status,
		Stages:    len(pipelineRun.Stages),
		TotalCost: totalRunCost(pipelineRun),
		Redacted:  pipelineRun.Redacted,
		Store:     resolvedStore,
	}, nil, exitOK)
}

func writePipelineRunOutput(jsonOutput bool, output pipelineRunOutput, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONErrorOutput(output, err, exitCode)
	}
	if output.OK {
		fmt.Printf("pipeline run ok: run_id=%s status=%s stages=%d cost=%.6f\n", output.RunID, output.Status, output.Stages, output.TotalCost)
		fmt.Printf("store: %s\n", output.Store)
		return exitCode
	}
	fmt.Printf("pipeline run error: %s\n", output.Error)
	if output.RunID != "" {
		fmt.Printf("run_id=%s status=%s stages_completed=%d\n", output.RunID, output.Status, output.Stages)
	}
	return exitCode
}

func runPipelineShow(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Print one persisted run with its stage outputs and traces as JSON.")
	}
	flagSet := flag.NewFlagSet("pipeline-show", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var runID string
	var storePath string
	var configPath string
	var helpFlag bool

	flagSet.StringVar(&runID, "run", "", "run_id to show")
	flagSet.StringVar(&storePath, "store", "", "path to the run database")
	flagSet.StringVar(&configPath, "config", projectconfig.DefaultPath, "path to project config")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONErrorOutput(pipelineShowOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printPipelineUsage()
		return exitOK
	}
	if strings.TrimSpace(runID) == "" {
		return writeJSONErrorOutput(pipelineShowOutput{OK: false, Error: "missing required --run <run_id>"}, nil, exitInvalidInput)
	}

	projectDefaults, err := projectconfig.Load(configPath, true)
	if err != nil {
		return writeJSONErrorOutput(pipelineShowOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	store, err := runstore.Open(firstNonEmpty(storePath, projectDefaults.Pipeline.Store, defaultStorePath))
	if err != nil {
		return writeJSONErrorOutput(pipelineShowOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
	}
	defer func() {
		_ = store.Close()
	}()

	pipelineRun, err := store.Get(strings.TrimSpace(runID))
	if err != nil {
		return writeJSONErrorOutput(pipelineShowOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	return writeJSONOutput(pipelineShowOutput{OK: true, Run: &pipelineRun}, exitOK)
}

func runPipelineList(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("List persisted runs, newest first.")
	}
	flagSet := flag.NewFlagSet("pipeline-list", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var storePath string
	var configPath string
	var limit int
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&storePath, "store", "", "path to the run database")
	flagSet.StringVar(&configPath, "config", projectconfig.DefaultPath, "path to project config")
	flagSet.IntVar(&limit, "limit", 20, "maximum runs to list")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONErrorOutput(pipelineListOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printPipelineUsage()
		return exitOK
	}

	projectDefaults, err := projectconfig.Load(configPath, true)
	if err != nil {
		return writeJSONErrorOutput(pipelineListOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	store, err := runstore.Open(firstNonEmpty(storePath, projectDefaults.Pipeline.Store, defaultStorePath))
	if err != nil {
		return writeJSONErrorOutput(pipelineListOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
	}
	defer func() {
		_ = store.Close()
	}()

	runs, err := store.List(limit)
	if err != nil {
		return writeJSONErrorOutput(pipelineListOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
	}
	if jsonOutput {
		return writeJSONOutput(pipelineListOutput{OK: true, Runs: runs}, exitOK)
	}
	for _, pipelineRun := range runs {
		fmt.Printf("%s  %s  %s\n", pipelineRun.RunID, pipelineRun.CreatedAt.Format(time.RFC3339), pipelineRun.Status)
	}
	return exitOK
}

func totalRunCost(pipelineRun schemapipeline.PipelineRun) float64 {
	total := 0.0
	for _, stage := range pipelineRun.Stages {
		total += stage.Trace.Cost
	}
	return total
}

func printPipelineUsage() {
	fmt.Println("Usage:")
	fmt.Println("  evalgate pipeline run --transcript <path> [--stages stages.yaml] [--store runs.db] [--redact-pii] [--timeout 90s] [--api-key-env OPENAI_API_KEY] [--json] [--explain]")
	fmt.Println("  evalgate pipeline show --run <run_id> [--store runs.db] [--explain]")
	fmt.Println("  evalgate pipeline list [--store runs.db] [--limit 20] [--json] [--explain]")
}
