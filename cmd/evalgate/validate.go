package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/evalgate/core/errors"
	"github.com/davidahmann/evalgate/core/gate"
	"github.com/davidahmann/evalgate/core/harness"
	"github.com/davidahmann/evalgate/core/projectconfig"
	"github.com/davidahmann/evalgate/core/report"
	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

type validateOutput struct {
	OK           bool                              `json:"ok"`
	ReportID     string                            `json:"report_id,omitempty"`
	Verdict      string                            `json:"verdict,omitempty"`
	ReasonCodes  []string                          `json:"reason_codes,omitempty"`
	TotalResults int                               `json:"total_results,omitempty"`
	Failed       int                               `json:"failed,omitempty"`
	LeakFindings int                               `json:"leak_findings,omitempty"`
	Gates        []schemavalidation.GateEvaluation `json:"gates,omitempty"`
	ReportPath   string                            `json:"report_path,omitempty"`
	JUnitPath    string                            `json:"junit_path,omitempty"`
	ResultsPath  string                            `json:"results_path,omitempty"`
	Error        string                            `json:"error,omitempty"`
}

func runValidate(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Run an evaluation catalog against a model, force-fail adversarial cases that leak PII, aggregate results through quality gates, and exit non-zero when the verdict blocks deployment.")
	}
	flagSet := flag.NewFlagSet("validate", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var catalogPath string
	var gatesPath string
	var modelID string
	var configPath string
	var apiKeyEnv string
	var reportPath string
	var junitPath string
	var resultsPath string
	var concurrency int
	var timeoutText string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&catalogPath, "catalog", "", "path to evaluation catalog yaml")
	flagSet.StringVar(&gatesPath, "gates", "", "path to quality gates yaml (canonical tiers when omitted)")
	flagSet.StringVar(&modelID, "model", "", "model id to evaluate")
	flagSet.StringVar(&configPath, "config", projectconfig.DefaultPath, "path to project config")
	flagSet.StringVar(&apiKeyEnv, "api-key-env", "", "environment variable holding the provider API key")
	flagSet.StringVar(&reportPath, "report", "", "path for the validation report artifact")
	flagSet.StringVar(&junitPath, "junit", "", "path for the JUnit XML export")
	flagSet.StringVar(&resultsPath, "results", "", "path for the raw test results jsonl")
	flagSet.IntVar(&concurrency, "concurrency", 0, "max in-flight generation calls")
	flagSet.StringVar(&timeoutText, "timeout", "", "per-call timeout, e.g. 60s")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printValidateUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: "unexpected positional arguments"}, nil, exitInvalidInput)
	}

	projectDefaults, err := projectconfig.Load(configPath, true)
	if err != nil {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	resolvedCatalog := firstNonEmpty(catalogPath, projectDefaults.Validate.Catalog)
	if resolvedCatalog == "" {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: "missing required --catalog <catalog.yaml>"}, nil, exitInvalidInput)
	}
	resolvedModel := firstNonEmpty(modelID, projectDefaults.Validate.Model)
	if resolvedModel == "" {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: "missing required --model <id>"}, nil, exitInvalidInput)
	}

	catalog, err := harness.LoadCatalogFile(resolvedCatalog)
	if err != nil {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	gates := gate.CanonicalGates()
	if resolvedGates := firstNonEmpty(gatesPath, projectDefaults.Validate.Gates); resolvedGates != "" {
		gateConfig, err := gate.LoadConfigFile(resolvedGates)
		if err != nil {
			return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
		}
		gates = gateConfig.Gates
	}

	var callTimeout time.Duration
	if timeoutText != "" {
		callTimeout, err = time.ParseDuration(timeoutText)
		if err != nil {
			return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: fmt.Sprintf("invalid --timeout: %v", err)}, err, exitInvalidInput)
		}
	}
	if concurrency <= 0 {
		concurrency = projectDefaults.Validate.Concurrency
	}

	client, err := newProviderClient(
		firstNonEmpty(apiKeyEnv, projectDefaults.Provider.APIKeyEnv),
		projectDefaults.Provider.EmbeddingModel)
	if err != nil {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitCodeForError(err, exitInvalidInput))
	}

	runner := harness.NewRunner(client, nil, harness.RunnerConfig{
		ModelID:     resolvedModel,
		Concurrency: concurrency,
		CallTimeout: callTimeout,
	})
	results, findings, err := runner.Execute(context.Background(), catalog)
	if err != nil {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitCodeForError(err, exitProviderFailure))
	}

	results = gate.ApplyLeakOverrides(results, findings)
	validationReport, err := gate.Evaluate(results, gates, gate.EvalOptions{
		ProducerVersion: version,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitCodeForError(err, exitInternalFailure))
	}

	resolvedReport := firstNonEmpty(reportPath, projectDefaults.Validate.Report)
	if resolvedReport != "" {
		if err := report.WriteReportFile(resolvedReport, validationReport); err != nil {
			return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
		}
	}
	resolvedJUnit := firstNonEmpty(junitPath, projectDefaults.Validate.JUnit)
	if resolvedJUnit != "" {
		if err := report.WriteJUnitFile(resolvedJUnit, validationReport); err != nil {
			return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
		}
	}
	resolvedResults := firstNonEmpty(resultsPath, projectDefaults.Validate.Results)
	if resolvedResults != "" {
		if err := report.WriteResultsFile(resolvedResults, validationReport.Results); err != nil {
			return writeValidateOutput(jsonOutput, validateOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
		}
	}

	failed := 0
	for _, result := range validationReport.Results {
		if !result.Passed {
			failed++
		}
	}
	output := validateOutput{
		OK:           validationReport.Verdict != schemavalidation.VerdictBlocked,
		ReportID:     validationReport.ReportID,
		Verdict:      validationReport.Verdict,
		ReasonCodes:  validationReport.ReasonCodes,
		TotalResults: len(validationReport.Results),
		Failed:       failed,
		LeakFindings: len(findings),
		Gates:        validationReport.GateEvaluations,
		ReportPath:   resolvedReport,
		JUnitPath:    resolvedJUnit,
		ResultsPath:  resolvedResults,
	}
	if validationReport.Verdict == schemavalidation.VerdictBlocked {
		cause := fmt.Errorf("deployment blocked: %s", strings.Join(validationReport.ReasonCodes, ","))
		blockedErr := coreerrors.Wrap(cause, coreerrors.CategoryGateBlocked, "gate_blocked",
			"review the failing results in the validation report before redeploying", false)
		output.Error = blockedErr.Error()
		return writeValidateOutput(jsonOutput, output, blockedErr, exitGateBlocked)
	}
	return writeValidateOutput(jsonOutput, output, nil, exitOK)
}

func writeValidateOutput(jsonOutput bool, output validateOutput, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONErrorOutput(output, err, exitCode)
	}
	if output.Verdict != "" {
		fmt.Printf("validate verdict: %s (results=%d failed=%d leaks=%d)\n", output.Verdict, output.TotalResults, output.Failed, output.LeakFindings)
		for _, evaluation := range output.Gates {
			state := "compliant"
			switch {
			case evaluation.Skipped:
				state = "skipped"
			case !evaluation.Compliant:
				state = "non_compliant"
			}
			fmt.Printf("  gate %s: %s (%d/%d, min %.2f)\n", evaluation.TierName, state, evaluation.PassedResults, evaluation.TotalResults, evaluation.MinPassRate)
		}
		if output.ReportPath != "" {
			fmt.Printf("report: %s\n", output.ReportPath)
		}
		if output.JUnitPath != "" {
			fmt.Printf("junit: %s\n", output.JUnitPath)
		}
		if output.ResultsPath != "" {
			fmt.Printf("results: %s\n", output.ResultsPath)
		}
		if !output.OK {
			fmt.Printf("validate error: %s\n", output.Error)
		}
		return exitCode
	}
	if output.OK {
		fmt.Println("validate ok")
		return exitCode
	}
	fmt.Printf("validate error: %s\n", output.Error)
	return exitCode
}

func printValidateUsage() {
	fmt.Println("Usage:")
	fmt.Println("  evalgate validate --catalog <catalog.yaml> --model <id> [--gates <gates.yaml>] [--report <report.json>] [--junit <junit.xml>] [--results <results.jsonl>] [--concurrency N] [--timeout 60s] [--json] [--explain]")
}
