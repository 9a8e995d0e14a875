package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/evalgate/core/errors"
	"github.com/davidahmann/evalgate/core/fsx"
	"github.com/davidahmann/evalgate/core/gate"
	"github.com/davidahmann/evalgate/core/report"
	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

// defaultGatesYAML mirrors gate.CanonicalGates so an edited copy starts from
// the exact tier set the engine would apply anyway.
const defaultGatesYAML = `schema_id: evalgate.gate.config
schema_version: 1.0.0
gates:
  - tier_name: adversarial
    min_pass_rate: 1.0
    test_categories: [adversarial]
    failure_action: block_deployment
  - tier_name: golden
    min_pass_rate: 0.95
    test_categories: [golden]
    failure_action: warn_and_deploy
  - tier_name: edge
    min_pass_rate: 0.85
    test_categories: [edge]
    failure_action: track_only
  - tier_name: monitoring
    min_pass_rate: 0.80
    test_categories: [monitoring]
    failure_action: track_only
`

type gatesInitOutput struct {
	OK    bool   `json:"ok"`
	Path  string `json:"path,omitempty"`
	Gates int    `json:"gates,omitempty"`
	Error string `json:"error,omitempty"`
}

type gatesValidateOutput struct {
	OK           bool     `json:"ok"`
	Tiers        []string `json:"tiers,omitempty"`
	ConfigDigest string   `json:"config_digest,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func runGates(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Manage the quality gate configuration that turns categorized test results into a deployment verdict.")
	}
	if len(arguments) == 0 {
		printGatesUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "init":
		return runGatesInit(arguments[1:])
	case "validate":
		return runGatesValidate(arguments[1:])
	case "eval":
		return runGatesEval(arguments[1:])
	default:
		printGatesUsage()
		return exitInvalidInput
	}
}

func runGatesInit(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Write the canonical gate tiers to a YAML file as a starting point for project-specific thresholds.")
	}
	flagSet := flag.NewFlagSet("gates-init", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var outPath string
	var force bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&outPath, "out", "gates.yaml", "path for the gate config")
	flagSet.BoolVar(&force, "force", false, "overwrite an existing file")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeGatesInitOutput(jsonOutput, gatesInitOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printGatesUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeGatesInitOutput(jsonOutput, gatesInitOutput{OK: false, Error: "unexpected positional arguments"}, nil, exitInvalidInput)
	}

	if !force {
		if _, err := os.Stat(outPath); err == nil {
			return writeGatesInitOutput(jsonOutput, gatesInitOutput{
				OK:    false,
				Error: fmt.Sprintf("%s already exists, pass --force to overwrite", outPath),
			}, nil, exitInvalidInput)
		}
	}
	if err := fsx.WriteFileAtomic(outPath, []byte(defaultGatesYAML), 0o644); err != nil {
		return writeGatesInitOutput(jsonOutput, gatesInitOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
	}

	return writeGatesInitOutput(jsonOutput, gatesInitOutput{
		OK:    true,
		Path:  outPath,
		Gates: len(gate.CanonicalGates()),
	}, nil, exitOK)
}

func writeGatesInitOutput(jsonOutput bool, output gatesInitOutput, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONErrorOutput(output, err, exitCode)
	}
	if output.OK {
		fmt.Printf("gates init ok: %s (%d tiers)\n", output.Path, output.Gates)
		return exitCode
	}
	fmt.Printf("gates init error: %s\n", output.Error)
	return exitCode
}

func runGatesValidate(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Parse and normalize a gate config and print the digest validation reports will pin.")
	}
	arguments = reorderInterspersedFlags(arguments, nil)

	flagSet := flag.NewFlagSet("gates-validate", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var jsonOutput bool
	var helpFlag bool

	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeGatesValidateOutput(jsonOutput, gatesValidateOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printGatesUsage()
		return exitOK
	}
	if len(flagSet.Args()) != 1 {
		return writeGatesValidateOutput(jsonOutput, gatesValidateOutput{
			OK:    false,
			Error: "expected <gates.yaml>",
		}, nil, exitInvalidInput)
	}

	config, err := gate.LoadConfigFile(flagSet.Args()[0])
	if err != nil {
		return writeGatesValidateOutput(jsonOutput, gatesValidateOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	digest, err := gate.ConfigDigest(config)
	if err != nil {
		return writeGatesValidateOutput(jsonOutput, gatesValidateOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
	}

	tiers := make([]string, 0, len(config.Gates))
	for _, qualityGate := range config.Gates {
		tiers = append(tiers, qualityGate.TierName)
	}
	return writeGatesValidateOutput(jsonOutput, gatesValidateOutput{
		OK:           true,
		Tiers:        tiers,
		ConfigDigest: digest,
	}, nil, exitOK)
}

type gatesEvalOutput struct {
	OK           bool                              `json:"ok"`
	ReportID     string                            `json:"report_id,omitempty"`
	Verdict      string                            `json:"verdict,omitempty"`
	ReasonCodes  []string                          `json:"reason_codes,omitempty"`
	TotalResults int                               `json:"total_results,omitempty"`
	Gates        []schemavalidation.GateEvaluation `json:"gates,omitempty"`
	ReportPath   string                            `json:"report_path,omitempty"`
	JUnitPath    string                            `json:"junit_path,omitempty"`
	Error        string                            `json:"error,omitempty"`
}

// runGatesEval aggregates test results collected elsewhere. It performs no
// generation calls: results come in as JSONL, the verdict goes out as an exit
// code, which is what a CI step between test execution and deployment needs.
func runGatesEval(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Evaluate pre-collected test results against quality gates and exit with the deployment verdict.")
	}
	flagSet := flag.NewFlagSet("gates-eval", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var resultsPath string
	var gatesPath string
	var reportPath string
	var junitPath string
	var strictWarnings bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&resultsPath, "results", "", "path to test results jsonl")
	flagSet.StringVar(&gatesPath, "gates", "", "path to quality gates yaml (canonical tiers when omitted)")
	flagSet.StringVar(&reportPath, "report", "", "path for the validation report artifact")
	flagSet.StringVar(&junitPath, "junit", "", "path for the JUnit XML export")
	flagSet.BoolVar(&strictWarnings, "strict-warnings", false, "treat allowed_with_warnings as a failing verdict")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeGatesEvalOutput(jsonOutput, gatesEvalOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printGatesUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeGatesEvalOutput(jsonOutput, gatesEvalOutput{OK: false, Error: "unexpected positional arguments"}, nil, exitInvalidInput)
	}
	if strings.TrimSpace(resultsPath) == "" {
		return writeGatesEvalOutput(jsonOutput, gatesEvalOutput{OK: false, Error: "missing required --results <results.jsonl>"}, nil, exitInvalidInput)
	}

	results, err := report.LoadResultsFile(resultsPath)
	if err != nil {
		return writeGatesEvalOutput(jsonOutput, gatesEvalOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	gates := gate.CanonicalGates()
	if gatesPath != "" {
		gateConfig, err := gate.LoadConfigFile(gatesPath)
		if err != nil {
			return writeGatesEvalOutput(jsonOutput, gatesEvalOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
		}
		gates = gateConfig.Gates
	}

	validationReport, err := gate.Evaluate(results, gates, gate.EvalOptions{
		ProducerVersion: version,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return writeGatesEvalOutput(jsonOutput, gatesEvalOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	if reportPath != "" {
		if err := report.WriteReportFile(reportPath, validationReport); err != nil {
			return writeGatesEvalOutput(jsonOutput, gatesEvalOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
		}
	}
	if junitPath != "" {
		if err := report.WriteJUnitFile(junitPath, validationReport); err != nil {
			return writeGatesEvalOutput(jsonOutput, gatesEvalOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
		}
	}

	output := gatesEvalOutput{
		OK:           true,
		ReportID:     validationReport.ReportID,
		Verdict:      validationReport.Verdict,
		ReasonCodes:  validationReport.ReasonCodes,
		TotalResults: len(validationReport.Results),
		Gates:        validationReport.GateEvaluations,
		ReportPath:   reportPath,
		JUnitPath:    junitPath,
	}
	blocked := validationReport.Verdict == schemavalidation.VerdictBlocked
	if validationReport.Verdict == schemavalidation.VerdictAllowedWithWarnings && strictWarnings {
		blocked = true
	}
	if blocked {
		cause := fmt.Errorf("deployment blocked: %s", strings.Join(validationReport.ReasonCodes, ","))
		blockedErr := coreerrors.Wrap(cause, coreerrors.CategoryGateBlocked, "gate_blocked",
			"review the failing results in the validation report before redeploying", false)
		output.OK = false
		output.Error = blockedErr.Error()
		return writeGatesEvalOutput(jsonOutput, output, blockedErr, exitGateBlocked)
	}
	return writeGatesEvalOutput(jsonOutput, output, nil, exitOK)
}

func writeGatesEvalOutput(jsonOutput bool, output gatesEvalOutput, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONErrorOutput(output, err, exitCode)
	}
	if output.Verdict != "" {
		fmt.Printf("gates eval verdict: %s (results=%d)\n", output.Verdict, output.TotalResults)
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
		if !output.OK {
			fmt.Printf("gates eval error: %s\n", output.Error)
		}
		return exitCode
	}
	fmt.Printf("gates eval error: %s\n", output.Error)
	return exitCode
}

func writeGatesValidateOutput(jsonOutput bool, output gatesValidateOutput, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONErrorOutput(output, err, exitCode)
	}
	if output.OK {
		fmt.Printf("gates ok: tiers=%s\n", strings.Join(output.Tiers, ","))
		fmt.Printf("digest: %s\n", output.ConfigDigest)
		return exitCode
	}
	fmt.Printf("gates validate error: %s\n", output.Error)
	return exitCode
}

func printGatesUsage() {
	fmt.Println("Usage:")
	fmt.Println("  evalgate gates init [--out gates.yaml] [--force] [--json] [--explain]")
	fmt.Println("  evalgate gates validate <gates.yaml> [--json] [--explain]")
	fmt.Println("  evalgate gates eval --results <results.jsonl> [--gates <gates.yaml>] [--report <report.json>] [--junit <junit.xml>] [--strict-warnings] [--json] [--explain]")
}
