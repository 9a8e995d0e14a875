package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/davidahmann/evalgate/core/telemetry"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	startedAt := time.Now()
	correlationID := newCorrelationID(arguments)
	setCurrentCorrelationID(correlationID)
	command := normalizeCommand(arguments)
	writeOperationalEventStart(command, correlationID, startedAt.UTC())
	exitCode := runDispatch(arguments)
	finishedAt := time.Now().UTC()
	elapsed := time.Since(startedAt)
	writeOperationalEventEnd(command, correlationID, exitCode, elapsed, finishedAt)
	setCurrentCorrelationID("")
	return exitCode
}

func runDispatch(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("evalgate", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		return writeExplain("Evalgate runs staged advisory pipelines against hosted models, maps free-text output onto reference rating scales, and gates deployments on categorized test results.")
	}

	switch arguments[1] {
	case "pipeline":
		return runPipeline(arguments[2:])
	case "corpus":
		return runCorpus(arguments[2:])
	case "score":
		return runScore(arguments[2:])
	case "validate":
		return runValidate(arguments[2:])
	case "gates":
		return runGates(arguments[2:])
	case "version", "--version", "-v":
		if hasExplainFlag(arguments[2:]) {
			return writeExplain("Print the CLI version.")
		}
		fmt.Println("evalgate", version)
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func normalizeCommand(arguments []string) string {
	if len(arguments) < 2 {
		return "version"
	}
	command := strings.TrimSpace(arguments[1])
	if command == "" {
		return "unknown"
	}
	switch command {
	case "--version", "-v", "version":
		return "version"
	case "--explain":
		return "explain"
	case "pipeline", "corpus", "gates":
		if len(arguments) > 2 {
			subcommand := strings.TrimSpace(arguments[2])
			if subcommand != "" && !strings.HasPrefix(subcommand, "-") {
				return command + " " + subcommand
			}
		}
	}
	return command
}

func writeOperationalEventStart(command string, correlationID string, now time.Time) {
	operationalPath := strings.TrimSpace(os.Getenv("EVALGATE_OPERATIONAL_LOG"))
	if operationalPath == "" {
		return
	}
	event := telemetry.NewStartEvent(command, correlationID, version, now)
	reportTelemetryWriteFailure("operational_start", telemetry.AppendEvent(operationalPath, event))
}

func writeOperationalEventEnd(command string, correlationID string, exitCode int, elapsed time.Duration, now time.Time) {
	operationalPath := strings.TrimSpace(os.Getenv("EVALGATE_OPERATIONAL_LOG"))
	if operationalPath == "" {
		return
	}
	category := "none"
	retryable := false
	if exitCode != exitOK {
		resolvedCategory := defaultErrorCategory(exitCode)
		category = string(resolvedCategory)
		retryable = defaultRetryable(resolvedCategory)
	}
	event := telemetry.NewEndEvent(command, correlationID, version, exitCode, category, retryable, elapsed, now)
	reportTelemetryWriteFailure("operational_end", telemetry.AppendEvent(operationalPath, event))
}

func reportTelemetryWriteFailure(stream string, err error) {
	if err == nil {
		return
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("EVALGATE_TELEMETRY_WARN")), "off") {
		return
	}
	fmt.Fprintf(os.Stderr, "evalgate warning: telemetry stream=%s write failed: %v\n", stream, err)
}
