package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/davidahmann/evalgate/core/corpus"
	"github.com/davidahmann/evalgate/core/projectconfig"
	schemarating "github.com/davidahmann/evalgate/core/schema/v1/rating"
	"github.com/davidahmann/evalgate/core/ssr"
)

type scoreOutput struct {
	OK     bool                       `json:"ok"`
	Result *schemarating.RatingResult `json:"result,omitempty"`
	Error  string                     `json:"error,omitempty"`
}

func runScore(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Map free-text output onto a reference rating scale by cosine similarity against an embedded corpus; ties resolve to the lowest rating.")
	}
	flagSet := flag.NewFlagSet("score", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var text string
	var inputPath string
	var perspective string
	var indexPath string
	var configPath string
	var apiKeyEnv string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&text, "text", "", "text to score")
	flagSet.StringVar(&inputPath, "input", "", "path to a file holding the text to score")
	flagSet.StringVar(&perspective, "perspective", "", "corpus perspective to score against")
	flagSet.StringVar(&indexPath, "index", "", "path to the corpus index artifact")
	flagSet.StringVar(&configPath, "config", projectconfig.DefaultPath, "path to project config")
	flagSet.StringVar(&apiKeyEnv, "api-key-env", "", "environment variable holding the provider API key")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printScoreUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: "unexpected positional arguments"}, nil, exitInvalidInput)
	}
	if text != "" && inputPath != "" {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: "--text and --input are mutually exclusive"}, nil, exitInvalidInput)
	}
	if inputPath != "" {
		content, err := readScoreInput(inputPath)
		if err != nil {
			return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
		}
		text = content
	}
	if strings.TrimSpace(text) == "" {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: "missing required --text <string> or --input <path>"}, nil, exitInvalidInput)
	}
	if strings.TrimSpace(perspective) == "" {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: "missing required --perspective <name>"}, nil, exitInvalidInput)
	}

	projectDefaults, err := projectconfig.Load(configPath, true)
	if err != nil {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	resolvedIndex := firstNonEmpty(indexPath, projectDefaults.Rating.Index)
	if resolvedIndex == "" {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: "missing required --index <index.json>"}, nil, exitInvalidInput)
	}

	index, err := corpus.LoadIndexFile(resolvedIndex)
	if err != nil {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	client, err := newProviderClient(
		firstNonEmpty(apiKeyEnv, projectDefaults.Provider.APIKeyEnv),
		index.EmbeddingModel)
	if err != nil {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: err.Error()}, err, exitCodeForError(err, exitInvalidInput))
	}

	scorer := ssr.NewScorer(client, index, ssr.Options{
		ProducerVersion: version,
		CreatedAt:       time.Now().UTC(),
	})
	result, err := scorer.Score(context.Background(), text, perspective)
	if err != nil {
		return writeScoreOutput(jsonOutput, scoreOutput{OK: false, Error: err.Error()}, err, exitCodeForError(err, exitProviderFailure))
	}

	return writeScoreOutput(jsonOutput, scoreOutput{OK: true, Result: &result}, nil, exitOK)
}

// readScoreInput reads the text to score from a file, or from stdin when the
// path is "-".
func readScoreInput(inputPath string) (string, error) {
	if inputPath == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(content), nil
	}
	// #nosec G304 -- input path is explicit local user input.
	content, err := os.ReadFile(inputPath)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func writeScoreOutput(jsonOutput bool, output scoreOutput, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONErrorOutput(output, err, exitCode)
	}
	if output.OK {
		fmt.Printf("score ok: rating=%d confidence=%.4f perspective=%s\n", output.Result.PredictedRating, output.Result.Confidence, output.Result.Perspective)
		for _, match := range output.Result.TopMatches {
			fmt.Printf("  rating %d score %.4f\n", match.Rating, match.Score)
		}
		return exitCode
	}
	fmt.Printf("score error: %s\n", output.Error)
	return exitCode
}

func printScoreUsage() {
	fmt.Println("Usage:")
	fmt.Println("  evalgate score --text <string> --perspective <name> --index <index.json> [--json] [--explain]")
	fmt.Println("  evalgate score --input <path|-> --perspective <name> --index <index.json> [--json] [--explain]")
}
