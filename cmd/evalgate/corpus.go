package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/davidahmann/evalgate/core/corpus"
	"github.com/davidahmann/evalgate/core/projectconfig"
)

type corpusBuildOutput struct {
	OK             bool   `json:"ok"`
	Name           string `json:"name,omitempty"`
	Version        string `json:"version,omitempty"`
	Statements     int    `json:"statements,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	CorpusDigest   string `json:"corpus_digest,omitempty"`
	IndexPath      string `json:"index_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

type corpusValidateOutput struct {
	OK           bool     `json:"ok"`
	Name         string   `json:"name,omitempty"`
	Version      string   `json:"version,omitempty"`
	Statements   int      `json:"statements,omitempty"`
	Perspectives []string `json:"perspectives,omitempty"`
	CorpusDigest string   `json:"corpus_digest,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func runCorpus(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Manage reference rating corpora: validate the YAML source and build the embedded index the scorer loads.")
	}
	if len(arguments) == 0 {
		printCorpusUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "build":
		return runCorpusBuild(arguments[1:])
	case "validate":
		return runCorpusValidate(arguments[1:])
	default:
		printCorpusUsage()
		return exitInvalidInput
	}
}

func runCorpusBuild(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Embed every reference statement once and write the index artifact; scoring never re-embeds the corpus.")
	}
	flagSet := flag.NewFlagSet("corpus-build", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var corpusPath string
	var outPath string
	var embeddingModel string
	var configPath string
	var apiKeyEnv string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&corpusPath, "corpus", "", "path to corpus yaml")
	flagSet.StringVar(&outPath, "out", "", "path for the index artifact")
	flagSet.StringVar(&embeddingModel, "embedding-model", "", "embedding model id")
	flagSet.StringVar(&configPath, "config", projectconfig.DefaultPath, "path to project config")
	flagSet.StringVar(&apiKeyEnv, "api-key-env", "", "environment variable holding the provider API key")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printCorpusUsage()
		return exitOK
	}

	projectDefaults, err := projectconfig.Load(configPath, true)
	if err != nil {
		return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	resolvedCorpus := firstNonEmpty(corpusPath, projectDefaults.Rating.Corpus)
	if resolvedCorpus == "" {
		return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{OK: false, Error: "missing required --corpus <corpus.yaml>"}, nil, exitInvalidInput)
	}
	resolvedOut := firstNonEmpty(outPath, projectDefaults.Rating.Index)
	if resolvedOut == "" {
		return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{OK: false, Error: "missing required --out <index.json>"}, nil, exitInvalidInput)
	}

	referenceCorpus, err := corpus.LoadCorpusFile(resolvedCorpus)
	if err != nil {
		return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}

	client, err := newProviderClient(
		firstNonEmpty(apiKeyEnv, projectDefaults.Provider.APIKeyEnv),
		firstNonEmpty(embeddingModel, projectDefaults.Provider.EmbeddingModel))
	if err != nil {
		return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{OK: false, Error: err.Error()}, err, exitCodeForError(err, exitInvalidInput))
	}

	index, err := corpus.Build(context.Background(), client, referenceCorpus, corpus.BuildOptions{
		EmbeddingModel:  firstNonEmpty(embeddingModel, projectDefaults.Provider.EmbeddingModel),
		ProducerVersion: version,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{OK: false, Error: err.Error()}, err, exitCodeForError(err, exitProviderFailure))
	}
	if err := corpus.SaveIndex(resolvedOut, index); err != nil {
		return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
	}

	return writeCorpusBuildOutput(jsonOutput, corpusBuildOutput{
		OK:             true,
		Name:           index.Name,
		Version:        index.Version,
		Statements:     len(index.Statements),
		Dimensions:     index.Dimensions,
		EmbeddingModel: index.EmbeddingModel,
		CorpusDigest:   index.CorpusDigest,
		IndexPath:      resolvedOut,
	}, nil, exitOK)
}

func writeCorpusBuildOutput(jsonOutput bool, output corpusBuildOutput, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONErrorOutput(output, err, exitCode)
	}
	if output.OK {
		fmt.Printf("corpus build ok: name=%s statements=%d dimensions=%d\n", output.Name, output.Statements, output.Dimensions)
		fmt.Printf("index: %s\n", output.IndexPath)
		return exitCode
	}
	fmt.Printf("corpus build error: %s\n", output.Error)
	return exitCode
}

func runCorpusValidate(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Parse and normalize a corpus without embedding it; prints the digest the index build would pin.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{"corpus": true})
	flagSet := flag.NewFlagSet("corpus-validate", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var corpusPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&corpusPath, "corpus", "", "path to corpus yaml")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeCorpusValidateOutput(jsonOutput, corpusValidateOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	if helpFlag {
		printCorpusUsage()
		return exitOK
	}
	if corpusPath == "" && len(flagSet.Args()) == 1 {
		corpusPath = flagSet.Args()[0]
	}
	if strings.TrimSpace(corpusPath) == "" {
		return writeCorpusValidateOutput(jsonOutput, corpusValidateOutput{OK: false, Error: "missing required --corpus <corpus.yaml>"}, nil, exitInvalidInput)
	}

	referenceCorpus, err := corpus.LoadCorpusFile(corpusPath)
	if err != nil {
		return writeCorpusValidateOutput(jsonOutput, corpusValidateOutput{OK: false, Error: err.Error()}, err, exitInvalidInput)
	}
	digest, err := corpus.CorpusDigest(referenceCorpus)
	if err != nil {
		return writeCorpusValidateOutput(jsonOutput, corpusValidateOutput{OK: false, Error: err.Error()}, err, exitInternalFailure)
	}

	return writeCorpusValidateOutput(jsonOutput, corpusValidateOutput{
		OK:           true,
		Name:         referenceCorpus.Name,
		Version:      referenceCorpus.Version,
		Statements:   len(referenceCorpus.Statements),
		Perspectives: corpus.Perspectives(referenceCorpus),
		CorpusDigest: digest,
	}, nil, exitOK)
}

func writeCorpusValidateOutput(jsonOutput bool, output corpusValidateOutput, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONErrorOutput(output, err, exitCode)
	}
	if output.OK {
		fmt.Printf("corpus ok: name=%s statements=%d perspectives=%s\n", output.Name, output.Statements, strings.Join(output.Perspectives, ","))
		fmt.Printf("digest: %s\n", output.CorpusDigest)
		return exitCode
	}
	fmt.Printf("corpus validate error: %s\n", output.Error)
	return exitCode
}

func printCorpusUsage() {
	fmt.Println("Usage:")
	fmt.Println("  evalgate corpus build --corpus <corpus.yaml> --out <index.json> [--embedding-model <id>] [--api-key-env OPENAI_API_KEY] [--json] [--explain]")
	fmt.Println("  evalgate corpus validate --corpus <corpus.yaml> [--json] [--explain]")
}
