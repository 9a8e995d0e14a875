// Package pipeline runs a transcript through the three-stage generation
// pipeline: fact extraction, reasoning, summarization. Stages execute
// strictly in order, each with its own sampling configuration, and a failed
// stage aborts the run with every completed predecessor preserved.
package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	schemapipeline "github.com/davidahmann/evalgate/core/schema/v1/pipeline"
)

const (
	configSchemaID = "evalgate.pipeline.stage_config"
	configSchemaV1 = "1.0.0"

	defaultModelID = "gpt-4o-mini"

	// MaxTranscriptChars bounds orchestrator input; anything larger is
	// rejected before stage one.
	MaxTranscriptChars = 100_000
)

// StageConfig carries the sampling parameters for one stage.
type StageConfig struct {
	ModelID     string  `yaml:"model_id" json:"model_id"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	TopP        float64 `yaml:"top_p" json:"top_p"`
	MaxTokens   int64   `yaml:"max_tokens" json:"max_tokens"`
}

type ModelPrice struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// PriceTable maps model IDs to per-1k-token prices. Models absent from the
// table cost zero in traces rather than failing the run.
type PriceTable map[string]ModelPrice

func (p PriceTable) Cost(modelID string, inputTokens, outputTokens int64) float64 {
	price, ok := p[modelID]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*price.InputPer1K + float64(outputTokens)/1000*price.OutputPer1K
}

type Config struct {
	SchemaID      string                 `yaml:"schema_id" json:"schema_id"`
	SchemaVersion string                 `yaml:"schema_version" json:"schema_version"`
	Stages        map[string]StageConfig `yaml:"stages" json:"stages"`
	Prices        PriceTable             `yaml:"prices" json:"prices"`
}

func LoadConfigFile(path string) (Config, error) {
	// #nosec G304 -- stage config path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read stage config: %w", err)
	}
	return ParseConfigYAML(content)
}

func ParseConfigYAML(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse stage config yaml: %w", err)
	}
	return normalizeConfig(config)
}

// DefaultConfig returns the recommended per-stage sampling: low temperature
// for fact extraction, medium-high for reasoning, medium for summarization.
func DefaultConfig() Config {
	return Config{
		SchemaID:      configSchemaID,
		SchemaVersion: configSchemaV1,
		Stages: map[string]StageConfig{
			schemapipeline.StageFactExtraction: {ModelID: defaultModelID, Temperature: 0.25, TopP: 1, MaxTokens: 800},
			schemapipeline.StageReasoning:      {ModelID: defaultModelID, Temperature: 0.7, TopP: 1, MaxTokens: 1200},
			schemapipeline.StageSummarization:  {ModelID: defaultModelID, Temperature: 0.45, TopP: 1, MaxTokens: 800},
		},
		Prices: PriceTable{},
	}
}

func normalizeConfig(input Config) (Config, error) {
	output := input
	if output.SchemaID == "" {
		output.SchemaID = configSchemaID
	}
	if output.SchemaID != configSchemaID {
		return Config{}, fmt.Errorf("unsupported stage config schema_id: %s", output.SchemaID)
	}
	if output.SchemaVersion == "" {
		output.SchemaVersion = configSchemaV1
	}
	if output.SchemaVersion != configSchemaV1 {
		return Config{}, fmt.Errorf("unsupported stage config schema_version: %s", output.SchemaVersion)
	}

	if len(output.Stages) == 0 {
		output.Stages = DefaultConfig().Stages
	}
	known := schemapipeline.StageOrder()
	for stageName := range output.Stages {
		if !containsStage(known, stageName) {
			return Config{}, fmt.Errorf("unknown stage %q", stageName)
		}
	}
	normalizedStages := make(map[string]StageConfig, len(known))
	for _, stageName := range known {
		stage, ok := output.Stages[stageName]
		if !ok {
			return Config{}, fmt.Errorf("stage %s is not configured", stageName)
		}
		stage.ModelID = strings.TrimSpace(stage.ModelID)
		if stage.ModelID == "" {
			return Config{}, fmt.Errorf("stage %s: model_id is required", stageName)
		}
		if stage.Temperature < 0 || stage.Temperature > 1 {
			return Config{}, fmt.Errorf("stage %s: temperature %v outside [0,1]", stageName, stage.Temperature)
		}
		if stage.TopP == 0 {
			stage.TopP = 1
		}
		if stage.TopP <= 0 || stage.TopP > 1 {
			return Config{}, fmt.Errorf("stage %s: top_p %v outside (0,1]", stageName, stage.TopP)
		}
		if stage.MaxTokens <= 0 {
			return Config{}, fmt.Errorf("stage %s: max_tokens must be positive", stageName)
		}
		normalizedStages[stageName] = stage
	}
	output.Stages = normalizedStages

	if output.Prices == nil {
		output.Prices = PriceTable{}
	}
	normalizedPrices := make(PriceTable, len(output.Prices))
	for modelID, price := range output.Prices {
		trimmed := strings.TrimSpace(modelID)
		if trimmed == "" {
			return Config{}, fmt.Errorf("price table entry with empty model id")
		}
		if price.InputPer1K < 0 || price.OutputPer1K < 0 {
			return Config{}, fmt.Errorf("price table entry %s: negative price", trimmed)
		}
		normalizedPrices[trimmed] = price
	}
	output.Prices = normalizedPrices
	return output, nil
}

func containsStage(stages []string, wanted string) bool {
	for _, stage := range stages {
		if stage == wanted {
			return true
		}
	}
	return false
}
