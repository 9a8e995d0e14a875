// Package provider defines the external generation and embedding capabilities
// consumed by the pipeline, the rating mapper, and the validation harness. The
// engine packages depend only on these interfaces; the OpenAI adapter is the
// one concrete backend shipped with the CLI.
package provider

import "context"

type GenerationRequest struct {
	ModelID      string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	TopP         float64
	MaxTokens    int64

	// OutputSchema, when set, constrains the response to a strict JSON
	// schema. OutputSchemaName labels the schema for the provider.
	OutputSchemaName string
	OutputSchema     map[string]any
}

type GenerationResult struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	LatencyMS    int64
}

type Generator interface {
	Invoke(ctx context.Context, request GenerationRequest) (GenerationResult, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float64, error)
}
