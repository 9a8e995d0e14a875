package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/davidahmann/evalgate/core/errors"
)

const DefaultEmbeddingModel = "text-embedding-3-small"

// OpenAIClient adapts the OpenAI Responses and Embeddings APIs to the
// Generator and Embedder interfaces.
type OpenAIClient struct {
	client         *openai.Client
	embeddingModel string
}

func NewOpenAIClient(apiKey, embeddingModel string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.Wrap(stderrors.New("openai api key is empty"),
			errors.CategoryInvalidInput, "provider_api_key_missing",
			"export the key named by provider.api_key_env before running", false)
	}
	if strings.TrimSpace(embeddingModel) == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{client: &client, embeddingModel: embeddingModel}, nil
}

// Invoke issues exactly one generation call. Failed generations are not
// retried here; the classified error tells batch callers whether a retry
// is worthwhile.
func (c *OpenAIClient) Invoke(ctx context.Context, request GenerationRequest) (GenerationResult, error) {
	if strings.TrimSpace(request.ModelID) == "" {
		return GenerationResult{}, WrapKind(stderrors.New("model_id is empty"), KindInvalidModel)
	}

	params := responses.ResponseNewParams{
		Model:           request.ModelID,
		MaxOutputTokens: openai.Int(request.MaxTokens),
		Temperature:     openai.Float(request.Temperature),
		TopP:            openai.Float(request.TopP),
		Instructions:    openai.String(request.SystemPrompt),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(request.UserPrompt, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if request.OutputSchema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   request.OutputSchemaName,
					Schema: request.OutputSchema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}

	start := time.Now()
	resp, err := c.client.Responses.New(ctx, params)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return GenerationResult{}, classifyOpenAIError(err)
	}

	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return GenerationResult{}, WrapKind(
			fmt.Errorf("model %s returned no output text", request.ModelID), KindInvalidResponse)
	}
	return GenerationResult{
		Text:         text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		LatencyMS:    latency,
	}, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany embeds texts in a single call and returns vectors in input order.
func (c *OpenAIClient) EmbedMany(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, WrapKind(
			fmt.Errorf("embedding response carries %d vectors for %d inputs", len(resp.Data), len(texts)),
			KindInvalidResponse)
	}
	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(texts) {
			return nil, WrapKind(
				fmt.Errorf("embedding response index %d out of range", item.Index), KindInvalidResponse)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// classifyOpenAIError maps API failures onto provider kinds by message
// inspection, matching the status strings the service returns.
func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return WrapKind(err, KindTimeout)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return WrapKind(err, KindRateLimit)
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return WrapKind(err, KindTimeout)
	case strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "invalid model"):
		return WrapKind(err, KindInvalidModel)
	default:
		return WrapKind(err, KindInvalidResponse)
	}
}
