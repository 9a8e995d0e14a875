package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/davidahmann/evalgate/core/fsx"
	"github.com/davidahmann/evalgate/core/provider"
)

const (
	IndexSchemaID = "evalgate.rating.corpus_index"
	IndexSchemaV1 = "1.0.0"
)

// EmbeddedStatement is one reference statement with its embedding vector.
type EmbeddedStatement struct {
	Text        string    `json:"text"`
	Rating      int       `json:"rating"`
	Perspective string    `json:"perspective"`
	Vector      []float64 `json:"vector"`
}

// Index is the embedded corpus artifact consumed by the rating mapper. It is
// built once per corpus version and reused across scoring calls, so scoring
// stays deterministic and does not re-embed references.
type Index struct {
	SchemaID        string              `json:"schema_id"`
	SchemaVersion   string              `json:"schema_version"`
	CreatedAt       time.Time           `json:"created_at"`
	ProducerVersion string              `json:"producer_version"`
	Name            string              `json:"name"`
	Version         string              `json:"version"`
	CorpusDigest    string              `json:"corpus_digest"`
	EmbeddingModel  string              `json:"embedding_model"`
	Dimensions      int                 `json:"dimensions"`
	Statements      []EmbeddedStatement `json:"statements"`
}

type BuildOptions struct {
	EmbeddingModel  string
	ProducerVersion string
	CreatedAt       time.Time
}

// Build embeds every statement in corpus and assembles the index. Statement
// order follows the normalized corpus, so two builds of the same corpus
// differ only in vectors the embedder returns.
func Build(ctx context.Context, embedder provider.Embedder, corpus Corpus, opts BuildOptions) (Index, error) {
	normalized, err := normalizeCorpus(corpus)
	if err != nil {
		return Index{}, err
	}
	digest, err := CorpusDigest(normalized)
	if err != nil {
		return Index{}, err
	}

	texts := make([]string, len(normalized.Statements))
	for i, statement := range normalized.Statements {
		texts[i] = statement.Text
	}
	vectors, err := embedder.EmbedMany(ctx, texts)
	if err != nil {
		return Index{}, fmt.Errorf("embed corpus statements: %w", err)
	}
	if len(vectors) != len(texts) {
		return Index{}, fmt.Errorf("embedder returned %d vectors for %d statements", len(vectors), len(texts))
	}

	dimensions := 0
	embedded := make([]EmbeddedStatement, len(normalized.Statements))
	for i, statement := range normalized.Statements {
		vector := vectors[i]
		if len(vector) == 0 {
			return Index{}, fmt.Errorf("statement %d: empty embedding vector", i)
		}
		if dimensions == 0 {
			dimensions = len(vector)
		}
		if len(vector) != dimensions {
			return Index{}, fmt.Errorf("statement %d: vector dimension %d, expected %d", i, len(vector), dimensions)
		}
		embedded[i] = EmbeddedStatement{
			Text:        statement.Text,
			Rating:      statement.Rating,
			Perspective: statement.Perspective,
			Vector:      vector,
		}
	}

	createdAt := opts.CreatedAt.UTC()
	if opts.CreatedAt.IsZero() {
		createdAt = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	producerVersion := opts.ProducerVersion
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	embeddingModel := strings.TrimSpace(opts.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = provider.DefaultEmbeddingModel
	}

	return Index{
		SchemaID:        IndexSchemaID,
		SchemaVersion:   IndexSchemaV1,
		CreatedAt:       createdAt,
		ProducerVersion: producerVersion,
		Name:            normalized.Name,
		Version:         normalized.Version,
		CorpusDigest:    digest,
		EmbeddingModel:  embeddingModel,
		Dimensions:      dimensions,
		Statements:      embedded,
	}, nil
}

// SaveIndex writes the index as formatted JSON via an atomic replace.
func SaveIndex(path string, index Index) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	return fsx.WriteJSONAtomic(path, index, 0o644)
}

func LoadIndexFile(path string) (Index, error) {
	// #nosec G304 -- index path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return Index{}, fmt.Errorf("read corpus index: %w", err)
	}
	var index Index
	if err := json.Unmarshal(content, &index); err != nil {
		return Index{}, fmt.Errorf("parse corpus index: %w", err)
	}
	if err := validateIndex(index); err != nil {
		return Index{}, err
	}
	return index, nil
}

// StatementsFor returns the embedded statements labeled with perspective.
func (i Index) StatementsFor(perspective string) []EmbeddedStatement {
	wanted := strings.ToLower(strings.TrimSpace(perspective))
	out := make([]EmbeddedStatement, 0, len(i.Statements))
	for _, statement := range i.Statements {
		if statement.Perspective == wanted {
			out = append(out, statement)
		}
	}
	return out
}

func validateIndex(index Index) error {
	if index.SchemaID != IndexSchemaID {
		return fmt.Errorf("unsupported corpus index schema_id: %s", index.SchemaID)
	}
	if index.SchemaVersion != IndexSchemaV1 {
		return fmt.Errorf("unsupported corpus index schema_version: %s", index.SchemaVersion)
	}
	if strings.TrimSpace(index.Name) == "" {
		return fmt.Errorf("corpus index name is required")
	}
	if index.Dimensions <= 0 {
		return fmt.Errorf("corpus index dimensions must be positive")
	}
	if len(index.Statements) == 0 {
		return fmt.Errorf("corpus index must contain at least one statement")
	}
	for i, statement := range index.Statements {
		if strings.TrimSpace(statement.Text) == "" {
			return fmt.Errorf("index statement %d: text is required", i)
		}
		if strings.TrimSpace(statement.Perspective) == "" {
			return fmt.Errorf("index statement %d: perspective is required", i)
		}
		if len(statement.Vector) != index.Dimensions {
			return fmt.Errorf("index statement %d: vector dimension %d, expected %d",
				i, len(statement.Vector), index.Dimensions)
		}
	}
	return nil
}
