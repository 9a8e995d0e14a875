// Package ssr maps free-text evaluations onto 1..10 ratings by embedding
// similarity against a labeled reference corpus (semantic similarity rating).
// Scoring is deterministic: a fixed corpus index and embedding backend yield
// the same result for the same text on every call.
package ssr

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/davidahmann/evalgate/core/corpus"
	evaljcs "github.com/davidahmann/evalgate/core/jcs"
	"github.com/davidahmann/evalgate/core/provider"
	schemarating "github.com/davidahmann/evalgate/core/schema/v1/rating"
)

// tieEpsilon bounds the similarity difference treated as a tie between
// rating buckets. Tied buckets resolve to the lowest rating so the mapper
// never over-credits.
const tieEpsilon = 1e-9

const topMatchCount = 3

type Options struct {
	ProducerVersion string
	CreatedAt       time.Time
}

// Scorer rates texts against one corpus index. The index is read-only after
// construction; swapping corpora means constructing a new Scorer.
type Scorer struct {
	embedder provider.Embedder
	index    corpus.Index
	opts     Options
}

func NewScorer(embedder provider.Embedder, index corpus.Index, opts Options) *Scorer {
	return &Scorer{embedder: embedder, index: index, opts: opts}
}

func (s *Scorer) Score(ctx context.Context, text, perspective string) (schemarating.RatingResult, error) {
	results, err := s.ScoreMany(ctx, []string{text}, perspective)
	if err != nil {
		return schemarating.RatingResult{}, err
	}
	return results[0], nil
}

// ScoreMany embeds all texts in one batch call and scores each against the
// perspective's rating buckets.
func (s *Scorer) ScoreMany(ctx context.Context, texts []string, perspective string) ([]schemarating.RatingResult, error) {
	normalizedPerspective := strings.ToLower(strings.TrimSpace(perspective))
	if normalizedPerspective == "" {
		return nil, fmt.Errorf("perspective is required")
	}
	statements := s.index.StatementsFor(normalizedPerspective)
	if len(statements) == 0 {
		return nil, fmt.Errorf("corpus %s carries no statements for perspective %q",
			s.index.Name, normalizedPerspective)
	}
	if len(texts) == 0 {
		return []schemarating.RatingResult{}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("text %d is empty", i)
		}
	}

	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	results := make([]schemarating.RatingResult, len(texts))
	for i := range texts {
		if len(vectors[i]) != s.index.Dimensions {
			return nil, fmt.Errorf("text %d: embedding dimension %d does not match corpus index %d",
				i, len(vectors[i]), s.index.Dimensions)
		}
		results[i] = s.buildResult(texts[i], normalizedPerspective, vectors[i], statements)
	}
	return results, nil
}

func (s *Scorer) buildResult(text, perspective string, vector []float64, statements []corpus.EmbeddedStatement) schemarating.RatingResult {
	var (
		bucketScore [schemarating.MaxRating + 1]float64
		bucketSeen  [schemarating.MaxRating + 1]bool
	)
	for _, statement := range statements {
		similarity := cosine(vector, statement.Vector)
		if !bucketSeen[statement.Rating] || similarity > bucketScore[statement.Rating] {
			bucketScore[statement.Rating] = similarity
			bucketSeen[statement.Rating] = true
		}
	}

	// Ascending scan with a strict improvement threshold keeps the lowest
	// rating on a tie.
	predicted := 0
	bestScore := math.Inf(-1)
	for rating := schemarating.MinRating; rating <= schemarating.MaxRating; rating++ {
		if !bucketSeen[rating] {
			continue
		}
		if bucketScore[rating] > bestScore+tieEpsilon {
			bestScore = bucketScore[rating]
			predicted = rating
		}
	}

	matches := make([]schemarating.TopMatch, 0, schemarating.MaxRating)
	for rating := schemarating.MinRating; rating <= schemarating.MaxRating; rating++ {
		if bucketSeen[rating] {
			matches = append(matches, schemarating.TopMatch{Rating: rating, Score: bucketScore[rating]})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topMatchCount {
		matches = matches[:topMatchCount]
	}

	createdAt := s.opts.CreatedAt.UTC()
	if s.opts.CreatedAt.IsZero() {
		createdAt = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	producerVersion := s.opts.ProducerVersion
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}

	return schemarating.RatingResult{
		SchemaID:        schemarating.ResultSchemaID,
		SchemaVersion:   schemarating.ResultSchemaV1,
		CreatedAt:       createdAt,
		ProducerVersion: producerVersion,
		SourceDigest:    evaljcs.DigestText(text),
		Perspective:     perspective,
		CorpusName:      s.index.Name,
		CorpusVersion:   s.index.Version,
		CorpusDigest:    s.index.CorpusDigest,
		PredictedRating: predicted,
		Confidence:      bestScore,
		TopMatches:      matches,
	}
}

func cosine(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
