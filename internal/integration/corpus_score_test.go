package integration

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/evalgate/core/corpus"
	evaljcs "github.com/davidahmann/evalgate/core/jcs"
	"github.com/davidahmann/evalgate/core/ssr"
)

const toneCorpusYAML = `
name: advisor-tone
version: 2.0.0
statements:
  - text: The answer resolves the question with clear, actionable steps.
    rating: 9
    perspective: helpfulness
  - text: The answer addresses the question but omits key caveats.
    rating: 5
    perspective: helpfulness
  - text: The answer ignores the client's question entirely.
    rating: 1
    perspective: helpfulness
`

func TestCorpusBuildScoreRoundTrip(t *testing.T) {
	workDir := t.TempDir()
	createdAt := time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)

	referenceCorpus, err := corpus.ParseCorpusYAML([]byte(toneCorpusYAML))
	if err != nil {
		t.Fatalf("parse corpus: %v", err)
	}

	clearQuery := "The reply gives the client clear, direct next steps."
	splitQuery := "The reply is half useful and half beside the point."
	embedder := &keyedEmbedder{vectors: map[string][]float64{
		"The answer resolves the question with clear, actionable steps.": {1, 0, 0},
		"The answer addresses the question but omits key caveats.":       {0, 1, 0},
		"The answer ignores the client's question entirely.":             {0, 0, 1},
		clearQuery: {0.9, 0.3, 0},
		splitQuery: {0, 0.5, 0.5},
	}}

	built, err := corpus.Build(context.Background(), embedder, referenceCorpus, corpus.BuildOptions{
		EmbeddingModel:  "text-embedding-3-small",
		ProducerVersion: "0.0.0-test",
		CreatedAt:       createdAt,
	})
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	if built.Dimensions != 3 || len(built.Statements) != 3 {
		t.Fatalf("unexpected index shape: dims=%d statements=%d", built.Dimensions, len(built.Statements))
	}
	if len(built.CorpusDigest) != 64 {
		t.Fatalf("unexpected corpus digest: %q", built.CorpusDigest)
	}
	// Normalization orders statements by rating within the perspective.
	for index, wantRating := range []int{1, 5, 9} {
		if built.Statements[index].Rating != wantRating {
			t.Fatalf("statement %d: got rating %d want %d", index, built.Statements[index].Rating, wantRating)
		}
	}

	indexPath := filepath.Join(workDir, "advisor-tone.index.json")
	if err := corpus.SaveIndex(indexPath, built); err != nil {
		t.Fatalf("save index: %v", err)
	}
	loaded, err := corpus.LoadIndexFile(indexPath)
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if loaded.CorpusDigest != built.CorpusDigest || loaded.Dimensions != built.Dimensions {
		t.Fatalf("index round trip diverges: %#v", loaded)
	}
	if loaded.Name != "advisor-tone" || loaded.Version != "2.0.0" || loaded.EmbeddingModel != "text-embedding-3-small" {
		t.Fatalf("index header diverges: %#v", loaded)
	}
	if !reflect.DeepEqual(loaded.Statements, built.Statements) {
		t.Fatalf("index statements diverge:\n got %#v\nwant %#v", loaded.Statements, built.Statements)
	}
	if got := loaded.StatementsFor("helpfulness"); len(got) != 3 {
		t.Fatalf("expected 3 helpfulness statements, got %d", len(got))
	}

	scorer := ssr.NewScorer(embedder, loaded, ssr.Options{ProducerVersion: "0.0.0-test", CreatedAt: createdAt})

	result, err := scorer.Score(context.Background(), clearQuery, "helpfulness")
	if err != nil {
		t.Fatalf("score clear query: %v", err)
	}
	if result.PredictedRating != 9 {
		t.Fatalf("unexpected rating for clear query: %#v", result)
	}
	wantConfidence := math.Sqrt(0.9)
	if math.Abs(result.Confidence-wantConfidence) > 1e-9 {
		t.Fatalf("unexpected confidence: got %v want %v", result.Confidence, wantConfidence)
	}
	if result.SourceDigest != evaljcs.DigestText(clearQuery) {
		t.Fatalf("source digest diverges: %s", result.SourceDigest)
	}
	if result.CorpusName != "advisor-tone" || result.CorpusDigest != loaded.CorpusDigest {
		t.Fatalf("result does not carry corpus provenance: %#v", result)
	}
	if len(result.TopMatches) != 3 {
		t.Fatalf("expected 3 top matches, got %#v", result.TopMatches)
	}
	for index, wantRating := range []int{9, 5, 1} {
		if result.TopMatches[index].Rating != wantRating {
			t.Fatalf("top match %d: got rating %d want %d", index, result.TopMatches[index].Rating, wantRating)
		}
	}
	if result.TopMatches[0].Score < result.TopMatches[1].Score || result.TopMatches[1].Score < result.TopMatches[2].Score {
		t.Fatalf("top matches are not sorted by score: %#v", result.TopMatches)
	}

	// Ratings 1 and 5 sit at the same distance from the split query, so the
	// lower rating wins the tie.
	tied, err := scorer.Score(context.Background(), splitQuery, "helpfulness")
	if err != nil {
		t.Fatalf("score split query: %v", err)
	}
	if tied.PredictedRating != 1 {
		t.Fatalf("tie should resolve to the lowest rating, got %#v", tied)
	}
	if math.Abs(tied.Confidence-math.Sqrt(0.5)) > 1e-9 {
		t.Fatalf("unexpected tie confidence: %v", tied.Confidence)
	}

	if _, err := scorer.Score(context.Background(), clearQuery, "brevity"); err == nil {
		t.Fatalf("expected an error for a perspective the corpus does not carry")
	} else if !strings.Contains(err.Error(), "brevity") {
		t.Fatalf("perspective error should name the perspective: %v", err)
	}
}

// keyedEmbedder returns fixed vectors by exact text so similarity outcomes
// are hand-checkable.
type keyedEmbedder struct {
	vectors map[string][]float64
}

func (e *keyedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *keyedEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vector, ok := e.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no scripted vector for text %q", text)
		}
		vectors[i] = append([]float64(nil), vector...)
	}
	return vectors, nil
}
