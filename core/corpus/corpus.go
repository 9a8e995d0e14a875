// Package corpus loads and normalizes rating reference corpora: the labeled
// statements that anchor semantic-similarity rating, and the embedded index
// built from them.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	evaljcs "github.com/davidahmann/evalgate/core/jcs"
	schemarating "github.com/davidahmann/evalgate/core/schema/v1/rating"
)

const (
	corpusSchemaID = "evalgate.rating.corpus"
	corpusSchemaV1 = "1.0.0"
)

type ReferenceStatement struct {
	Text        string `yaml:"text" json:"text"`
	Rating      int    `yaml:"rating" json:"rating"`
	Perspective string `yaml:"perspective" json:"perspective"`
}

type Corpus struct {
	SchemaID      string               `yaml:"schema_id" json:"schema_id"`
	SchemaVersion string               `yaml:"schema_version" json:"schema_version"`
	Name          string               `yaml:"name" json:"name"`
	Version       string               `yaml:"version" json:"version"`
	Statements    []ReferenceStatement `yaml:"statements" json:"statements"`
}

func LoadCorpusFile(path string) (Corpus, error) {
	// #nosec G304 -- corpus path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return Corpus{}, fmt.Errorf("read corpus: %w", err)
	}
	return ParseCorpusYAML(content)
}

func ParseCorpusYAML(data []byte) (Corpus, error) {
	var corpus Corpus
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return Corpus{}, fmt.Errorf("parse corpus yaml: %w", err)
	}
	return normalizeCorpus(corpus)
}

// CorpusDigest returns the sha256 JCS digest of the normalized corpus, so a
// rating result can pin exactly which reference statements produced it.
func CorpusDigest(corpus Corpus) (string, error) {
	normalized, err := normalizeCorpus(corpus)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal normalized corpus: %w", err)
	}
	digest, err := evaljcs.DigestJCS(raw)
	if err != nil {
		return "", fmt.Errorf("digest corpus: %w", err)
	}
	return digest, nil
}

// Perspectives returns the sorted unique perspectives covered by the corpus.
func Perspectives(corpus Corpus) []string {
	seen := make(map[string]struct{}, len(corpus.Statements))
	out := make([]string, 0, len(corpus.Statements))
	for _, statement := range corpus.Statements {
		perspective := strings.ToLower(strings.TrimSpace(statement.Perspective))
		if perspective == "" {
			continue
		}
		if _, ok := seen[perspective]; ok {
			continue
		}
		seen[perspective] = struct{}{}
		out = append(out, perspective)
	}
	sort.Strings(out)
	return out
}

func normalizeCorpus(input Corpus) (Corpus, error) {
	output := input
	if output.SchemaID == "" {
		output.SchemaID = corpusSchemaID
	}
	if output.SchemaID != corpusSchemaID {
		return Corpus{}, fmt.Errorf("unsupported corpus schema_id: %s", output.SchemaID)
	}
	if output.SchemaVersion == "" {
		output.SchemaVersion = corpusSchemaV1
	}
	if output.SchemaVersion != corpusSchemaV1 {
		return Corpus{}, fmt.Errorf("unsupported corpus schema_version: %s", output.SchemaVersion)
	}

	output.Name = strings.TrimSpace(output.Name)
	if output.Name == "" {
		return Corpus{}, fmt.Errorf("corpus name is required")
	}
	output.Version = strings.TrimSpace(output.Version)

	if len(output.Statements) == 0 {
		return Corpus{}, fmt.Errorf("corpus must contain at least one statement")
	}
	output.Statements = append([]ReferenceStatement(nil), output.Statements...)
	for index := range output.Statements {
		statement := &output.Statements[index]
		statement.Text = strings.TrimSpace(statement.Text)
		if statement.Text == "" {
			return Corpus{}, fmt.Errorf("statement %d: text is required", index)
		}
		statement.Perspective = strings.ToLower(strings.TrimSpace(statement.Perspective))
		if statement.Perspective == "" {
			return Corpus{}, fmt.Errorf("statement %d: perspective is required", index)
		}
		if statement.Rating < schemarating.MinRating || statement.Rating > schemarating.MaxRating {
			return Corpus{}, fmt.Errorf("statement %d: rating %d outside %d..%d",
				index, statement.Rating, schemarating.MinRating, schemarating.MaxRating)
		}
	}

	// Canonical order so equivalent corpora digest identically.
	sort.Slice(output.Statements, func(i, j int) bool {
		a, b := output.Statements[i], output.Statements[j]
		if a.Perspective != b.Perspective {
			return a.Perspective < b.Perspective
		}
		if a.Rating != b.Rating {
			return a.Rating < b.Rating
		}
		return a.Text < b.Text
	})
	return output, nil
}
