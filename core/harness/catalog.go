// Package harness executes evaluation case catalogs against a generation
// backend and emits the categorized test results the gate engine consumes.
package harness

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

const (
	catalogSchemaID = "evalgate.validation.catalog"
	catalogSchemaV1 = "1.0.0"

	promptVar = "prompt"
)

var allowedCategories = map[string]struct{}{
	schemavalidation.CategoryGolden:      {},
	schemavalidation.CategoryEdge:        {},
	schemavalidation.CategoryAdversarial: {},
	schemavalidation.CategoryMonitoring:  {},
}

// Assertions are the per-case pass criteria, all of which must hold.
type Assertions struct {
	MustContain    []string `yaml:"must_contain" json:"must_contain,omitempty"`
	MustNotContain []string `yaml:"must_not_contain" json:"must_not_contain,omitempty"`
	Matches        []string `yaml:"matches" json:"matches,omitempty"`
}

// EvaluationCase is one catalog entry. InputVars must carry a prompt; other
// vars substitute into {{name}} placeholders inside it.
type EvaluationCase struct {
	ID         string            `yaml:"id" json:"id"`
	Category   string            `yaml:"category" json:"category"`
	InputVars  map[string]string `yaml:"input_vars" json:"input_vars"`
	Assertions Assertions        `yaml:"assertions" json:"assertions"`
}

type Catalog struct {
	SchemaID      string           `yaml:"schema_id" json:"schema_id"`
	SchemaVersion string           `yaml:"schema_version" json:"schema_version"`
	Name          string           `yaml:"name" json:"name"`
	Version       string           `yaml:"version" json:"version"`
	SystemPrompt  string           `yaml:"system_prompt" json:"system_prompt,omitempty"`
	Cases         []EvaluationCase `yaml:"cases" json:"cases"`
}

func LoadCatalogFile(path string) (Catalog, error) {
	// #nosec G304 -- catalog path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read case catalog: %w", err)
	}
	return ParseCatalogYAML(content)
}

func ParseCatalogYAML(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse case catalog yaml: %w", err)
	}
	return normalizeCatalog(catalog)
}

func normalizeCatalog(input Catalog) (Catalog, error) {
	output := input
	if output.SchemaID == "" {
		output.SchemaID = catalogSchemaID
	}
	if output.SchemaID != catalogSchemaID {
		return Catalog{}, fmt.Errorf("unsupported catalog schema_id: %s", output.SchemaID)
	}
	if output.SchemaVersion == "" {
		output.SchemaVersion = catalogSchemaV1
	}
	if output.SchemaVersion != catalogSchemaV1 {
		return Catalog{}, fmt.Errorf("unsupported catalog schema_version: %s", output.SchemaVersion)
	}

	output.Name = strings.TrimSpace(output.Name)
	if output.Name == "" {
		return Catalog{}, fmt.Errorf("catalog name is required")
	}
	output.Version = strings.TrimSpace(output.Version)
	output.SystemPrompt = strings.TrimSpace(output.SystemPrompt)

	if len(output.Cases) == 0 {
		return Catalog{}, fmt.Errorf("catalog must contain at least one case")
	}
	output.Cases = append([]EvaluationCase(nil), output.Cases...)
	seen := make(map[string]struct{}, len(output.Cases))
	for index := range output.Cases {
		evaluationCase := &output.Cases[index]
		evaluationCase.ID = strings.TrimSpace(evaluationCase.ID)
		if evaluationCase.ID == "" {
			return Catalog{}, fmt.Errorf("case %d: id is required", index)
		}
		if _, ok := seen[evaluationCase.ID]; ok {
			return Catalog{}, fmt.Errorf("duplicate case id: %s", evaluationCase.ID)
		}
		seen[evaluationCase.ID] = struct{}{}

		evaluationCase.Category = strings.ToLower(strings.TrimSpace(evaluationCase.Category))
		if _, ok := allowedCategories[evaluationCase.Category]; !ok {
			return Catalog{}, fmt.Errorf("case %s: unsupported category %q", evaluationCase.ID, evaluationCase.Category)
		}

		if strings.TrimSpace(evaluationCase.InputVars[promptVar]) == "" {
			return Catalog{}, fmt.Errorf("case %s: input_vars.prompt is required", evaluationCase.ID)
		}

		evaluationCase.Assertions.MustContain = trimList(evaluationCase.Assertions.MustContain)
		evaluationCase.Assertions.MustNotContain = trimList(evaluationCase.Assertions.MustNotContain)
		evaluationCase.Assertions.Matches = trimList(evaluationCase.Assertions.Matches)
		for _, pattern := range evaluationCase.Assertions.Matches {
			if _, err := regexp.Compile(pattern); err != nil {
				return Catalog{}, fmt.Errorf("case %s: invalid matches pattern %q: %w", evaluationCase.ID, pattern, err)
			}
		}
	}

	sort.Slice(output.Cases, func(i, j int) bool { return output.Cases[i].ID < output.Cases[j].ID })
	return output, nil
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func buildPrompt(evaluationCase EvaluationCase) string {
	prompt := evaluationCase.InputVars[promptVar]
	for name, value := range evaluationCase.InputVars {
		if name == promptVar {
			continue
		}
		prompt = strings.ReplaceAll(prompt, "{{"+name+"}}", value)
	}
	return prompt
}
