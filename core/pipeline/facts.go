package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"github.com/davidahmann/evalgate/core/provider"
	"github.com/davidahmann/evalgate/core/schema/validate"
)

const factsSchemaName = "TranscriptFacts"

// factsDocument is the structured output contract for the fact extraction
// stage.
type factsDocument struct {
	Facts []factField `json:"facts"`
}

type factField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// factsOutputSchema reflects the facts contract once per run: the map form
// drives the provider's strict structured-output mode, the compiled form
// backs the post-generation structural check.
func factsOutputSchema() (map[string]any, *jsonschema.Schema, error) {
	schemaMap := provider.GenerateSchema[factsDocument]()
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal facts schema: %w", err)
	}
	compiled, err := validate.CompileSchema(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("compile facts schema: %w", err)
	}
	return schemaMap, compiled, nil
}

// decodeFacts parses and re-validates a fact extraction output.
func decodeFacts(outputText string, compiled *jsonschema.Schema) (factsDocument, error) {
	var document factsDocument
	if err := provider.DecodeModelJSON(outputText, &document); err != nil {
		return factsDocument{}, fmt.Errorf("decode facts output: %w", err)
	}
	canonical, err := json.Marshal(document)
	if err != nil {
		return factsDocument{}, fmt.Errorf("marshal facts output: %w", err)
	}
	if err := validate.ValidateAgainst(compiled, canonical); err != nil {
		return factsDocument{}, err
	}
	return document, nil
}
