package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/davidahmann/evalgate/core/errors"
)

func TestWrapKindClassification(t *testing.T) {
	cases := []struct {
		kind      string
		category  errors.Category
		retryable bool
	}{
		{KindTimeout, errors.CategoryNetworkTransient, true},
		{KindRateLimit, errors.CategoryNetworkTransient, true},
		{KindInvalidModel, errors.CategoryProviderFailure, false},
		{KindInvalidResponse, errors.CategoryProviderFailure, false},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			err := WrapKind(stderrors.New("boom"), tc.kind)
			if got := errors.CategoryOf(err); got != tc.category {
				t.Fatalf("category: got %q want %q", got, tc.category)
			}
			if got := errors.RetryableOf(err); got != tc.retryable {
				t.Fatalf("retryable: got %v want %v", got, tc.retryable)
			}
			if got := KindOf(err); got != tc.kind {
				t.Fatalf("KindOf: got %q want %q", got, tc.kind)
			}
		})
	}
}

func TestWrapKindNilCause(t *testing.T) {
	if err := WrapKind(nil, KindTimeout); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestKindOfForeignError(t *testing.T) {
	if got := KindOf(stderrors.New("plain failure")); got != "" {
		t.Fatalf("expected empty kind, got %q", got)
	}
}

func TestClassifyOpenAIError(t *testing.T) {
	cases := []struct {
		name    string
		message string
		kind    string
	}{
		{"rate limit status", "POST /v1/responses: 429 Too Many Requests", KindRateLimit},
		{"rate limit text", "rate limit reached for requests", KindRateLimit},
		{"client timeout", "request timeout awaiting response headers", KindTimeout},
		{"deadline text", "context deadline exceeded while dialing", KindTimeout},
		{"missing model", "the model `gpt-nope` does not exist or you do not have access to it", KindInvalidModel},
		{"catch all", "unexpected end of JSON input", KindInvalidResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyOpenAIError(stderrors.New(tc.message))
			if got := KindOf(err); got != tc.kind {
				t.Fatalf("kind for %q: got %q want %q", tc.message, got, tc.kind)
			}
		})
	}
}

func TestClassifyOpenAIErrorWrappedDeadline(t *testing.T) {
	err := classifyOpenAIError(fmt.Errorf("call failed: %w", context.DeadlineExceeded))
	if got := KindOf(err); got != KindTimeout {
		t.Fatalf("kind: got %q want %q", got, KindTimeout)
	}
	if !errors.RetryableOf(err) {
		t.Fatalf("deadline failures must be retryable")
	}
}

func TestGenerateSchemaStrict(t *testing.T) {
	type fact struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	type document struct {
		Facts []fact `json:"facts"`
	}

	schema := GenerateSchema[document]()
	if got := schema[additionalPropertiesKey]; got != false {
		t.Fatalf("top-level additionalProperties: got %#v want false", got)
	}
	if !requiredNames(t, schema)["facts"] {
		t.Fatalf("top-level required must include facts: %#v", schema[requiredKey])
	}

	props, ok := schema[propertiesKey].(map[string]interface{})
	if !ok {
		t.Fatalf("missing properties: %#v", schema)
	}
	facts, ok := props["facts"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing facts property: %#v", props)
	}
	items, ok := facts[itemsKey].(map[string]interface{})
	if !ok {
		t.Fatalf("facts must carry items: %#v", facts)
	}
	if got := items[additionalPropertiesKey]; got != false {
		t.Fatalf("item additionalProperties: got %#v want false", got)
	}
	named := requiredNames(t, items)
	if !named["name"] || !named["value"] {
		t.Fatalf("item required must include name and value: %#v", items[requiredKey])
	}
}

func requiredNames(t *testing.T, schema map[string]interface{}) map[string]bool {
	t.Helper()
	names := map[string]bool{}
	switch v := schema[requiredKey].(type) {
	case []string:
		for _, n := range v {
			names[n] = true
		}
	case []interface{}:
		for _, n := range v {
			names[fmt.Sprintf("%v", n)] = true
		}
	default:
		t.Fatalf("required has unexpected shape: %#v", schema[requiredKey])
	}
	return names
}

func TestDecodeModelJSON(t *testing.T) {
	var out struct {
		Verdict string `json:"verdict"`
	}
	if err := DecodeModelJSON(`{"verdict":"allowed"}`, &out); err != nil {
		t.Fatalf("direct decode failed: %v", err)
	}
	if out.Verdict != "allowed" {
		t.Fatalf("verdict: got %q", out.Verdict)
	}

	out.Verdict = ""
	wrapped := "Here is the result:\n{\"verdict\":\"blocked\"}\nLet me know if you need more."
	if err := DecodeModelJSON(wrapped, &out); err != nil {
		t.Fatalf("wrapped decode failed: %v", err)
	}
	if out.Verdict != "blocked" {
		t.Fatalf("verdict: got %q", out.Verdict)
	}
}

func TestDecodeModelJSONRejectsEmptyAndProse(t *testing.T) {
	var out map[string]interface{}
	if err := DecodeModelJSON("   ", &out); err == nil {
		t.Fatalf("expected error for blank output")
	}
	if err := DecodeModelJSON("no structured content here", &out); err == nil {
		t.Fatalf("expected error for prose output")
	}
}
