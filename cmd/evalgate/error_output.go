package main

import (
	"encoding/json"
	"fmt"
	"strings"

	coreerrors "github.com/davidahmann/evalgate/core/errors"
)

func writeJSONOutput(output any, exitCode int) int {
	return writeJSONErrorOutput(output, nil, exitCode)
}

// writeJSONErrorOutput emits output as a single JSON line. When the output
// carries an error message, the envelope is completed with code, category,
// retryability, and hint, preferring what the classified error says over the
// exit-code defaults.
func writeJSONErrorOutput(output any, err error, exitCode int) int {
	encoded, marshalErr := marshalOutputWithErrorEnvelope(output, err, exitCode)
	if marshalErr != nil {
		fmt.Println(`{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
		return exitInternalFailure
	}
	fmt.Println(string(encoded))
	return exitCode
}

func marshalOutputWithErrorEnvelope(output any, err error, exitCode int) ([]byte, error) {
	encoded, marshalErr := json.Marshal(output)
	if marshalErr != nil {
		return nil, marshalErr
	}
	result := map[string]any{}
	if unmarshalErr := json.Unmarshal(encoded, &result); unmarshalErr != nil {
		return nil, unmarshalErr
	}
	if strings.TrimSpace(asString(result["correlation_id"])) == "" {
		if correlationID := currentCorrelationID(); correlationID != "" {
			result["correlation_id"] = correlationID
		}
	}
	errorText := strings.TrimSpace(asString(result["error"]))
	if errorText == "" {
		return json.Marshal(result)
	}
	if strings.TrimSpace(asString(result["error_code"])) == "" {
		code := coreerrors.CodeOf(err)
		if code == "" {
			code = defaultErrorCode(exitCode)
		}
		result["error_code"] = code
	}
	if strings.TrimSpace(asString(result["error_category"])) == "" {
		category := coreerrors.CategoryOf(err)
		if category == "" {
			category = defaultErrorCategory(exitCode)
		}
		result["error_category"] = string(category)
	}
	if _, exists := result["retryable"]; !exists {
		if err != nil {
			result["retryable"] = coreerrors.RetryableOf(err)
		} else {
			result["retryable"] = defaultRetryable(coreerrors.Category(asString(result["error_category"])))
		}
	}
	if strings.TrimSpace(asString(result["hint"])) == "" {
		hint := coreerrors.HintOf(err)
		if hint == "" {
			hint = defaultHint(exitCode)
		}
		result["hint"] = hint
	}
	return json.Marshal(result)
}

func exitCodeForError(err error, fallbackExit int) int {
	if err == nil {
		return exitOK
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryInvalidInput:
		return exitInvalidInput
	case coreerrors.CategoryGateBlocked:
		return exitGateBlocked
	case coreerrors.CategoryProviderFailure, coreerrors.CategoryNetworkTransient:
		return exitProviderFailure
	case coreerrors.CategorySchemaViolation:
		return exitSchemaViolation
	case coreerrors.CategoryIOFailure, coreerrors.CategoryInternalFailure:
		return exitInternalFailure
	}
	return fallbackExit
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	switch exitCode {
	case exitInvalidInput:
		return coreerrors.CategoryInvalidInput
	case exitGateBlocked:
		return coreerrors.CategoryGateBlocked
	case exitProviderFailure:
		return coreerrors.CategoryProviderFailure
	case exitSchemaViolation:
		return coreerrors.CategorySchemaViolation
	default:
		return coreerrors.CategoryInternalFailure
	}
}

func defaultErrorCode(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "invalid_input"
	case exitGateBlocked:
		return "gate_blocked"
	case exitProviderFailure:
		return "provider_failure"
	case exitPipelineFailed:
		return "pipeline_failed"
	case exitSchemaViolation:
		return "schema_violation"
	default:
		return "internal_failure"
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "check command usage and input files"
	case exitGateBlocked:
		return "inspect reason_codes and fix the failing cases before deploying"
	case exitProviderFailure:
		return "check the provider credentials, model id, and service status"
	case exitPipelineFailed:
		return "inspect the persisted run for the failed stage and its trace"
	case exitSchemaViolation:
		return "inspect the stage output; structured output did not match its schema"
	default:
		return "retry after checking local environment and logs"
	}
}

func defaultRetryable(category coreerrors.Category) bool {
	return category == coreerrors.CategoryNetworkTransient
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
