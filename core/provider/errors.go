package provider

import (
	"strings"

	"github.com/davidahmann/evalgate/core/errors"
)

// Provider failure kinds. Timeout and rate-limit failures are transient and
// marked retryable; invalid-model and invalid-response failures are permanent
// and surface immediately.
const (
	KindTimeout         = "timeout"
	KindRateLimit       = "rate_limit"
	KindInvalidModel    = "invalid_model"
	KindInvalidResponse = "invalid_response"
)

const codePrefix = "provider_"

// WrapKind classifies cause under one of the provider failure kinds.
func WrapKind(cause error, kind string) error {
	if cause == nil {
		return nil
	}
	switch kind {
	case KindTimeout:
		return errors.Wrap(cause, errors.CategoryNetworkTransient, codePrefix+KindTimeout,
			"retry the call or raise the request timeout", true)
	case KindRateLimit:
		return errors.Wrap(cause, errors.CategoryNetworkTransient, codePrefix+KindRateLimit,
			"retry after backoff or reduce request concurrency", true)
	case KindInvalidModel:
		return errors.Wrap(cause, errors.CategoryProviderFailure, codePrefix+KindInvalidModel,
			"check the configured model_id against the provider catalog", false)
	default:
		return errors.Wrap(cause, errors.CategoryProviderFailure, codePrefix+KindInvalidResponse,
			"inspect the provider response for truncation or malformed output", false)
	}
}

// KindOf reports the provider failure kind recorded on err, or "" when err
// was not produced by WrapKind.
func KindOf(err error) string {
	code := errors.CodeOf(err)
	if !strings.HasPrefix(code, codePrefix) {
		return ""
	}
	return strings.TrimPrefix(code, codePrefix)
}
