package harness

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/davidahmann/evalgate/core/errors"
	"github.com/davidahmann/evalgate/core/gate"
	"github.com/davidahmann/evalgate/core/provider"
	"github.com/davidahmann/evalgate/core/redact"
	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

const maxTransientRetries = 2

var defaultRetryBackoff = []time.Duration{2 * time.Second, 10 * time.Second}

// RunnerConfig controls how the subject model is called for every case.
type RunnerConfig struct {
	ModelID     string
	Temperature float64
	TopP        float64
	MaxTokens   int64
	Concurrency int
	CallTimeout time.Duration
	// RetryBackoff holds the wait before each transient retry. At most two
	// retries are ever attempted; permanent failures are never retried.
	RetryBackoff []time.Duration
}

// Runner executes catalogs against a generator and collects per-case results
// alongside any PII leak findings on adversarial cases.
type Runner struct {
	generator provider.Generator
	detector  redact.Detector
	config    RunnerConfig
}

func NewRunner(generator provider.Generator, detector redact.Detector, config RunnerConfig) *Runner {
	if detector == nil {
		detector = redact.NewRegexDetector()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.TopP <= 0 {
		config.TopP = 1
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 600
	}
	if config.RetryBackoff == nil {
		config.RetryBackoff = defaultRetryBackoff
	}
	if len(config.RetryBackoff) > maxTransientRetries {
		config.RetryBackoff = config.RetryBackoff[:maxTransientRetries]
	}
	return &Runner{generator: generator, detector: detector, config: config}
}

// Execute runs every catalog case, bounded by the configured worker count.
// A failed generation becomes a failed TestResult rather than aborting the
// batch, so gate evaluation still covers the cases that did complete.
func (r *Runner) Execute(ctx context.Context, catalog Catalog) ([]schemavalidation.TestResult, []gate.LeakFinding, error) {
	normalized, err := normalizeCatalog(catalog)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CategoryInvalidInput, "catalog_invalid", "fix the case catalog and rerun", false)
	}
	if strings.TrimSpace(r.config.ModelID) == "" {
		return nil, nil, errors.Wrap(fmt.Errorf("model_id is required"), errors.CategoryInvalidInput, "runner_model_missing", "set the subject model id on the runner config", false)
	}

	results := make([]schemavalidation.TestResult, len(normalized.Cases))
	leaks := make([]*gate.LeakFinding, len(normalized.Cases))

	sem := make(chan struct{}, r.config.Concurrency)
	wg := sync.WaitGroup{}
	for index, evaluationCase := range normalized.Cases {
		wg.Add(1)
		go func(index int, evaluationCase EvaluationCase) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				results[index] = failedResult(evaluationCase, "canceled: "+ctx.Err().Error())
				return
			default:
			}

			results[index], leaks[index] = r.executeCase(ctx, normalized, evaluationCase)
		}(index, evaluationCase)
	}
	wg.Wait()

	findings := make([]gate.LeakFinding, 0, len(normalized.Cases))
	for _, finding := range leaks {
		if finding != nil {
			findings = append(findings, *finding)
		}
	}
	return results, findings, nil
}

func (r *Runner) executeCase(ctx context.Context, catalog Catalog, evaluationCase EvaluationCase) (schemavalidation.TestResult, *gate.LeakFinding) {
	prompt := buildPrompt(evaluationCase)
	request := provider.GenerationRequest{
		ModelID:      r.config.ModelID,
		SystemPrompt: catalog.SystemPrompt,
		UserPrompt:   prompt,
		Temperature:  r.config.Temperature,
		TopP:         r.config.TopP,
		MaxTokens:    r.config.MaxTokens,
	}

	output, err := r.invokeWithRetry(ctx, request)
	if err != nil {
		return failedResult(evaluationCase, "generation failed: "+err.Error()), nil
	}

	result := schemavalidation.TestResult{
		CaseID:   evaluationCase.ID,
		Category: evaluationCase.Category,
		Passed:   true,
	}
	if reason, ok := checkAssertions(evaluationCase.Assertions, output); !ok {
		result.Passed = false
		result.Reason = reason
	}

	var finding *gate.LeakFinding
	if evaluationCase.Category == schemavalidation.CategoryAdversarial {
		detections := r.detector.Detect(prompt)
		if leaked := redact.Leaked(prompt, detections, output); len(leaked) > 0 {
			finding = &gate.LeakFinding{
				CaseID:      evaluationCase.ID,
				EntityTypes: redact.EntityTypes(leaked),
			}
		}
	}
	return result, finding
}

// invokeWithRetry retries transient failures (rate limits, timeouts) with
// backoff. Invalid models and malformed responses surface immediately; a
// generation is never re-run for those.
func (r *Runner) invokeWithRetry(ctx context.Context, request provider.GenerationRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= len(r.config.RetryBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.config.RetryBackoff[attempt-1]):
			}
		}
		result, err := r.invokeOnce(ctx, request)
		if err == nil {
			return result.Text, nil
		}
		lastErr = err
		if !errors.RetryableOf(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (r *Runner) invokeOnce(ctx context.Context, request provider.GenerationRequest) (provider.GenerationResult, error) {
	if r.config.CallTimeout > 0 {
		callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
		defer cancel()
		return r.generator.Invoke(callCtx, request)
	}
	return r.generator.Invoke(ctx, request)
}

func checkAssertions(assertions Assertions, output string) (string, bool) {
	for _, needle := range assertions.MustContain {
		if !strings.Contains(output, needle) {
			return fmt.Sprintf("output missing required text %q", needle), false
		}
	}
	for _, banned := range assertions.MustNotContain {
		if strings.Contains(output, banned) {
			return fmt.Sprintf("output contains banned text %q", banned), false
		}
	}
	for _, pattern := range assertions.Matches {
		matched, err := regexp.MatchString(pattern, output)
		if err != nil || !matched {
			return fmt.Sprintf("output does not match pattern %q", pattern), false
		}
	}
	return "", true
}

func failedResult(evaluationCase EvaluationCase, reason string) schemavalidation.TestResult {
	return schemavalidation.TestResult{
		CaseID:   evaluationCase.ID,
		Category: evaluationCase.Category,
		Passed:   false,
		Reason:   reason,
	}
}
