package gate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	evaljcs "github.com/davidahmann/evalgate/core/jcs"
	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

type EvalOptions struct {
	ReportID        string
	ProducerVersion string
	CreatedAt       time.Time
}

// LeakFinding marks one case whose generated output re-contained PII spans
// detected in its input.
type LeakFinding struct {
	CaseID      string
	EntityTypes []string
}

// ApplyLeakOverrides force-fails the adversarial result of every leaking
// case before aggregation, replacing the recorded reason. A passing
// assertion never masks a leak. Results outside the adversarial category
// are left untouched.
func ApplyLeakOverrides(results []schemavalidation.TestResult, findings []LeakFinding) []schemavalidation.TestResult {
	output := append([]schemavalidation.TestResult(nil), results...)
	if len(findings) == 0 {
		return output
	}
	byCase := make(map[string][]string, len(findings))
	for _, finding := range findings {
		caseID := strings.TrimSpace(finding.CaseID)
		if caseID == "" {
			continue
		}
		byCase[caseID] = append(byCase[caseID], finding.EntityTypes...)
	}
	for index := range output {
		result := &output[index]
		if strings.ToLower(strings.TrimSpace(result.Category)) != schemavalidation.CategoryAdversarial {
			continue
		}
		entityTypes, ok := byCase[strings.TrimSpace(result.CaseID)]
		if !ok {
			continue
		}
		result.Passed = false
		result.Reason = "pii_leak_detected: " + strings.Join(uniqueSorted(entityTypes), ",")
	}
	return output
}

// Evaluate aggregates test results against gates into a validation report.
// It is pure: identical inputs always yield an identical report. Gates whose
// categories match no results are marked skipped and excluded from the
// verdict rather than treated as trivially compliant.
func Evaluate(results []schemavalidation.TestResult, gates []QualityGate, opts EvalOptions) (schemavalidation.ValidationReport, error) {
	normalizedGates, err := normalizeGates(gates)
	if err != nil {
		return schemavalidation.ValidationReport{}, err
	}
	normalizedResults, err := normalizeResults(results)
	if err != nil {
		return schemavalidation.ValidationReport{}, err
	}

	evaluations := make([]schemavalidation.GateEvaluation, 0, len(normalizedGates))
	blocked := false
	warned := false
	reasonCodes := []string{}
	for _, qualityGate := range normalizedGates {
		evaluation := evaluateGate(qualityGate, normalizedResults)
		evaluations = append(evaluations, evaluation)
		if evaluation.Skipped {
			reasonCodes = append(reasonCodes, "skipped_"+sanitizeName(qualityGate.TierName))
			continue
		}
		if evaluation.Compliant {
			continue
		}
		reasonCodes = append(reasonCodes, "non_compliant_"+sanitizeName(qualityGate.TierName))
		switch qualityGate.FailureAction {
		case schemavalidation.ActionBlockDeployment:
			blocked = true
		case schemavalidation.ActionWarnAndDeploy:
			warned = true
		}
	}

	verdict := schemavalidation.VerdictAllowed
	switch {
	case blocked:
		verdict = schemavalidation.VerdictBlocked
	case warned:
		verdict = schemavalidation.VerdictAllowedWithWarnings
	}
	overallStatus := schemavalidation.StatusPassed
	if blocked {
		overallStatus = schemavalidation.StatusFailed
	}
	if len(reasonCodes) == 0 {
		reasonCodes = []string{"all_gates_compliant"}
	}

	gatesDigest, err := GatesDigest(normalizedGates)
	if err != nil {
		return schemavalidation.ValidationReport{}, err
	}
	reportID := strings.TrimSpace(opts.ReportID)
	if reportID == "" {
		reportID, err = deriveReportID(normalizedResults, gatesDigest)
		if err != nil {
			return schemavalidation.ValidationReport{}, err
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

	return schemavalidation.ValidationReport{
		SchemaID:        schemavalidation.ReportSchemaID,
		SchemaVersion:   schemavalidation.ReportSchemaV1,
		CreatedAt:       createdAt,
		ProducerVersion: producerVersion,
		ReportID:        reportID,
		GatesDigest:     gatesDigest,
		Verdict:         verdict,
		OverallStatus:   overallStatus,
		ReasonCodes:     uniqueSorted(reasonCodes),
		Results:         normalizedResults,
		GateEvaluations: evaluations,
	}, nil
}

// GatesDigest returns the sha256 JCS digest of the normalized gate list.
func GatesDigest(gates []QualityGate) (string, error) {
	normalized, err := normalizeGates(gates)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal normalized gates: %w", err)
	}
	digest, err := evaljcs.DigestJCS(raw)
	if err != nil {
		return "", fmt.Errorf("digest gates: %w", err)
	}
	return digest, nil
}

func evaluateGate(qualityGate QualityGate, results []schemavalidation.TestResult) schemavalidation.GateEvaluation {
	evaluation := schemavalidation.GateEvaluation{
		TierName:       qualityGate.TierName,
		MinPassRate:    qualityGate.MinPassRate,
		FailureAction:  qualityGate.FailureAction,
		TestCategories: qualityGate.TestCategories,
	}
	total := 0
	passed := 0
	for _, result := range results {
		if !contains(qualityGate.TestCategories, result.Category) {
			continue
		}
		total++
		if result.Passed {
			passed++
		}
	}
	if total == 0 {
		evaluation.Skipped = true
		return evaluation
	}
	evaluation.TotalResults = total
	evaluation.PassedResults = passed
	evaluation.ActualPassRate = float64(passed) / float64(total)
	evaluation.Compliant = evaluation.ActualPassRate >= qualityGate.MinPassRate
	return evaluation
}

func normalizeResults(input []schemavalidation.TestResult) ([]schemavalidation.TestResult, error) {
	output := append([]schemavalidation.TestResult(nil), input...)
	for index := range output {
		result := &output[index]
		result.CaseID = strings.TrimSpace(result.CaseID)
		if result.CaseID == "" {
			return nil, fmt.Errorf("test result %d: case_id is required", index)
		}
		result.Category = strings.ToLower(strings.TrimSpace(result.Category))
		if _, ok := allowedCategories[result.Category]; !ok {
			return nil, fmt.Errorf("test result %s: unsupported category %q", result.CaseID, result.Category)
		}
		result.Reason = strings.TrimSpace(result.Reason)
	}
	sort.Slice(output, func(i, j int) bool {
		if output[i].CaseID != output[j].CaseID {
			return output[i].CaseID < output[j].CaseID
		}
		return output[i].Category < output[j].Category
	})
	return output, nil
}

func deriveReportID(results []schemavalidation.TestResult, gatesDigest string) (string, error) {
	payload := struct {
		GatesDigest string                        `json:"gates_digest"`
		Results     []schemavalidation.TestResult `json:"results"`
	}{GatesDigest: gatesDigest, Results: results}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal report id payload: %w", err)
	}
	digest, err := evaljcs.DigestJCS(raw)
	if err != nil {
		return "", fmt.Errorf("digest report id payload: %w", err)
	}
	return "report_" + digest[:12], nil
}
