package gate

import (
	"reflect"
	"strings"
	"testing"

	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

func result(caseID, category string, passed bool) schemavalidation.TestResult {
	return schemavalidation.TestResult{CaseID: caseID, Category: category, Passed: passed}
}

func TestEvaluateAllCompliant(t *testing.T) {
	results := []schemavalidation.TestResult{
		result("adv-001", "adversarial", true),
		result("adv-002", "adversarial", true),
		result("gold-001", "golden", true),
		result("edge-001", "edge", true),
		result("mon-001", "monitoring", true),
	}
	report, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Verdict != schemavalidation.VerdictAllowed {
		t.Fatalf("verdict: got %q want %q", report.Verdict, schemavalidation.VerdictAllowed)
	}
	if report.OverallStatus != schemavalidation.StatusPassed {
		t.Fatalf("overall status: got %q", report.OverallStatus)
	}
	if !reflect.DeepEqual(report.ReasonCodes, []string{"all_gates_compliant"}) {
		t.Fatalf("reason codes: %#v", report.ReasonCodes)
	}
	for _, evaluation := range report.GateEvaluations {
		if evaluation.Skipped || !evaluation.Compliant {
			t.Fatalf("unexpected evaluation: %#v", evaluation)
		}
	}
}

func TestEvaluateSingleAdversarialFailureBlocks(t *testing.T) {
	results := []schemavalidation.TestResult{
		result("adv-001", "adversarial", true),
		result("adv-002", "adversarial", false),
	}
	report, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Verdict != schemavalidation.VerdictBlocked {
		t.Fatalf("verdict: got %q want %q", report.Verdict, schemavalidation.VerdictBlocked)
	}
	if report.OverallStatus != schemavalidation.StatusFailed {
		t.Fatalf("overall status: got %q", report.OverallStatus)
	}
}

func TestEvaluateSixOfSevenAdversarialBlocks(t *testing.T) {
	results := make([]schemavalidation.TestResult, 0, 7)
	for i := 0; i < 6; i++ {
		results = append(results, result("adv-00"+string(rune('1'+i)), "adversarial", true))
	}
	results = append(results, result("adv-007", "adversarial", false))

	report, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	var adversarial schemavalidation.GateEvaluation
	for _, evaluation := range report.GateEvaluations {
		if evaluation.TierName == "adversarial" {
			adversarial = evaluation
		}
	}
	if adversarial.Compliant {
		t.Fatalf("adversarial gate must be non-compliant: %#v", adversarial)
	}
	if adversarial.TotalResults != 7 || adversarial.PassedResults != 6 {
		t.Fatalf("counts: %#v", adversarial)
	}
	if report.Verdict != schemavalidation.VerdictBlocked {
		t.Fatalf("verdict: got %q", report.Verdict)
	}
}

func TestEvaluateGoldenMissWarns(t *testing.T) {
	results := []schemavalidation.TestResult{
		result("gold-001", "golden", true),
		result("gold-002", "golden", true),
		result("gold-003", "golden", true),
		result("gold-004", "golden", false),
	}
	report, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Verdict != schemavalidation.VerdictAllowedWithWarnings {
		t.Fatalf("verdict: got %q want %q", report.Verdict, schemavalidation.VerdictAllowedWithWarnings)
	}
	if report.OverallStatus != schemavalidation.StatusPassed {
		t.Fatalf("warnings must still pass: %q", report.OverallStatus)
	}
}

func TestEvaluateTrackOnlyNeverAffectsVerdict(t *testing.T) {
	results := []schemavalidation.TestResult{
		result("edge-001", "edge", false),
		result("edge-002", "edge", false),
		result("mon-001", "monitoring", false),
	}
	report, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Verdict != schemavalidation.VerdictAllowed {
		t.Fatalf("track_only tiers must not change the verdict: %q", report.Verdict)
	}
	for _, evaluation := range report.GateEvaluations {
		if evaluation.TierName == "edge" && evaluation.Compliant {
			t.Fatalf("edge gate should be non-compliant: %#v", evaluation)
		}
	}
}

func TestEvaluateZeroMatchGateSkipped(t *testing.T) {
	results := []schemavalidation.TestResult{
		result("gold-001", "golden", true),
	}
	report, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	skippedTiers := map[string]bool{}
	for _, evaluation := range report.GateEvaluations {
		if evaluation.Skipped {
			if evaluation.Compliant {
				t.Fatalf("skipped gate must not report compliant: %#v", evaluation)
			}
			skippedTiers[evaluation.TierName] = true
		}
	}
	for _, tier := range []string{"adversarial", "edge", "monitoring"} {
		if !skippedTiers[tier] {
			t.Fatalf("tier %s should be skipped: %#v", tier, report.GateEvaluations)
		}
	}
	// A skipped blocking gate must not block.
	if report.Verdict != schemavalidation.VerdictAllowed {
		t.Fatalf("verdict: got %q want %q", report.Verdict, schemavalidation.VerdictAllowed)
	}
}

func TestEvaluateExactThresholdIsCompliant(t *testing.T) {
	results := make([]schemavalidation.TestResult, 0, 20)
	for i := 0; i < 20; i++ {
		passed := i != 0
		results = append(results, schemavalidation.TestResult{
			CaseID:   "gold-" + strings.Repeat("0", 2) + string(rune('a'+i)),
			Category: "golden",
			Passed:   passed,
		})
	}
	report, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for _, evaluation := range report.GateEvaluations {
		if evaluation.TierName != "golden" {
			continue
		}
		if evaluation.ActualPassRate != 0.95 {
			t.Fatalf("pass rate: got %v want 0.95", evaluation.ActualPassRate)
		}
		if !evaluation.Compliant {
			t.Fatalf("19/20 must satisfy min_pass_rate 0.95: %#v", evaluation)
		}
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	results := []schemavalidation.TestResult{
		result("adv-001", "adversarial", false),
		result("gold-001", "golden", true),
		result("edge-001", "edge", true),
	}
	first, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := Evaluate(results, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated evaluation diverged:\n%#v\n%#v", first, second)
	}
	if !strings.HasPrefix(first.ReportID, "report_") {
		t.Fatalf("derived report id: %q", first.ReportID)
	}
}

func TestEvaluateRejectsUnknownCategory(t *testing.T) {
	results := []schemavalidation.TestResult{result("x-001", "smoke", true)}
	if _, err := Evaluate(results, CanonicalGates(), EvalOptions{}); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}

func TestEvaluateRejectsMissingCaseID(t *testing.T) {
	results := []schemavalidation.TestResult{result("  ", "golden", true)}
	if _, err := Evaluate(results, CanonicalGates(), EvalOptions{}); err == nil {
		t.Fatalf("expected error for missing case_id")
	}
}

func TestApplyLeakOverridesForceFailsAdversarial(t *testing.T) {
	results := []schemavalidation.TestResult{
		{CaseID: "adv-001", Category: "adversarial", Passed: true, Reason: "assertion passed"},
		{CaseID: "adv-002", Category: "adversarial", Passed: true},
		{CaseID: "gold-001", Category: "golden", Passed: true},
	}
	findings := []LeakFinding{
		{CaseID: "adv-001", EntityTypes: []string{"email", "ssn"}},
		{CaseID: "gold-001", EntityTypes: []string{"email"}},
	}
	overridden := ApplyLeakOverrides(results, findings)

	if overridden[0].Passed {
		t.Fatalf("leaking adversarial case must fail: %#v", overridden[0])
	}
	if !strings.HasPrefix(overridden[0].Reason, "pii_leak_detected:") {
		t.Fatalf("reason: %q", overridden[0].Reason)
	}
	if !strings.Contains(overridden[0].Reason, "email") || !strings.Contains(overridden[0].Reason, "ssn") {
		t.Fatalf("reason must list entity types: %q", overridden[0].Reason)
	}
	if !overridden[1].Passed {
		t.Fatalf("non-leaking case must keep its result: %#v", overridden[1])
	}
	if !overridden[2].Passed {
		t.Fatalf("golden results are not overridden: %#v", overridden[2])
	}
	if !results[0].Passed {
		t.Fatalf("input slice must not be mutated")
	}
}

func TestApplyLeakOverridesThenEvaluateBlocks(t *testing.T) {
	results := []schemavalidation.TestResult{
		{CaseID: "adv-001", Category: "adversarial", Passed: true},
	}
	overridden := ApplyLeakOverrides(results, []LeakFinding{{CaseID: "adv-001", EntityTypes: []string{"phone"}}})
	report, err := Evaluate(overridden, CanonicalGates(), EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Verdict != schemavalidation.VerdictBlocked {
		t.Fatalf("a leak must block deployment: %q", report.Verdict)
	}
}

func TestApplyLeakOverridesNoFindings(t *testing.T) {
	results := []schemavalidation.TestResult{result("adv-001", "adversarial", true)}
	overridden := ApplyLeakOverrides(results, nil)
	if !reflect.DeepEqual(overridden, results) {
		t.Fatalf("no findings must leave results unchanged: %#v", overridden)
	}
}
