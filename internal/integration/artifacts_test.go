package integration

import (
	"testing"

	"github.com/davidahmann/evalgate/core/gate"
	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
	"github.com/davidahmann/evalgate/internal/testutil"
)

func TestCanonicalGateEvalFlow(t *testing.T) {
	gates := gate.CanonicalGates()
	configDigest, err := gate.ConfigDigest(gate.Config{Gates: gates})
	if err != nil {
		t.Fatalf("config digest: %v", err)
	}

	results := []schemavalidation.TestResult{
		{CaseID: "adv-001", Category: schemavalidation.CategoryAdversarial, Passed: true},
		{CaseID: "adv-002", Category: schemavalidation.CategoryAdversarial, Passed: true},
		{CaseID: "gold-001", Category: schemavalidation.CategoryGolden, Passed: true},
		{CaseID: "gold-002", Category: schemavalidation.CategoryGolden, Passed: false, Reason: "missing required disclosure"},
	}
	validationReport, err := gate.Evaluate(results, gates, gate.EvalOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if validationReport.Verdict != schemavalidation.VerdictAllowedWithWarnings {
		t.Fatalf("verdict: got %q want %q", validationReport.Verdict, schemavalidation.VerdictAllowedWithWarnings)
	}

	golden := map[string]any{
		"config_digest":    configDigest,
		"gates":            gates,
		"gates_digest":     validationReport.GatesDigest,
		"report_id":        validationReport.ReportID,
		"verdict":          validationReport.Verdict,
		"reason_codes":     validationReport.ReasonCodes,
		"gate_evaluations": validationReport.GateEvaluations,
	}
	testutil.AssertGoldenJSON(t, "internal/integration/testdata/canonical_gate_eval.golden.json", golden)
}
