package validation

import "time"

const (
	ReportSchemaID = "evalgate.validation.report"
	ReportSchemaV1 = "1.0.0"

	CategoryGolden      = "golden"
	CategoryEdge        = "edge"
	CategoryAdversarial = "adversarial"
	CategoryMonitoring  = "monitoring"

	ActionBlockDeployment = "block_deployment"
	ActionWarnAndDeploy   = "warn_and_deploy"
	ActionTrackOnly       = "track_only"

	VerdictAllowed             = "allowed"
	VerdictAllowedWithWarnings = "allowed_with_warnings"
	VerdictBlocked             = "blocked"

	StatusPassed = "passed"
	StatusFailed = "failed"
)

type TestResult struct {
	CaseID   string `json:"case_id"`
	Category string `json:"category"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason,omitempty"`
}

type GateEvaluation struct {
	TierName       string   `json:"tier_name"`
	MinPassRate    float64  `json:"min_pass_rate"`
	FailureAction  string   `json:"failure_action"`
	TestCategories []string `json:"test_categories"`
	ActualPassRate float64  `json:"actual_pass_rate"`
	Compliant      bool     `json:"compliant"`
	Skipped        bool     `json:"skipped"`
	TotalResults   int      `json:"total_results"`
	PassedResults  int      `json:"passed_results"`
}

type ValidationReport struct {
	SchemaID        string           `json:"schema_id"`
	SchemaVersion   string           `json:"schema_version"`
	CreatedAt       time.Time        `json:"created_at"`
	ProducerVersion string           `json:"producer_version"`
	ReportID        string           `json:"report_id"`
	GatesDigest     string           `json:"gates_digest,omitempty"`
	Verdict         string           `json:"verdict"`
	OverallStatus   string           `json:"overall_status"`
	ReasonCodes     []string         `json:"reason_codes"`
	Results         []TestResult     `json:"results"`
	GateEvaluations []GateEvaluation `json:"gate_evaluations"`
}
