// Package report persists validation reports and exports them to formats CI
// systems ingest directly.
package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/davidahmann/evalgate/core/fsx"
	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

func WriteReportFile(path string, validationReport schemavalidation.ValidationReport) error {
	if validationReport.SchemaID != schemavalidation.ReportSchemaID {
		return fmt.Errorf("unsupported report schema_id: %s", validationReport.SchemaID)
	}
	if err := fsx.WriteJSONAtomic(path, validationReport, 0o644); err != nil {
		return fmt.Errorf("write validation report: %w", err)
	}
	return nil
}

func LoadReportFile(path string) (schemavalidation.ValidationReport, error) {
	// #nosec G304 -- report path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return schemavalidation.ValidationReport{}, fmt.Errorf("read validation report: %w", err)
	}
	var validationReport schemavalidation.ValidationReport
	if err := json.Unmarshal(content, &validationReport); err != nil {
		return schemavalidation.ValidationReport{}, fmt.Errorf("parse validation report: %w", err)
	}
	if validationReport.SchemaID != schemavalidation.ReportSchemaID {
		return schemavalidation.ValidationReport{}, fmt.Errorf("unsupported report schema_id: %s", validationReport.SchemaID)
	}
	if validationReport.SchemaVersion != schemavalidation.ReportSchemaV1 {
		return schemavalidation.ValidationReport{}, fmt.Errorf("unsupported report schema_version: %s", validationReport.SchemaVersion)
	}
	return validationReport, nil
}

type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	TestCases []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// WriteJUnitFile exports the per-case results as JUnit XML, one suite per
// test category, so CI dashboards can surface adversarial failures apart
// from golden ones.
func WriteJUnitFile(path string, validationReport schemavalidation.ValidationReport) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create junit directory: %w", err)
		}
	}

	suites := buildJUnit(validationReport)
	encoded, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return err
	}
	document := append([]byte(xml.Header), encoded...)
	document = append(document, '\n')
	return fsx.WriteFileAtomic(path, document, 0o600)
}

const maxJUnitReasonChars = 512

// boundReason keeps JUnit failure text readable when an assertion reason
// embeds long model output.
func boundReason(reason string) string {
	reasonText := strings.TrimSpace(reason)
	if reasonText == "" {
		return "failed"
	}
	if len(reasonText) <= maxJUnitReasonChars {
		return reasonText
	}
	overflow := len(reasonText) - maxJUnitReasonChars
	suffix := fmt.Sprintf("...(+%d)", overflow)
	keep := maxJUnitReasonChars - len(suffix)
	return reasonText[:keep] + suffix
}

func buildJUnit(validationReport schemavalidation.ValidationReport) junitTestSuites {
	byCategory := make(map[string][]junitTestCase)
	for _, result := range validationReport.Results {
		testCase := junitTestCase{
			Name:      result.CaseID,
			ClassName: result.Category,
			Time:      "0",
		}
		if !result.Passed {
			reasonText := boundReason(result.Reason)
			testCase.Failure = &junitFailure{
				Message: reasonText,
				Type:    "validation_failure",
				Body:    reasonText,
			}
		}
		byCategory[result.Category] = append(byCategory[result.Category], testCase)
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	totals := junitTestSuites{Time: "0"}
	for _, category := range categories {
		testCases := byCategory[category]
		failureCount := 0
		for _, testCase := range testCases {
			if testCase.Failure != nil {
				failureCount++
			}
		}
		suite := junitTestSuite{
			Name:      "evalgate.validation." + category,
			Tests:     len(testCases),
			Failures:  failureCount,
			Errors:    0,
			Skipped:   0,
			Time:      "0",
			TestCases: testCases,
		}
		totals.Tests += suite.Tests
		totals.Failures += suite.Failures
		totals.Suites = append(totals.Suites, suite)
	}
	return totals
}
