package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/davidahmann/evalgate/core/fsx"
	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

const maxResultLineBytes = 1 << 20

// LoadResultsFile reads one TestResult per line from a JSONL file, the
// interchange format between external case runners and gate evaluation.
// Blank lines are skipped; any malformed line fails the whole load.
func LoadResultsFile(path string) ([]schemavalidation.TestResult, error) {
	// #nosec G304 -- results path is explicit local user input.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	results := []schemavalidation.TestResult{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxResultLineBytes)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var result schemavalidation.TestResult
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			return nil, fmt.Errorf("parse results line %d: %w", lineNumber, err)
		}
		if strings.TrimSpace(result.CaseID) == "" {
			return nil, fmt.Errorf("results line %d: case_id is required", lineNumber)
		}
		results = append(results, result)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("results file %s contains no test results", path)
	}
	return results, nil
}

// WriteResultsFile writes TestResults as JSONL, one record per line.
func WriteResultsFile(path string, results []schemavalidation.TestResult) error {
	var buffer strings.Builder
	for _, result := range results {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal test result %s: %w", result.CaseID, err)
		}
		buffer.Write(encoded)
		buffer.WriteByte('\n')
	}
	if err := fsx.WriteFileAtomic(path, []byte(buffer.String()), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
