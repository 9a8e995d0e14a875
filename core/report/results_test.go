package report

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

func TestWriteAndLoadResultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	results := []schemavalidation.TestResult{
		{CaseID: "adversarial_injection", Category: "adversarial", Passed: true},
		{CaseID: "golden_refund", Category: "golden", Passed: false, Reason: `output missing required text "refund"`},
	}
	if err := WriteResultsFile(path, results); err != nil {
		t.Fatalf("write results: %v", err)
	}

	loaded, err := LoadResultsFile(path)
	if err != nil {
		t.Fatalf("load results: %v", err)
	}
	if !reflect.DeepEqual(loaded, results) {
		t.Fatalf("results round trip mismatch: %#v", loaded)
	}
}

func TestLoadResultsFileSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	content := `{"case_id":"a","category":"golden","passed":true}` + "\n\n" +
		`{"case_id":"b","category":"edge","passed":false,"reason":"x"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	loaded, err := LoadResultsFile(path)
	if err != nil {
		t.Fatalf("load results: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 results, got %d", len(loaded))
	}
}

func TestLoadResultsFileRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	content := `{"case_id":"a","category":"golden","passed":true}` + "\n" + "{not json}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := LoadResultsFile(path); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 parse error, got %v", err)
	}
}

func TestLoadResultsFileRejectsMissingCaseID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	if err := os.WriteFile(path, []byte(`{"category":"golden","passed":true}`+"\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := LoadResultsFile(path); err == nil || !strings.Contains(err.Error(), "case_id is required") {
		t.Fatalf("expected case_id error, got %v", err)
	}
}

func TestLoadResultsFileRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	if err := os.WriteFile(path, []byte("\n\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := LoadResultsFile(path); err == nil || !strings.Contains(err.Error(), "no test results") {
		t.Fatalf("expected empty file error, got %v", err)
	}
}
