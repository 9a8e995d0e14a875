package main

import (
	"fmt"
	"strings"
)

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  evalgate pipeline run --transcript <path> [--stages stages.yaml] [--store runs.db] [--redact-pii] [--timeout 90s] [--json] [--explain]")
	fmt.Println("  evalgate pipeline show --run <run_id> [--store runs.db] [--explain]")
	fmt.Println("  evalgate pipeline list [--store runs.db] [--limit 20] [--json] [--explain]")
	fmt.Println("  evalgate corpus build --corpus <corpus.yaml> --out <index.json> [--embedding-model <id>] [--json] [--explain]")
	fmt.Println("  evalgate corpus validate --corpus <corpus.yaml> [--json] [--explain]")
	fmt.Println("  evalgate score --text <string>|--input <path|-> --perspective <name> --index <index.json> [--json] [--explain]")
	fmt.Println("  evalgate validate --catalog <cases.yaml> --model <id> [--gates gates.yaml] [--report report.json] [--junit junit.xml] [--results results.jsonl] [--concurrency 4] [--json] [--explain]")
	fmt.Println("  evalgate gates init [--out gates.yaml] [--force] [--json] [--explain]")
	fmt.Println("  evalgate gates validate <gates.yaml> [--json] [--explain]")
	fmt.Println("  evalgate gates eval --results <results.jsonl> [--gates gates.yaml] [--report report.json] [--junit junit.xml] [--strict-warnings] [--json] [--explain]")
	fmt.Println("  evalgate version")
}

func hasExplainFlag(arguments []string) bool {
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == "--explain" {
			return true
		}
	}
	return false
}

func writeExplain(text string) int {
	fmt.Println(text)
	return exitOK
}
