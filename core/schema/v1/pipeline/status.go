package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

const failedStatusPrefix = "failed_at_stage("

// FailedAtStage formats the terminal status for a run that aborted while
// executing stage n (1-based).
func FailedAtStage(n int) string {
	return fmt.Sprintf("failed_at_stage(%d)", n)
}

// FailedStageOf parses a failed_at_stage(n) status and reports whether the
// status denotes a failed run.
func FailedStageOf(status string) (int, bool) {
	trimmed := strings.TrimSpace(status)
	if !strings.HasPrefix(trimmed, failedStatusPrefix) || !strings.HasSuffix(trimmed, ")") {
		return 0, false
	}
	inner := trimmed[len(failedStatusPrefix) : len(trimmed)-1]
	n, err := strconv.Atoi(inner)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// IsTerminal reports whether a run status admits no further stage appends.
func IsTerminal(status string) bool {
	if strings.TrimSpace(status) == StatusCompleted {
		return true
	}
	_, failed := FailedStageOf(status)
	return failed
}

// StageOrder returns the fixed stage sequence. Stage n+1 prompts embed stage
// n output, so the order is a hard guarantee, not a default.
func StageOrder() []string {
	return []string{StageFactExtraction, StageReasoning, StageSummarization}
}
