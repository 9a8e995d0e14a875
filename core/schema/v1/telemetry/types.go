package telemetry

import "time"

const (
	EventSchemaID = "evalgate.telemetry.operational_event"
	EventSchemaV1 = "1.0.0"
)

// OperationalEvent is one line of the local JSONL telemetry stream: a start
// or end marker for a CLI command, carrying outcome and timing but never
// transcript or model output content.
type OperationalEvent struct {
	SchemaID        string     `json:"schema_id"`
	SchemaVersion   string     `json:"schema_version"`
	CreatedAt       time.Time  `json:"created_at"`
	ProducerVersion string     `json:"producer_version"`
	CorrelationID   string     `json:"correlation_id"`
	Command         string     `json:"command"`
	Phase           string     `json:"phase"`
	ExitCode        int        `json:"exit_code"`
	ErrorCategory   string     `json:"error_category"`
	Retryable       bool       `json:"retryable"`
	ElapsedMS       int64      `json:"elapsed_ms"`
	Environment     EnvContext `json:"environment"`
}

type EnvContext struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}
