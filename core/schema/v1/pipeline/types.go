package pipeline

import "time"

const (
	RunSchemaID = "evalgate.pipeline.run"
	RunSchemaV1 = "1.0.0"

	StageFactExtraction = "fact_extraction"
	StageReasoning      = "reasoning"
	StageSummarization  = "summarization"

	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

type PipelineRun struct {
	SchemaID         string        `json:"schema_id"`
	SchemaVersion    string        `json:"schema_version"`
	CreatedAt        time.Time     `json:"created_at"`
	ProducerVersion  string        `json:"producer_version"`
	RunID            string        `json:"run_id"`
	TranscriptDigest string        `json:"transcript_digest"`
	Redacted         bool          `json:"redacted,omitempty"`
	Status           string        `json:"status"`
	FailedStage      int           `json:"failed_stage,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	Stages           []StageResult `json:"stages"`
}

type StageResult struct {
	Stage   string     `json:"stage"`
	ModelID string     `json:"model_id"`
	Output  string     `json:"output"`
	Trace   StageTrace `json:"trace"`
}

type StageTrace struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	LatencyMS    int64   `json:"latency_ms"`
	Cost         float64 `json:"cost"`
}
