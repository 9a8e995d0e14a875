// Package telemetry records local operational events for CLI invocations as
// JSONL. Events describe command outcomes only; prompts, transcripts, and
// model output never enter the stream.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/evalgate/core/errors"
	"github.com/davidahmann/evalgate/core/fsx"
	schematelemetry "github.com/davidahmann/evalgate/core/schema/v1/telemetry"
)

const maxEventLineBytes = 1024 * 1024

func NewStartEvent(
	command string,
	correlationID string,
	producerVersion string,
	now time.Time,
) schematelemetry.OperationalEvent {
	return newEvent(command, correlationID, producerVersion, "start", 0, "none", false, 0, now)
}

func NewEndEvent(
	command string,
	correlationID string,
	producerVersion string,
	exitCode int,
	errorCategory string,
	retryable bool,
	elapsed time.Duration,
	now time.Time,
) schematelemetry.OperationalEvent {
	elapsedMS := elapsed.Milliseconds()
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	return newEvent(command, correlationID, producerVersion, "end", exitCode, errorCategory, retryable, elapsedMS, now)
}

// AppendEvent validates and appends one event to the JSONL stream at path.
// Appends are cross-process locked so concurrent CLI invocations interleave
// whole lines.
func AppendEvent(path string, event schematelemetry.OperationalEvent) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("operational log path is required")
	}
	normalized, err := normalizeEvent(event)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("marshal operational event: %w", err)
	}
	return fsx.AppendLineLocked(trimmedPath, encoded, 0o600)
}

// LoadEvents reads and validates every event in the stream at path.
func LoadEvents(path string) ([]schematelemetry.OperationalEvent, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("operational log path is required")
	}
	// #nosec G304 -- operational log path is explicit local user input.
	file, err := os.Open(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("open operational log: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	events := make([]schematelemetry.OperationalEvent, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var event schematelemetry.OperationalEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("parse operational log line %d: %w", line, err)
		}
		normalized, err := normalizeEvent(event)
		if err != nil {
			return nil, fmt.Errorf("validate operational log line %d: %w", line, err)
		}
		events = append(events, normalized)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan operational log: %w", err)
	}
	return events, nil
}

func normalizeEvent(event schematelemetry.OperationalEvent) (schematelemetry.OperationalEvent, error) {
	if strings.TrimSpace(event.SchemaID) != schematelemetry.EventSchemaID {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("invalid schema_id %q", event.SchemaID)
	}
	if strings.TrimSpace(event.SchemaVersion) != schematelemetry.EventSchemaV1 {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("invalid schema_version %q", event.SchemaVersion)
	}
	if event.CreatedAt.IsZero() {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("created_at is required")
	}
	if strings.TrimSpace(event.ProducerVersion) == "" {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("producer_version is required")
	}
	if strings.TrimSpace(event.CorrelationID) == "" {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("correlation_id is required")
	}
	if strings.TrimSpace(event.Command) == "" {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("command is required")
	}
	phase := strings.ToLower(strings.TrimSpace(event.Phase))
	if phase != "start" && phase != "end" {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("phase must be start or end")
	}
	if event.ExitCode < 0 || event.ExitCode > 255 {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("exit_code out of range")
	}
	if event.ElapsedMS < 0 {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("elapsed_ms out of range")
	}
	category := strings.ToLower(strings.TrimSpace(event.ErrorCategory))
	if category == "" {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("error_category is required")
	}
	if category != "none" {
		switch coreerrors.Category(category) {
		case coreerrors.CategoryInvalidInput,
			coreerrors.CategoryProviderFailure,
			coreerrors.CategoryNetworkTransient,
			coreerrors.CategorySchemaViolation,
			coreerrors.CategoryGateBlocked,
			coreerrors.CategoryIOFailure,
			coreerrors.CategoryInternalFailure:
		default:
			return schematelemetry.OperationalEvent{}, fmt.Errorf("unsupported error_category %q", event.ErrorCategory)
		}
	}
	if strings.TrimSpace(event.Environment.OS) == "" || strings.TrimSpace(event.Environment.Arch) == "" {
		return schematelemetry.OperationalEvent{}, fmt.Errorf("environment os/arch are required")
	}

	return schematelemetry.OperationalEvent{
		SchemaID:        schematelemetry.EventSchemaID,
		SchemaVersion:   schematelemetry.EventSchemaV1,
		CreatedAt:       event.CreatedAt.UTC(),
		ProducerVersion: strings.TrimSpace(event.ProducerVersion),
		CorrelationID:   strings.TrimSpace(event.CorrelationID),
		Command:         strings.TrimSpace(event.Command),
		Phase:           phase,
		ExitCode:        event.ExitCode,
		ErrorCategory:   category,
		Retryable:       event.Retryable,
		ElapsedMS:       event.ElapsedMS,
		Environment: schematelemetry.EnvContext{
			OS:   strings.TrimSpace(event.Environment.OS),
			Arch: strings.TrimSpace(event.Environment.Arch),
		},
	}, nil
}

func newEvent(
	command string,
	correlationID string,
	producerVersion string,
	phase string,
	exitCode int,
	errorCategory string,
	retryable bool,
	elapsedMS int64,
	now time.Time,
) schematelemetry.OperationalEvent {
	createdAt := now.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	trimmedCommand := strings.TrimSpace(command)
	if trimmedCommand == "" {
		trimmedCommand = "unknown"
	}
	trimmedCorrelationID := strings.TrimSpace(correlationID)
	if trimmedCorrelationID == "" {
		trimmedCorrelationID = "unknown"
	}
	trimmedProducerVersion := strings.TrimSpace(producerVersion)
	if trimmedProducerVersion == "" {
		trimmedProducerVersion = "0.0.0-dev"
	}
	trimmedCategory := strings.ToLower(strings.TrimSpace(errorCategory))
	if trimmedCategory == "" {
		trimmedCategory = "none"
	}
	return schematelemetry.OperationalEvent{
		SchemaID:        schematelemetry.EventSchemaID,
		SchemaVersion:   schematelemetry.EventSchemaV1,
		CreatedAt:       createdAt,
		ProducerVersion: trimmedProducerVersion,
		CorrelationID:   trimmedCorrelationID,
		Command:         trimmedCommand,
		Phase:           phase,
		ExitCode:        exitCode,
		ErrorCategory:   trimmedCategory,
		Retryable:       retryable,
		ElapsedMS:       elapsedMS,
		Environment: schematelemetry.EnvContext{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
	}
}
