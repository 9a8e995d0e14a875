// Package gate aggregates categorized test results into tier-level
// compliance decisions and an overall deployment verdict.
package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	evaljcs "github.com/davidahmann/evalgate/core/jcs"
	schemavalidation "github.com/davidahmann/evalgate/core/schema/v1/validation"
)

const (
	configSchemaID = "evalgate.gate.config"
	configSchemaV1 = "1.0.0"
)

var (
	allowedCategories = map[string]struct{}{
		schemavalidation.CategoryGolden:      {},
		schemavalidation.CategoryEdge:        {},
		schemavalidation.CategoryAdversarial: {},
		schemavalidation.CategoryMonitoring:  {},
	}
	allowedActions = map[string]struct{}{
		schemavalidation.ActionBlockDeployment: {},
		schemavalidation.ActionWarnAndDeploy:   {},
		schemavalidation.ActionTrackOnly:       {},
	}
)

// QualityGate is one declarative tier: which test categories it watches, the
// pass rate it demands, and what a miss does to the deployment verdict.
type QualityGate struct {
	TierName       string   `yaml:"tier_name" json:"tier_name"`
	MinPassRate    float64  `yaml:"min_pass_rate" json:"min_pass_rate"`
	TestCategories []string `yaml:"test_categories" json:"test_categories"`
	FailureAction  string   `yaml:"failure_action" json:"failure_action"`
}

type Config struct {
	SchemaID      string        `yaml:"schema_id" json:"schema_id"`
	SchemaVersion string        `yaml:"schema_version" json:"schema_version"`
	Gates         []QualityGate `yaml:"gates" json:"gates"`
}

func LoadConfigFile(path string) (Config, error) {
	// #nosec G304 -- gate config path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read gate config: %w", err)
	}
	return ParseConfigYAML(content)
}

func ParseConfigYAML(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse gate config yaml: %w", err)
	}
	return normalizeConfig(config)
}

// CanonicalGates returns the default tier set: adversarial blocks at any
// failure, golden warns below 0.95, edge and monitoring are tracked only.
func CanonicalGates() []QualityGate {
	return []QualityGate{
		{
			TierName:       "adversarial",
			MinPassRate:    1.0,
			TestCategories: []string{schemavalidation.CategoryAdversarial},
			FailureAction:  schemavalidation.ActionBlockDeployment,
		},
		{
			TierName:       "edge",
			MinPassRate:    0.85,
			TestCategories: []string{schemavalidation.CategoryEdge},
			FailureAction:  schemavalidation.ActionTrackOnly,
		},
		{
			TierName:       "golden",
			MinPassRate:    0.95,
			TestCategories: []string{schemavalidation.CategoryGolden},
			FailureAction:  schemavalidation.ActionWarnAndDeploy,
		},
		{
			TierName:       "monitoring",
			MinPassRate:    0.80,
			TestCategories: []string{schemavalidation.CategoryMonitoring},
			FailureAction:  schemavalidation.ActionTrackOnly,
		},
	}
}

// ConfigDigest returns the sha256 JCS digest of the normalized config, so a
// validation report can pin the gate set that produced its verdict.
func ConfigDigest(config Config) (string, error) {
	normalized, err := normalizeConfig(config)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal normalized gate config: %w", err)
	}
	digest, err := evaljcs.DigestJCS(raw)
	if err != nil {
		return "", fmt.Errorf("digest gate config: %w", err)
	}
	return digest, nil
}

func normalizeConfig(input Config) (Config, error) {
	output := input
	if output.SchemaID == "" {
		output.SchemaID = configSchemaID
	}
	if output.SchemaID != configSchemaID {
		return Config{}, fmt.Errorf("unsupported gate config schema_id: %s", output.SchemaID)
	}
	if output.SchemaVersion == "" {
		output.SchemaVersion = configSchemaV1
	}
	if output.SchemaVersion != configSchemaV1 {
		return Config{}, fmt.Errorf("unsupported gate config schema_version: %s", output.SchemaVersion)
	}

	if len(output.Gates) == 0 {
		output.Gates = CanonicalGates()
		return output, nil
	}
	gates, err := normalizeGates(output.Gates)
	if err != nil {
		return Config{}, err
	}
	output.Gates = gates
	return output, nil
}

func normalizeGates(input []QualityGate) ([]QualityGate, error) {
	output := append([]QualityGate(nil), input...)
	seen := make(map[string]struct{}, len(output))
	for index := range output {
		gate := &output[index]
		gate.TierName = strings.ToLower(strings.TrimSpace(gate.TierName))
		if gate.TierName == "" {
			return nil, fmt.Errorf("gate tier_name is required")
		}
		if _, ok := seen[gate.TierName]; ok {
			return nil, fmt.Errorf("duplicate gate tier_name: %s", gate.TierName)
		}
		seen[gate.TierName] = struct{}{}

		if gate.MinPassRate < 0 || gate.MinPassRate > 1 {
			return nil, fmt.Errorf("gate %s: min_pass_rate %v outside [0,1]", gate.TierName, gate.MinPassRate)
		}

		gate.TestCategories = normalizeStringListLower(gate.TestCategories)
		if len(gate.TestCategories) == 0 {
			return nil, fmt.Errorf("gate %s: test_categories is required", gate.TierName)
		}
		for _, category := range gate.TestCategories {
			if _, ok := allowedCategories[category]; !ok {
				return nil, fmt.Errorf("gate %s: unsupported test category %q", gate.TierName, category)
			}
		}

		gate.FailureAction = strings.ToLower(strings.TrimSpace(gate.FailureAction))
		if gate.FailureAction == "" {
			gate.FailureAction = schemavalidation.ActionTrackOnly
		}
		if _, ok := allowedActions[gate.FailureAction]; !ok {
			return nil, fmt.Errorf("gate %s: invalid failure_action %q", gate.TierName, gate.FailureAction)
		}
	}

	sort.Slice(output, func(i, j int) bool { return output[i].TierName < output[j].TierName })
	return output, nil
}

func normalizeStringListLower(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return uniqueSorted(out)
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

func contains(values []string, wanted string) bool {
	for _, value := range values {
		if value == wanted {
			return true
		}
	}
	return false
}

func sanitizeName(value string) string {
	if value == "" {
		return "gate"
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "gate"
	}
	clean := strings.Trim(string(raw), `"`)
	clean = strings.ReplaceAll(clean, " ", "_")
	clean = strings.ReplaceAll(clean, "-", "_")
	return strings.ToLower(clean)
}
