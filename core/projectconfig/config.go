package projectconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".evalgate/config.yaml"

// Config carries per-project defaults so CLI invocations stay short. Every
// field can be overridden by a flag; the config never holds secrets, only
// the names of environment variables that do.
type Config struct {
	Provider ProviderDefaults `yaml:"provider"`
	Pipeline PipelineDefaults `yaml:"pipeline"`
	Rating   RatingDefaults   `yaml:"rating"`
	Validate ValidateDefaults `yaml:"validate"`
}

type ProviderDefaults struct {
	APIKeyEnv      string `yaml:"api_key_env"`
	EmbeddingModel string `yaml:"embedding_model"`
}

type PipelineDefaults struct {
	StageConfig  string `yaml:"stage_config"`
	Store        string `yaml:"store"`
	StageTimeout string `yaml:"stage_timeout"`
	RedactPII    bool   `yaml:"redact_pii"`
}

type RatingDefaults struct {
	Corpus string `yaml:"corpus"`
	Index  string `yaml:"index"`
}

type ValidateDefaults struct {
	Catalog     string `yaml:"catalog"`
	Gates       string `yaml:"gates"`
	Model       string `yaml:"model"`
	Concurrency int    `yaml:"concurrency"`
	Report      string `yaml:"report"`
	JUnit       string `yaml:"junit"`
	Results     string `yaml:"results"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse project config: %w", err)
	}
	configuration.normalize()
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Provider.APIKeyEnv = strings.TrimSpace(configuration.Provider.APIKeyEnv)
	configuration.Provider.EmbeddingModel = strings.TrimSpace(configuration.Provider.EmbeddingModel)
	configuration.Pipeline.StageConfig = strings.TrimSpace(configuration.Pipeline.StageConfig)
	configuration.Pipeline.Store = strings.TrimSpace(configuration.Pipeline.Store)
	configuration.Pipeline.StageTimeout = strings.TrimSpace(configuration.Pipeline.StageTimeout)
	configuration.Rating.Corpus = strings.TrimSpace(configuration.Rating.Corpus)
	configuration.Rating.Index = strings.TrimSpace(configuration.Rating.Index)
	configuration.Validate.Catalog = strings.TrimSpace(configuration.Validate.Catalog)
	configuration.Validate.Gates = strings.TrimSpace(configuration.Validate.Gates)
	configuration.Validate.Model = strings.TrimSpace(configuration.Validate.Model)
	configuration.Validate.Report = strings.TrimSpace(configuration.Validate.Report)
	configuration.Validate.JUnit = strings.TrimSpace(configuration.Validate.JUnit)
	configuration.Validate.Results = strings.TrimSpace(configuration.Validate.Results)
}
