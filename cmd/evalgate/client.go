package main

import (
	"fmt"
	"os"
	"strings"

	coreerrors "github.com/davidahmann/evalgate/core/errors"
	"github.com/davidahmann/evalgate/core/provider"
)

const defaultAPIKeyEnv = "OPENAI_API_KEY"

// newProviderClient builds the OpenAI-backed client from an environment
// variable. The key itself never appears in flags or config files.
func newProviderClient(apiKeyEnv, embeddingModel string) (*provider.OpenAIClient, error) {
	name := strings.TrimSpace(apiKeyEnv)
	if name == "" {
		name = defaultAPIKeyEnv
	}
	key := strings.TrimSpace(os.Getenv(name))
	if key == "" {
		return nil, coreerrors.Wrap(
			fmt.Errorf("environment variable %s is empty", name),
			coreerrors.CategoryInvalidInput, "provider_api_key_missing",
			"export the provider API key in "+name, false)
	}
	return provider.NewOpenAIClient(key, embeddingModel)
}
