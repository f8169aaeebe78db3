package llm

import "fmt"

// ProviderConfig selects and configures a model provider for planning or
// embedding calls.
type ProviderConfig struct {
	// Provider is one of "openai" or "ollama" (default: ollama).
	Provider string

	// APIKey authenticates hosted providers.
	APIKey string

	// Model is the model name; provider-specific defaults apply when empty.
	Model string

	// BaseURL overrides the provider endpoint (local gateways, proxies).
	BaseURL string
}

// NewTextGenerator creates the TextGenerator for the given provider config.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for the given
// provider config. embeddingModel overrides the completion model, since
// embedding models are usually distinct.
func NewEmbeddingGenerator(cfg ProviderConfig, embeddingModel string) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		model := embeddingModel
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.APIKey, Model: model, BaseURL: cfg.BaseURL}), nil
	case "ollama", "":
		model := embeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: model}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
