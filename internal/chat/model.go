package chat

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/repochat/internal/config"
)

// ErrInvalidModelConfig is returned for an unusable model configuration.
var ErrInvalidModelConfig = fmt.Errorf("%w: llm", config.ErrInvalidConfig)

// Default models per provider.
const (
	DefaultOllamaModel      = "mistral"
	DefaultOpenAIModel      = "gpt-4o-mini"
	DefaultAnthropicModel   = "claude-3-5-haiku-latest"
	DefaultHuggingFaceModel = "mistralai/Mistral-7B-Instruct-v0.2"
)

// ModelConfig selects the answer-generating model.
type ModelConfig struct {
	Provider string // ollama, openai, anthropic, huggingface
	Model    string
	BaseURL  string
	APIKey   config.Secret
}

// ModelFromSettings converts the llm config section.
func ModelFromSettings(s config.LLMConfig) ModelConfig {
	return ModelConfig{
		Provider: s.Provider,
		Model:    s.Model,
		BaseURL:  s.BaseURL,
		APIKey:   s.APIKey,
	}
}

// NewModel builds a langchaingo model. Credentials come only from cfg;
// hosted providers without an API key are rejected rather than falling back
// to the process environment.
func NewModel(cfg ModelConfig) (llms.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		opts := []ollama.Option{ollama.WithModel(orDefault(cfg.Model, DefaultOllamaModel))}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)

	case "openai":
		// OpenAI-compatible local servers accept any token
		token := cfg.APIKey.Value()
		if token == "" {
			if cfg.BaseURL == "" {
				return nil, fmt.Errorf("%w: openai requires api_key or base_url", ErrInvalidModelConfig)
			}
			token = "placeholder"
		}
		opts := []openai.Option{
			openai.WithToken(token),
			openai.WithModel(orDefault(cfg.Model, DefaultOpenAIModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)

	case "anthropic":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: anthropic requires api_key", ErrInvalidModelConfig)
		}
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey.Value()),
			anthropic.WithModel(orDefault(cfg.Model, DefaultAnthropicModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)

	case "huggingface":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: huggingface requires api_key", ErrInvalidModelConfig)
		}
		opts := []huggingface.Option{
			huggingface.WithToken(cfg.APIKey.Value()),
			huggingface.WithModel(orDefault(cfg.Model, DefaultHuggingFaceModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, huggingface.WithURL(cfg.BaseURL))
		}
		return huggingface.New(opts...)

	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidModelConfig, cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
