package ai

import (
	"fmt"

	"github.com/kiranshivaraju/tidyflow/internal/ai/anthropic"
	"github.com/kiranshivaraju/tidyflow/internal/ai/ollama"
	"github.com/kiranshivaraju/tidyflow/internal/ai/openai"
	"github.com/kiranshivaraju/tidyflow/internal/ai/vllm"
	"github.com/kiranshivaraju/tidyflow/internal/config"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
	"github.com/tmc/langchaingo/llms"
)

// NewProvider constructs the suggestion provider named by cfg.Provider.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.SuggestionProvider, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "rules":
		return NewRulesSuggester(), nil
	case "ollama":
		model, err = ollama.NewModel(cfg.Ollama)
	case "vllm":
		model, err = vllm.NewModel(cfg.VLLM)
	case "openai":
		model, err = openai.NewModel(cfg.OpenAI)
	case "anthropic":
		model, err = anthropic.NewModel(cfg.Anthropic)
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of rules, ollama, vllm, openai, anthropic", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLLMSuggester(model, cfg.Provider), nil
}

// NewSuggester wraps the configured provider in a SuggestionService. LLM
// providers fall back to the rules suggester when cfg.FallbackToRules is set.
func NewSuggester(cfg config.AIConfig) (*SuggestionService, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	var fallback models.SuggestionProvider
	if cfg.Provider != "rules" && cfg.FallbackToRules {
		fallback = NewRulesSuggester()
	}
	return NewSuggestionService(provider, fallback, cfg.InferenceTimeout), nil
}
