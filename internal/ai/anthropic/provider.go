package anthropic

import (
	"fmt"

	"github.com/kiranshivaraju/tidyflow/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

func NewModel(cfg config.AnthropicConfig) (llms.Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key required")
	}
	m, err := anthropic.New(
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return m, nil
}
