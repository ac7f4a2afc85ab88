package ollama

import (
	"fmt"

	"github.com/kiranshivaraju/tidyflow/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// NewModel returns a langchaingo model served by an Ollama daemon.
func NewModel(cfg config.OllamaConfig) (llms.Model, error) {
	m, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithFormat("json"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return m, nil
}
