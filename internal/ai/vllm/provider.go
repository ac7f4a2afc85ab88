// Package vllm talks to a vLLM server through its OpenAI-compatible API.
package vllm

import (
	"fmt"

	"github.com/kiranshivaraju/tidyflow/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// vLLM ignores the token but the client refuses to start without one.
const placeholderToken = "vllm"

func NewModel(cfg config.VLLMConfig) (llms.Model, error) {
	m, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(placeholderToken),
	)
	if err != nil {
		return nil, fmt.Errorf("create vllm model: %w", err)
	}
	return m, nil
}
