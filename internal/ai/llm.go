package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/tidyflow/internal/dataset"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
	"github.com/tmc/langchaingo/llms"
)

const systemPrompt = `You are a data cleaning assistant. You receive the profile of a CSV dataset as JSON.
Propose an ordered list of cleaning steps.

Respond with ONLY a JSON array. Each element is an object:
{"operation": "<name>", "params": {...}, "reason": "<one sentence>"}

Allowed operations and params:
- drop_null_rows: {"column"}
- fill_nulls: {"column", "value"}
- cast_type: {"column", "dtype": "int" | "float" | "bool" | "string"}
- drop_column: {"column"}
- standardize_case: {"column"}  rewrites values to lower snake_case
- standardize_column_names: {}
- replace_non_values: {"column"?, "tokens"?}  turns placeholders like ERROR, UNKNOWN into empty cells
- auto_cast_type: {"column"?}
- repair_malformed_rows: {}
- drop_malformed_rows: {}

Only reference columns that appear in the profile. Return [] when the data is already clean.`

// LLMSuggester asks a language model for cleaning steps.
type LLMSuggester struct {
	model llms.Model
	name  string
}

var _ models.SuggestionProvider = (*LLMSuggester)(nil)

func NewLLMSuggester(model llms.Model, name string) *LLMSuggester {
	return &LLMSuggester{model: model, name: name}
}

func (s *LLMSuggester) Name() string { return s.name }

func (s *LLMSuggester) Suggest(ctx context.Context, p models.Profile) ([]models.Suggestion, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, string(payload)),
	}

	resp, err := s.model.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, s.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response choices", ErrInvalidResponse)
	}

	return ParseSuggestions(resp.Choices[0].Content)
}

// ParseSuggestions decodes a model reply. It accepts a bare JSON array, an
// object with a "suggestions" array, and either wrapped in a Markdown code
// fence.
func ParseSuggestions(raw string) ([]models.Suggestion, error) {
	text := stripCodeFence(strings.TrimSpace(raw))

	var list []models.Suggestion
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		var wrapped struct {
			Suggestions []models.Suggestion `json:"suggestions"`
		}
		if err2 := json.Unmarshal([]byte(text), &wrapped); err2 != nil || wrapped.Suggestions == nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		list = wrapped.Suggestions
	}
	return list, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// knownOperation reports whether the applying stage can run op.
func knownOperation(op string) bool {
	return dataset.IsKnownOperation(op)
}
