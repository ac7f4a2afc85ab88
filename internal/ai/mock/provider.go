package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/tidyflow/internal/ai"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// MockProvider satisfies models.SuggestionProvider for testing.
type MockProvider struct {
	Name_       string
	SuggestFunc func(ctx context.Context, p models.Profile) ([]models.Suggestion, error)

	calls atomic.Int32
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Suggest(ctx context.Context, p models.Profile) ([]models.Suggestion, error) {
	m.calls.Add(1)
	if m.SuggestFunc != nil {
		return m.SuggestFunc(ctx, p)
	}
	return nil, nil
}

// Calls returns how many times Suggest was invoked.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// NewMockProvider returns a MockProvider that proposes filling nulls in the
// first column that has any.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		SuggestFunc: func(_ context.Context, p models.Profile) ([]models.Suggestion, error) {
			for _, c := range p.Columns {
				if c.NullCount > 0 {
					return []models.Suggestion{{
						Operation: "fill_nulls",
						Params:    map[string]any{"column": c.Name, "value": "n/a"},
						Reason:    "mock suggestion",
					}}, nil
				}
			}
			return []models.Suggestion{}, nil
		},
	}
}

// NewStaticProvider returns a MockProvider that always answers suggestions.
func NewStaticProvider(suggestions []models.Suggestion) *MockProvider {
	return &MockProvider{
		Name_: "mock-static",
		SuggestFunc: func(_ context.Context, _ models.Profile) ([]models.Suggestion, error) {
			return suggestions, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		SuggestFunc: func(_ context.Context, _ models.Profile) ([]models.Suggestion, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		SuggestFunc: func(ctx context.Context, _ models.Profile) ([]models.Suggestion, error) {
			<-ctx.Done()
			return nil, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements SuggestionProvider.
var _ models.SuggestionProvider = (*MockProvider)(nil)
