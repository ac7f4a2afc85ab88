package ai_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kiranshivaraju/tidyflow/internal/ai"
	"github.com/kiranshivaraju/tidyflow/internal/ai/mock"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profileWith(columns ...models.ColumnProfile) models.Profile {
	return models.Profile{RowCount: 3, ColumnCount: len(columns), Columns: columns}
}

func TestSuggestionService_DropsUnknownOperationsAndColumns(t *testing.T) {
	provider := mock.NewStaticProvider([]models.Suggestion{
		{Operation: "fill_nulls", Params: map[string]any{"column": "city", "value": "?"}},
		{Operation: "teleport", Params: map[string]any{"column": "city"}},
		{Operation: "drop_column", Params: map[string]any{"column": "ghost"}},
		{Operation: "standardize_column_names"},
	})
	svc := ai.NewSuggestionService(provider, nil, time.Second)

	out, err := svc.Suggest(context.Background(), profileWith(models.ColumnProfile{Name: "city"}))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "fill_nulls", out[0].Operation)
	assert.Equal(t, "standardize_column_names", out[1].Operation)
}

func TestSuggestionService_CapsAndTruncates(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	var many []models.Suggestion
	for i := 0; i < 80; i++ {
		many = append(many, models.Suggestion{Operation: "standardize_column_names", Reason: string(long)})
	}
	svc := ai.NewSuggestionService(mock.NewStaticProvider(many), nil, time.Second)

	out, err := svc.Suggest(context.Background(), profileWith())
	require.NoError(t, err)
	assert.Len(t, out, 50)
	assert.Len(t, out[0].Reason, 500)
}

func TestSuggestionService_Timeout(t *testing.T) {
	svc := ai.NewSuggestionService(mock.NewTimeoutProvider(), nil, 20*time.Millisecond)

	start := time.Now()
	_, err := svc.Suggest(context.Background(), profileWith())
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSuggestionService_FallbackOnUnavailable(t *testing.T) {
	primary := mock.NewFailingProvider(fmt.Errorf("%w: connection refused", ai.ErrProviderUnavailable))
	fallback := mock.NewMockProvider()
	svc := ai.NewSuggestionService(primary, fallback, time.Second)

	out, err := svc.Suggest(context.Background(), profileWith(models.ColumnProfile{Name: "city", NullCount: 2}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, fallback.Calls())
}

func TestSuggestionService_FallbackOnTimeout(t *testing.T) {
	fallback := mock.NewMockProvider()
	svc := ai.NewSuggestionService(mock.NewTimeoutProvider(), fallback, 20*time.Millisecond)

	_, err := svc.Suggest(context.Background(), profileWith())
	require.NoError(t, err)
	assert.Equal(t, 1, fallback.Calls())
}

func TestSuggestionService_NoFallbackForOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	fallback := mock.NewMockProvider()
	svc := ai.NewSuggestionService(mock.NewFailingProvider(boom), fallback, time.Second)

	_, err := svc.Suggest(context.Background(), profileWith())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, fallback.Calls())
}

func TestSuggestionService_NoFallbackWhenCallerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fallback := mock.NewMockProvider()
	primary := mock.NewFailingProvider(ai.ErrProviderUnavailable)
	svc := ai.NewSuggestionService(primary, fallback, time.Second)

	_, err := svc.Suggest(ctx, profileWith())
	assert.Error(t, err)
	assert.Equal(t, 0, fallback.Calls())
}
