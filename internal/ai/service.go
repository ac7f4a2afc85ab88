package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

const (
	maxSuggestions  = 50
	maxReasonLength = 500
)

// SuggestionService wraps a provider with a deadline, output validation and
// an optional fallback provider.
type SuggestionService struct {
	provider models.SuggestionProvider
	fallback models.SuggestionProvider
	timeout  time.Duration
}

var _ models.SuggestionProvider = (*SuggestionService)(nil)

// NewSuggestionService creates a SuggestionService. fallback may be nil.
func NewSuggestionService(provider, fallback models.SuggestionProvider, timeout time.Duration) *SuggestionService {
	return &SuggestionService{
		provider: provider,
		fallback: fallback,
		timeout:  timeout,
	}
}

func (s *SuggestionService) Name() string { return s.provider.Name() }

// Suggest returns sanitized suggestions. When the primary provider is
// unreachable or answers garbage and a fallback is configured, the
// fallback's answer is used instead.
func (s *SuggestionService) Suggest(ctx context.Context, p models.Profile) ([]models.Suggestion, error) {
	out, err := s.suggest(ctx, s.provider, p)
	if err == nil {
		return out, nil
	}
	if s.fallback == nil || ctx.Err() != nil ||
		!(errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrInferenceTimeout)) {
		return nil, err
	}

	slog.Warn("suggestion provider failed, using fallback",
		"provider", s.provider.Name(), "fallback", s.fallback.Name(), "error", err)
	return s.suggest(ctx, s.fallback, p)
}

func (s *SuggestionService) suggest(ctx context.Context, provider models.SuggestionProvider, p models.Profile) ([]models.Suggestion, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	raw, err := provider.Suggest(callCtx, p)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, ErrInferenceTimeout) {
			return nil, fmt.Errorf("%w: %s: %v", ErrInferenceTimeout, provider.Name(), err)
		}
		return nil, err
	}
	return sanitize(raw, p), nil
}

// sanitize drops steps the engine cannot run or that name unknown columns,
// and bounds the list and its text.
func sanitize(in []models.Suggestion, p models.Profile) []models.Suggestion {
	out := make([]models.Suggestion, 0, len(in))
	for _, s := range in {
		if !knownOperation(s.Operation) {
			slog.Debug("dropping suggestion with unknown operation", "operation", s.Operation)
			continue
		}
		if col := s.Column(); col != "" && p.Column(col) == nil {
			slog.Debug("dropping suggestion for unknown column", "operation", s.Operation, "column", col)
			continue
		}
		s.Reason = truncateString(s.Reason, maxReasonLength)
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
