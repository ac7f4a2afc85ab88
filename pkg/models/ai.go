// Package models contains shared data models used across the tidyflow codebase.
package models

import "context"

// SuggestionProvider is the core interface every cleaning-step suggester implements.
// Never call a specific LLM backend directly; always inject this interface.
type SuggestionProvider interface {
	// Suggest proposes ordered cleaning steps for a profiled dataset.
	Suggest(ctx context.Context, profile Profile) ([]Suggestion, error)
	// Name returns the provider identifier (e.g., "rules", "ollama").
	Name() string
}
