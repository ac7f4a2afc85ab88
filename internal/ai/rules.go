package ai

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/tidyflow/internal/dataset"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// RulesSuggester derives cleaning steps from profile statistics alone.
// It needs no network and always answers.
type RulesSuggester struct{}

var _ models.SuggestionProvider = (*RulesSuggester)(nil)

func NewRulesSuggester() *RulesSuggester {
	return &RulesSuggester{}
}

func (r *RulesSuggester) Name() string { return "rules" }

// Suggest orders steps so that later ones see earlier fixes: rows are made
// rectangular first, placeholders become empty before null handling, and
// casting runs last.
func (r *RulesSuggester) Suggest(ctx context.Context, p models.Profile) ([]models.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.Suggestion

	if n := len(p.MalformedRows); n > 0 {
		out = append(out, models.Suggestion{
			Operation: dataset.OpRepairMalformedRows,
			Reason:    fmt.Sprintf("%d rows have a field count that does not match the header", n),
		})
	}

	for _, c := range p.Columns {
		if c.NonValueCount > 0 {
			out = append(out, models.Suggestion{
				Operation: dataset.OpReplaceNonValues,
				Params:    map[string]any{"column": c.Name},
				Reason:    fmt.Sprintf("%d placeholder values such as ERROR or UNKNOWN", c.NonValueCount),
			})
		}
	}

	for _, c := range p.Columns {
		if len(c.Variants) > 0 {
			out = append(out, models.Suggestion{
				Operation: dataset.OpStandardizeCase,
				Params:    map[string]any{"column": c.Name},
				Reason:    fmt.Sprintf("%d values are spelled more than one way", len(c.Variants)),
			})
		}
	}

	for _, c := range p.Columns {
		nulls := c.NullCount + c.NonValueCount
		switch {
		case c.Type == models.ColumnTypeEmpty || (p.RowCount > 0 && nulls == p.RowCount):
			out = append(out, models.Suggestion{
				Operation: dataset.OpDropColumn,
				Params:    map[string]any{"column": c.Name},
				Reason:    "column has no values",
			})
		case nulls == 0:
		case c.Type.IsNumeric() || c.NumericLike:
			out = append(out, models.Suggestion{
				Operation: dataset.OpFillNulls,
				Params:    map[string]any{"column": c.Name, "value": 0},
				Reason:    fmt.Sprintf("%d missing numeric values", nulls),
			})
		}
	}

	for _, c := range p.Columns {
		if c.NumericLike {
			out = append(out, models.Suggestion{
				Operation: dataset.OpAutoCastType,
				Params:    map[string]any{"column": c.Name},
				Reason:    "text column holds numbers",
			})
		}
	}

	return out, nil
}
