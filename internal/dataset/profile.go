package dataset

import (
	"strconv"
	"strings"

	"github.com/kiranshivaraju/tidyflow/internal/analysis"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// DefaultNonValues are placeholder tokens that mean "no value" even though
// the cell is not empty. Matching is case-insensitive.
var DefaultNonValues = []string{"ERROR", "UNKNOWN", "N/A", "NA", "NULL", "NONE", "NAN", "#N/A", "-", "?"}

func isNull(v string) bool {
	return strings.TrimSpace(v) == ""
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[strings.ToUpper(strings.TrimSpace(tok))] = true
	}
	return set
}

func isNonValue(v string, set map[string]bool) bool {
	return set[strings.ToUpper(strings.TrimSpace(v))]
}

// Profile computes per-column statistics for t.
func Profile(t *Table) *models.Profile {
	p := &models.Profile{
		RowCount:      len(t.Rows),
		ColumnCount:   len(t.Header),
		Columns:       make([]models.ColumnProfile, 0, len(t.Header)),
		MalformedRows: t.Malformed,
	}

	nonValues := tokenSet(DefaultNonValues)
	for i, name := range t.Header {
		p.Columns = append(p.Columns, profileColumn(name, t.Column(i), nonValues))
	}
	return p
}

func profileColumn(name string, values []string, nonValues map[string]bool) models.ColumnProfile {
	cp := models.ColumnProfile{Name: name}

	distinct := make(map[string]struct{})
	var present, clean []string
	for _, v := range values {
		if isNull(v) {
			cp.NullCount++
			continue
		}
		present = append(present, v)
		distinct[v] = struct{}{}
		if isNonValue(v, nonValues) {
			cp.NonValueCount++
			continue
		}
		clean = append(clean, v)
	}
	cp.Distinct = len(distinct)
	cp.Type = inferType(present)

	if cp.Type == models.ColumnTypeString {
		ct := inferType(clean)
		cp.NumericLike = ct.IsNumeric() || (len(clean) > 0 && allNumericAfterStrip(clean))
		cp.Variants = analysis.ClusterValues(clean)
		if len(cp.Variants) == 0 {
			cp.Variants = nil
		}
	}
	return cp
}

// inferType picks the narrowest type that fits every value.
func inferType(values []string) models.ColumnType {
	if len(values) == 0 {
		return models.ColumnTypeEmpty
	}
	isInt, isFloat, isBool := true, true, true
	for _, v := range values {
		v = strings.TrimSpace(v)
		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, ok := parseBool(v); !ok {
				isBool = false
			}
		}
		if !isInt && !isFloat && !isBool {
			return models.ColumnTypeString
		}
	}
	switch {
	case isInt:
		return models.ColumnTypeInteger
	case isFloat:
		return models.ColumnTypeFloat
	case isBool:
		return models.ColumnTypeBoolean
	}
	return models.ColumnTypeString
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "t":
		return true, true
	case "false", "no", "n", "f":
		return false, true
	}
	return false, false
}

// stripNumeric removes currency symbols, thousands separators and padding.
func stripNumeric(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "$")
	v = strings.TrimPrefix(v, "€")
	v = strings.TrimPrefix(v, "£")
	v = strings.ReplaceAll(v, ",", "")
	return strings.TrimSpace(v)
}

func allNumericAfterStrip(values []string) bool {
	for _, v := range values {
		if _, err := strconv.ParseFloat(stripNumeric(v), 64); err != nil {
			return false
		}
	}
	return true
}
