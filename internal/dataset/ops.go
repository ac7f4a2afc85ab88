package dataset

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/tidyflow/internal/analysis"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// Operation names accepted in suggestions.
const (
	OpDropNullRows           = "drop_null_rows"
	OpFillNulls              = "fill_nulls"
	OpCastType               = "cast_type"
	OpDropColumn             = "drop_column"
	OpStandardizeCase        = "standardize_case"
	OpStandardizeColumnNames = "standardize_column_names"
	OpReplaceNonValues       = "replace_non_values"
	OpAutoCastType           = "auto_cast_type"
	OpRepairMalformedRows    = "repair_malformed_rows"
	OpDropMalformedRows      = "drop_malformed_rows"
)

// errSkip marks a step that was valid but had nothing to act on.
var errSkip = errors.New("skipped")

type operation func(t *Table, params map[string]any) (int, string, error)

var registry = map[string]operation{
	OpDropNullRows:           dropNullRows,
	OpFillNulls:              fillNulls,
	OpCastType:               castType,
	OpDropColumn:             dropColumn,
	OpStandardizeCase:        standardizeCase,
	OpStandardizeColumnNames: standardizeColumnNames,
	OpReplaceNonValues:       replaceNonValues,
	OpAutoCastType:           autoCastType,
	OpRepairMalformedRows:    repairMalformedRows,
	OpDropMalformedRows:      dropMalformedRows,
}

// Operations lists the supported operation names, sorted.
func Operations() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsKnownOperation reports whether name is in the registry.
func IsKnownOperation(name string) bool {
	_, ok := registry[name]
	return ok
}

// Apply runs each suggestion against t in order and returns one correction
// per suggestion. Unknown operations and steps whose column is missing are
// recorded as skipped. Malformed rows still present afterwards are dropped
// so the output is always rectangular.
func Apply(t *Table, suggestions []models.Suggestion) []models.Correction {
	corrections := make([]models.Correction, 0, len(suggestions)+1)
	for _, s := range suggestions {
		c := models.Correction{Operation: s.Operation, Column: s.Column()}
		op, ok := registry[s.Operation]
		if !ok {
			c.Skipped = true
			c.Detail = "unknown operation"
			corrections = append(corrections, c)
			continue
		}
		n, detail, err := op(t, s.Params)
		switch {
		case errors.Is(err, errSkip):
			c.Skipped = true
			c.Detail = detail
		case err != nil:
			c.Skipped = true
			c.Detail = err.Error()
		default:
			c.RowsAffected = n
			c.Detail = detail
		}
		corrections = append(corrections, c)
	}

	if len(t.Malformed) > 0 {
		n, detail, _ := dropMalformedRows(t, nil)
		corrections = append(corrections, models.Correction{
			Operation:    OpDropMalformedRows,
			RowsAffected: n,
			Detail:       detail + " (rows could not be kept as-is)",
		})
	}
	return corrections
}

// --- params ---

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return fmt.Sprint(x), true
	}
}

func stringListParam(params map[string]any, key string) []string {
	switch x := params[key].(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, v := range x {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// requireColumn resolves the "column" param. A missing column is a skip.
func requireColumn(t *Table, params map[string]any) (int, string, error) {
	name, ok := stringParam(params, "column")
	if !ok || name == "" {
		return -1, "", fmt.Errorf("missing column parameter")
	}
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return -1, "column not found", errSkip
	}
	return idx, "", nil
}

// targetColumns returns the named column, or every column when none is given.
func targetColumns(t *Table, params map[string]any) ([]int, string, error) {
	if _, ok := params["column"]; !ok {
		idx := make([]int, len(t.Header))
		for i := range t.Header {
			idx[i] = i
		}
		return idx, "", nil
	}
	i, detail, err := requireColumn(t, params)
	if err != nil {
		return nil, detail, err
	}
	return []int{i}, "", nil
}

// --- operations ---

func dropNullRows(t *Table, params map[string]any) (int, string, error) {
	idx, detail, err := requireColumn(t, params)
	if err != nil {
		return 0, detail, err
	}
	trackLines := len(t.lines) == len(t.Rows)
	var kept [][]string
	var keptLines []int
	dropped := 0
	for r, row := range t.Rows {
		if isNull(row[idx]) {
			dropped++
			continue
		}
		kept = append(kept, row)
		if trackLines {
			keptLines = append(keptLines, t.lines[r])
		}
	}
	t.Rows = kept
	t.lines = keptLines
	return dropped, fmt.Sprintf("dropped %d rows with empty %s", dropped, t.Header[idx]), nil
}

func fillNulls(t *Table, params map[string]any) (int, string, error) {
	idx, detail, err := requireColumn(t, params)
	if err != nil {
		return 0, detail, err
	}
	value, ok := stringParam(params, "value")
	if !ok {
		return 0, "", fmt.Errorf("missing value parameter")
	}
	filled := 0
	for _, row := range t.Rows {
		if isNull(row[idx]) {
			row[idx] = value
			filled++
		}
	}
	return filled, fmt.Sprintf("filled %d empty cells with %q", filled, value), nil
}

// castType converts every non-empty cell or none of them.
func castType(t *Table, params map[string]any) (int, string, error) {
	idx, detail, err := requireColumn(t, params)
	if err != nil {
		return 0, detail, err
	}
	dtype, _ := stringParam(params, "dtype")
	if dtype == "" {
		dtype, _ = stringParam(params, "type")
	}
	conv, err := converter(dtype)
	if err != nil {
		return 0, "", err
	}

	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		v := row[idx]
		if isNull(v) {
			out[r] = v
			continue
		}
		c, ok := conv(v)
		if !ok {
			return 0, fmt.Sprintf("value %q is not %s; column left unchanged", v, dtype), errSkip
		}
		out[r] = c
	}
	changed := 0
	for r, row := range t.Rows {
		if row[idx] != out[r] {
			row[idx] = out[r]
			changed++
		}
	}
	return changed, fmt.Sprintf("cast to %s", dtype), nil
}

func converter(dtype string) (func(string) (string, bool), error) {
	switch strings.ToLower(dtype) {
	case "int", "int64", "integer":
		return func(v string) (string, bool) {
			f, err := strconv.ParseFloat(stripNumeric(v), 64)
			if err != nil || f != float64(int64(f)) {
				return "", false
			}
			return strconv.FormatInt(int64(f), 10), true
		}, nil
	case "float", "float64", "double", "number":
		return func(v string) (string, bool) {
			f, err := strconv.ParseFloat(stripNumeric(v), 64)
			if err != nil {
				return "", false
			}
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}, nil
	case "bool", "boolean":
		return func(v string) (string, bool) {
			b, ok := parseBool(v)
			if !ok {
				return "", false
			}
			return strconv.FormatBool(b), true
		}, nil
	case "str", "string", "object":
		return func(v string) (string, bool) { return v, true }, nil
	}
	return nil, fmt.Errorf("unsupported dtype %q", dtype)
}

func dropColumn(t *Table, params map[string]any) (int, string, error) {
	idx, detail, err := requireColumn(t, params)
	if err != nil {
		return 0, detail, err
	}
	name := t.Header[idx]
	t.Header = append(t.Header[:idx:idx], t.Header[idx+1:]...)
	for r, row := range t.Rows {
		t.Rows[r] = append(row[:idx:idx], row[idx+1:]...)
	}
	// Malformed rows keep header positions so a later repair lines up.
	for i, m := range t.Malformed {
		if idx < len(m.Fields) {
			t.Malformed[i].Fields = append(m.Fields[:idx:idx], m.Fields[idx+1:]...)
		}
	}
	return len(t.Rows), fmt.Sprintf("dropped column %s", name), nil
}

func standardizeCase(t *Table, params map[string]any) (int, string, error) {
	idx, detail, err := requireColumn(t, params)
	if err != nil {
		return 0, detail, err
	}
	changed := 0
	for _, row := range t.Rows {
		if isNull(row[idx]) {
			continue
		}
		if s := analysis.SnakeCase(row[idx]); s != row[idx] {
			row[idx] = s
			changed++
		}
	}
	return changed, "values rewritten to lower snake_case", nil
}

func standardizeColumnNames(t *Table, params map[string]any) (int, string, error) {
	seen := make(map[string]int, len(t.Header))
	renamed := 0
	for i, h := range t.Header {
		name := analysis.SnakeCase(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		if name != h {
			t.Header[i] = name
			renamed++
		}
	}
	if renamed == 0 {
		return 0, "column names already standard", errSkip
	}
	return renamed, fmt.Sprintf("renamed %d columns", renamed), nil
}

func replaceNonValues(t *Table, params map[string]any) (int, string, error) {
	cols, detail, err := targetColumns(t, params)
	if err != nil {
		return 0, detail, err
	}
	tokens := stringListParam(params, "tokens")
	if len(tokens) == 0 {
		tokens = DefaultNonValues
	}
	set := tokenSet(tokens)

	replaced := 0
	for _, row := range t.Rows {
		for _, c := range cols {
			if !isNull(row[c]) && isNonValue(row[c], set) {
				row[c] = ""
				replaced++
			}
		}
	}
	return replaced, fmt.Sprintf("replaced %d placeholder values with empty", replaced), nil
}

// autoCastType normalizes numeric-looking string columns to plain numbers.
func autoCastType(t *Table, params map[string]any) (int, string, error) {
	cols, detail, err := targetColumns(t, params)
	if err != nil {
		return 0, detail, err
	}
	changed := 0
	var castCols []string
	for _, c := range cols {
		var present []string
		for _, row := range t.Rows {
			if !isNull(row[c]) {
				present = append(present, row[c])
			}
		}
		if len(present) == 0 || !allNumericAfterStrip(present) {
			continue
		}
		dtype := "float"
		if inferType(stripAll(present)) == models.ColumnTypeInteger {
			dtype = "int"
		}
		conv, _ := converter(dtype)
		n := 0
		for _, row := range t.Rows {
			if isNull(row[c]) {
				continue
			}
			if v, ok := conv(row[c]); ok && v != row[c] {
				row[c] = v
				n++
			}
		}
		if n > 0 {
			changed += n
			castCols = append(castCols, t.Header[c]+"->"+dtype)
		}
	}
	if changed == 0 {
		return 0, "no numeric-looking text found", errSkip
	}
	return changed, "cast " + strings.Join(castCols, ", "), nil
}

func stripAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = stripNumeric(v)
	}
	return out
}

// repairMalformedRows pads short records and trims empty trailing fields
// from long ones. Records that still do not fit are dropped.
func repairMalformedRows(t *Table, params map[string]any) (int, string, error) {
	if len(t.Malformed) == 0 {
		return 0, "no malformed rows", errSkip
	}
	width := len(t.Header)
	repaired, dropped := 0, 0
	for _, m := range t.Malformed {
		fields := m.Fields
		if len(fields) > width {
			extra := fields[width:]
			ok := true
			for _, f := range extra {
				if !isNull(f) {
					ok = false
					break
				}
			}
			if !ok {
				dropped++
				continue
			}
			fields = fields[:width]
		}
		row := make([]string, width)
		copy(row, fields)
		t.insertRow(m.Line, row)
		repaired++
	}
	t.Malformed = nil
	return repaired + dropped, fmt.Sprintf("repaired %d malformed rows, dropped %d", repaired, dropped), nil
}

func dropMalformedRows(t *Table, params map[string]any) (int, string, error) {
	n := len(t.Malformed)
	if n == 0 {
		return 0, "no malformed rows", errSkip
	}
	lines := make([]string, 0, n)
	for _, m := range t.Malformed {
		lines = append(lines, strconv.Itoa(m.Line))
	}
	t.Malformed = nil
	return n, fmt.Sprintf("dropped %d malformed rows (lines %s)", n, strings.Join(lines, ", ")), nil
}
