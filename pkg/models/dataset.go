package models

// ColumnType is the inferred type of a dataset column.
type ColumnType string

const (
	ColumnTypeInteger ColumnType = "integer"
	ColumnTypeFloat   ColumnType = "float"
	ColumnTypeBoolean ColumnType = "boolean"
	ColumnTypeString  ColumnType = "string"
	ColumnTypeEmpty   ColumnType = "empty"
)

// IsNumeric reports whether the column holds numbers.
func (t ColumnType) IsNumeric() bool {
	return t == ColumnTypeInteger || t == ColumnTypeFloat
}

// Profile is the output of the profiling stage.
type Profile struct {
	RowCount      int             `json:"row_count"`
	ColumnCount   int             `json:"column_count"`
	Columns       []ColumnProfile `json:"columns"`
	MalformedRows []MalformedRow  `json:"malformed_rows,omitempty"`
}

// Column returns the profile of the named column, or nil.
func (p *Profile) Column(name string) *ColumnProfile {
	for i := range p.Columns {
		if p.Columns[i].Name == name {
			return &p.Columns[i]
		}
	}
	return nil
}

// ColumnProfile holds per-column statistics.
type ColumnProfile struct {
	Name      string     `json:"name"`
	Type      ColumnType `json:"type"`
	NullCount int        `json:"null_count"`
	// NonValueCount counts placeholder tokens such as ERROR or UNKNOWN.
	NonValueCount int `json:"non_value_count"`
	// NumericLike is true when every non-null, non-placeholder value parses
	// as a number even though the column as a whole is typed string.
	NumericLike bool           `json:"numeric_like"`
	Distinct    int            `json:"distinct"`
	Variants    []ValueVariant `json:"variants,omitempty"`
}

// ValueVariant groups spellings of the same value, e.g. "In-store" and "in store".
type ValueVariant struct {
	Canonical string   `json:"canonical"`
	Spellings []string `json:"spellings"`
	Count     int      `json:"count"`
}

// MalformedRow is a CSV record whose field count does not match the header.
type MalformedRow struct {
	Line   int      `json:"line"`
	Fields []string `json:"fields"`
}

// Suggestion is one cleaning step proposed for the applying stage.
type Suggestion struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Column returns the "column" parameter, or "".
func (s Suggestion) Column() string {
	if s.Params == nil {
		return ""
	}
	c, _ := s.Params["column"].(string)
	return c
}

// Correction records the effect of one applied cleaning step.
type Correction struct {
	Operation    string `json:"operation"`
	Column       string `json:"column,omitempty"`
	RowsAffected int    `json:"rows_affected"`
	Skipped      bool   `json:"skipped,omitempty"`
	Detail       string `json:"detail,omitempty"`
}
