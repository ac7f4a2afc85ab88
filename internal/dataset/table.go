// Package dataset holds the tabular internals behind the local stage
// engine: lenient CSV parsing, profiling, cleaning operations and the
// Markdown report.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

var ErrEmptyInput = errors.New("dataset is empty")
var ErrInvalidCSV = errors.New("invalid CSV")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a parsed CSV. Rows always have len(Header) fields; records with
// a different field count are kept aside in Malformed.
type Table struct {
	Header    []string
	Rows      [][]string
	Malformed []models.MalformedRow

	// lines[i] is the source line of Rows[i].
	lines []int
}

// ParseCSV reads data leniently. Only a missing header or a syntax error
// the reader cannot recover from is fatal.
func ParseCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidCSV, err)
	}
	if len(header) == 0 || (len(header) == 1 && header[0] == "") {
		return nil, fmt.Errorf("%w: header row is blank", ErrInvalidCSV)
	}

	t := &Table{Header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		line, _ := r.FieldPos(0)
		if len(rec) != len(header) {
			t.Malformed = append(t.Malformed, models.MalformedRow{Line: line, Fields: rec})
			continue
		}
		t.Rows = append(t.Rows, rec)
		t.lines = append(t.lines, line)
	}
	return t, nil
}

// WriteCSV renders the header and the well-formed rows.
func (t *Table) WriteCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	return buf.Bytes(), nil
}

// ColumnIndex returns the index of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// insertRow places row at its source position.
func (t *Table) insertRow(line int, row []string) {
	if len(t.lines) != len(t.Rows) {
		t.Rows = append(t.Rows, row)
		return
	}
	i := sort.SearchInts(t.lines, line)
	t.Rows = append(t.Rows, nil)
	copy(t.Rows[i+1:], t.Rows[i:])
	t.Rows[i] = row
	t.lines = append(t.lines, 0)
	copy(t.lines[i+1:], t.lines[i:])
	t.lines[i] = line
}

// Column returns a copy of the values of column i.
func (t *Table) Column(i int) []string {
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}
