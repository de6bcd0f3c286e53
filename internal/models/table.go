package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "neoexcelsync/pkg/errors"
)

// Table is an immutable, ordered set of rows over an ordered column list.
// Every transform returns a new Table; row cell slices may be shared between
// tables and are never written after construction.
type Table struct {
	name    string
	columns []string
	index   map[string]int
	rows    [][]Cell
}

// ColumnRef is a resolved column of a specific table layout.
type ColumnRef struct {
	Name  string
	index int
}

// Row is a read-only view of one table row.
type Row struct {
	table *Table
	pos   int
}

// NewTable builds a table. Headers are trimmed; a repeated header gets a
// ".N" suffix so every column stays addressable. Short rows are padded with
// empty cells, long rows are truncated.
func NewTable(name string, columns []string, rows [][]Cell) *Table {
	t := &Table{
		name:    name,
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}

	seen := make(map[string]int, len(columns))
	for i, col := range columns {
		col = strings.TrimSpace(col)
		if n, dup := seen[col]; dup {
			seen[col] = n + 1
			col = fmt.Sprintf("%s.%d", col, n+1)
		} else {
			seen[col] = 0
		}
		t.columns[i] = col
		t.index[col] = i
	}

	t.rows = make([][]Cell, len(rows))
	for i, r := range rows {
		t.rows[i] = fitRow(r, len(columns))
	}
	return t
}

func fitRow(r []Cell, width int) []Cell {
	if len(r) == width {
		return r
	}
	out := make([]Cell, width)
	copy(out, r)
	return out
}

func (t *Table) derive(rows [][]Cell) *Table {
	return &Table{name: t.name, columns: t.columns, index: t.index, rows: rows}
}

// Name returns the label used in error messages, e.g. "file 1".
func (t *Table) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// WithName returns the same data under another label.
func (t *Table) WithName(name string) *Table {
	out := t.derive(t.rows)
	out.name = name
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Columns returns a copy of the column list.
func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the column exists.
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[name]
	return ok
}

// Column resolves a column or returns a missing_column error listing the
// available columns.
func (t *Table) Column(name string) (ColumnRef, error) {
	if t != nil {
		if i, ok := t.index[name]; ok {
			return ColumnRef{Name: name, index: i}, nil
		}
	}
	return ColumnRef{}, apperrors.MissingColumnError(name, t.Name(), t.Columns())
}

// FindColumn returns the first column whose lowercased name satisfies match.
func (t *Table) FindColumn(match func(lower string) bool) (string, bool) {
	if t == nil {
		return "", false
	}
	for _, col := range t.columns {
		if match(strings.ToLower(col)) {
			return col, true
		}
	}
	return "", false
}

// Row returns the i-th row.
func (t *Table) Row(i int) Row { return Row{table: t, pos: i} }

// Rows returns all rows in order.
func (t *Table) Rows() []Row {
	out := make([]Row, t.Len())
	for i := range out {
		out[i] = Row{table: t, pos: i}
	}
	return out
}

// Filter keeps the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) bool) *Table {
	rows := make([][]Cell, 0, len(t.rows))
	for i, r := range t.rows {
		if keep(Row{table: t, pos: i}) {
			rows = append(rows, r)
		}
	}
	return t.derive(rows)
}

// Select returns the rows at the given positions, in that order.
func (t *Table) Select(positions []int) *Table {
	rows := make([][]Cell, len(positions))
	for i, p := range positions {
		rows[i] = t.rows[p]
	}
	return t.derive(rows)
}

// Project keeps only the named columns in the given order.
func (t *Table) Project(columns ...string) (*Table, error) {
	refs := make([]ColumnRef, len(columns))
	for i, col := range columns {
		ref, err := t.Column(col)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	rows := make([][]Cell, len(t.rows))
	for i, r := range t.rows {
		row := make([]Cell, len(refs))
		for j, ref := range refs {
			row[j] = r[ref.index]
		}
		rows[i] = row
	}
	return NewTable(t.name, columns, rows), nil
}

// WithConstColumn adds a column holding the same value on every row, either
// as the first column (prepend) or as the last one. An existing column of the
// same name is replaced in place.
func (t *Table) WithConstColumn(name string, value Cell, prepend bool) *Table {
	values := make([]Cell, len(t.rows))
	for i := range values {
		values[i] = value
	}
	return t.withColumn(name, values, prepend)
}

// WithColumn appends a column; values must have one entry per row.
func (t *Table) WithColumn(name string, values []Cell) *Table {
	return t.withColumn(name, values, false)
}

func (t *Table) withColumn(name string, values []Cell, prepend bool) *Table {
	if i, ok := t.index[name]; ok {
		rows := make([][]Cell, len(t.rows))
		for r, src := range t.rows {
			row := make([]Cell, len(src))
			copy(row, src)
			row[i] = values[r]
			rows[r] = row
		}
		return t.derive(rows)
	}

	columns := make([]string, 0, len(t.columns)+1)
	if prepend {
		columns = append(columns, name)
	}
	columns = append(columns, t.columns...)
	if !prepend {
		columns = append(columns, name)
	}

	rows := make([][]Cell, len(t.rows))
	for r, src := range t.rows {
		row := make([]Cell, 0, len(src)+1)
		if prepend {
			row = append(row, values[r])
		}
		row = append(row, src...)
		if !prepend {
			row = append(row, values[r])
		}
		rows[r] = row
	}
	return NewTable(t.name, columns, rows)
}

// Distinct drops rows that repeat an earlier row over all columns.
func (t *Table) Distinct() *Table {
	seen := make(map[string]struct{}, len(t.rows))
	return t.Filter(func(r Row) bool {
		key := r.key()
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		return true
	})
}

// Concat stacks tables. The result carries the union of the columns in
// first-seen order; cells a table does not have are empty. The name of the
// first table is kept.
func Concat(tables ...*Table) *Table {
	var columns []string
	pos := map[string]int{}
	name := ""
	for _, t := range tables {
		if t == nil {
			continue
		}
		if name == "" {
			name = t.name
		}
		for _, col := range t.columns {
			if _, ok := pos[col]; !ok {
				pos[col] = len(columns)
				columns = append(columns, col)
			}
		}
	}

	var rows [][]Cell
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, src := range t.rows {
			row := make([]Cell, len(columns))
			for i, col := range t.columns {
				row[pos[col]] = src[i]
			}
			rows = append(rows, row)
		}
	}
	return NewTable(name, columns, rows)
}

// Index returns the position of the row in its table.
func (r Row) Index() int { return r.pos }

// Get returns the cell of the named column, or an empty cell.
func (r Row) Get(column string) Cell {
	i, ok := r.table.index[column]
	if !ok {
		return Empty()
	}
	return r.table.rows[r.pos][i]
}

// Value returns the cell of a resolved column.
func (r Row) Value(col ColumnRef) Cell {
	return r.table.rows[r.pos][col.index]
}

// Values returns a copy of the row cells in column order.
func (r Row) Values() []Cell {
	src := r.table.rows[r.pos]
	out := make([]Cell, len(src))
	copy(out, src)
	return out
}

func (r Row) key() string {
	var b strings.Builder
	for _, c := range r.table.rows[r.pos] {
		b.WriteString(c.kind.String())
		b.WriteByte(':')
		b.WriteString(c.String())
		b.WriteByte(0x1f)
	}
	return b.String()
}

// MarshalJSON writes the row as an object whose keys follow the column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.table.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := r.table.rows[r.pos][i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON writes the table as a list of records.
func (t *Table) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := range t.rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := Row{table: t, pos: i}.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a list of records. Columns are taken in the order
// their keys first appear.
func (t *Table) UnmarshalJSON(data []byte) error {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}

	var columns []string
	pos := map[string]int{}
	parsed := make([]map[string]Cell, len(records))

	for i, raw := range records {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return fmt.Errorf("record %d: expected an object", i)
		}
		rec := map[string]Cell{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			var v interface{}
			if err := dec.Decode(&v); err != nil {
				return err
			}
			rec[key] = CellFromValue(v)
			if _, ok := pos[key]; !ok {
				pos[key] = len(columns)
				columns = append(columns, key)
			}
		}
		parsed[i] = rec
	}

	rows := make([][]Cell, len(parsed))
	for i, rec := range parsed {
		row := make([]Cell, len(columns))
		for k, v := range rec {
			row[pos[k]] = v
		}
		rows[i] = row
	}
	*t = *NewTable(t.name, columns, rows)
	return nil
}
