// To keep backends generic, the table types live here so the pipeline and
// every backend package can import them without circular deps.
package storage

import (
	"fmt"
	"strings"

	"imdbetl/internal/movie"
)

// TableRef is a fully qualified destination: project (or catalog), dataset
// (or schema) and table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableRef accepts "project:dataset.table" and "project.dataset.table".
// All three parts are required.
func ParseTableRef(s string) (TableRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TableRef{}, fmt.Errorf("table reference is empty")
	}

	var project, rest string
	if i := strings.IndexByte(s, ':'); i >= 0 {
		project, rest = s[:i], s[i+1:]
	} else {
		i := strings.IndexByte(s, '.')
		if i < 0 {
			return TableRef{}, fmt.Errorf("table reference %q: want project:dataset.table", s)
		}
		project, rest = s[:i], s[i+1:]
	}

	parts := strings.Split(rest, ".")
	if len(parts) != 2 {
		return TableRef{}, fmt.Errorf("table reference %q: want project:dataset.table", s)
	}
	ref := TableRef{Project: project, Dataset: parts[0], Table: parts[1]}
	if ref.Project == "" || ref.Dataset == "" || ref.Table == "" {
		return TableRef{}, fmt.Errorf("table reference %q: empty component", s)
	}
	return ref, nil
}

func (r TableRef) String() string {
	return r.Project + ":" + r.Dataset + "." + r.Table
}

// SQLName is "dataset.table"; SQL backends treat the dataset as a schema.
func (r TableRef) SQLName() string {
	return r.Dataset + "." + r.Table
}

// ColumnSpec describes one destination column. Type is one of the movie
// field types (STRING, INTEGER, FLOAT); backends map it to native types.
type ColumnSpec struct {
	Name        string
	Type        string
	Description string
}

// TableSpec is the static declaration used for create-if-absent.
type TableSpec struct {
	Ref     TableRef
	Columns []ColumnSpec
}

// SpecFromSchema builds a TableSpec for ref from a movie schema.
func SpecFromSchema(ref TableRef, s movie.Schema) TableSpec {
	cols := make([]ColumnSpec, len(s))
	for i, f := range s {
		cols[i] = ColumnSpec{Name: f.Name, Type: f.Type, Description: f.Description}
	}
	return TableSpec{Ref: ref, Columns: cols}
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// CheckRows verifies every row has one value per column.
func (t TableSpec) CheckRows(rows [][]any) error {
	for i, r := range rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("row %d has %d values, table %s has %d columns", i, len(r), t.Ref, len(t.Columns))
		}
	}
	return nil
}
