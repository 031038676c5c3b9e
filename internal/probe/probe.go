// Package probe implements a dry inspection of an input file.
//
// The probe reads a bounded number of records through the same line source
// and record transformer the load job uses, and reports:
//   - how many records were read and how many have a usable shape
//   - the first shape errors with their line numbers
//   - per numeric column, how many values end up null and which raw values
//     caused it
//   - per text column, how many values keep leading or trailing blanks
//
// Nothing is written anywhere. The probe is meant to be run before a load to
// see what the job will drop or null out.
package probe

import (
	"context"
	encsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"imdbetl/internal/config"
	"imdbetl/internal/movie"
	"imdbetl/internal/parser/csv"
	"imdbetl/internal/transformer"
	"imdbetl/internal/transformer/builtin"
)

const (
	defaultSamples   = 3
	maxShapeExamples = 5
)

// Options control sampling.
type Options struct {
	// MaxRows stops the probe after this many records. <= 0 reads everything.
	MaxRows int

	// Parser carries the same options as the csv parser config
	// (skip_header_lines, multiline_records, comma, lazy_quotes).
	Parser config.Options

	// Samples is the number of distinct raw values kept per column.
	Samples int
}

// ShapeIssue is one rejected line.
type ShapeIssue struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// ColumnReport describes the null outcome of one numeric column.
type ColumnReport struct {
	Column string `json:"column"`
	Type   string `json:"type"`

	// Nulls counts every null, Empty those whose raw value was blank.
	Nulls int `json:"nulls"`
	Empty int `json:"empty"`

	// Unparsed holds distinct non-blank raw values that coerced to null.
	Unparsed []string `json:"unparsed,omitempty"`
}

// Report is the probe result.
type Report struct {
	Rows        int            `json:"rows"`
	Accepted    int            `json:"accepted"`
	ShapeErrors int            `json:"shape_errors"`
	FirstShape  []ShapeIssue   `json:"first_shape_errors,omitempty"`
	Columns     []ColumnReport `json:"columns"`
	Truncated   bool           `json:"truncated"`

	// EdgeSpace counts accepted text values per column that start or end
	// with a space or tab. Text is loaded verbatim, so these reach the table.
	EdgeSpace map[string]int `json:"edge_space,omitempty"`
}

// Probe reads src and builds a Report. src is closed.
func Probe(ctx context.Context, src io.ReadCloser, opt Options) (Report, error) {
	layout := movie.DefaultLayout()
	layout.Comma = opt.Parser.Rune("comma", layout.Comma)
	layout.LazyQuotes = opt.Parser.Bool("lazy_quotes", layout.LazyQuotes)

	tr, err := movie.NewTransformer(layout)
	if err != nil {
		return Report{}, err
	}
	samples := opt.Samples
	if samples <= 0 {
		samples = defaultSamples
	}

	// Header position of every numeric output column.
	headerPos := make(map[string]int, len(layout.Header))
	for i, h := range layout.Header {
		headerPos[h] = i
	}
	var rep Report
	colIdx := map[string]int{}
	rawPos := map[string]int{}
	for _, f := range movie.DefaultSchema() {
		if f.Type == movie.TypeString {
			continue
		}
		colIdx[f.Name] = len(rep.Columns)
		rawPos[f.Name] = headerPos[layout.Sources[f.Name]]
		rep.Columns = append(rep.Columns, ColumnReport{Column: f.Name, Type: f.Type})
	}
	names := movie.DefaultSchema().Names()
	seen := make([]map[string]bool, len(rep.Columns))
	for i := range seen {
		seen[i] = map[string]bool{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reject := func(line int, err error) {
		rep.ShapeErrors++
		if len(rep.FirstShape) < maxShapeExamples {
			rep.FirstShape = append(rep.FirstShape, ShapeIssue{Line: line, Error: err.Error()})
		}
	}

	rows := make(chan *transformer.Row, 64)
	var (
		readErr  error
		parseErr []ShapeIssue
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		defer close(rows)
		readErr = csv.StreamLines(ctx, src, opt.Parser, rows, func(line int, err error) {
			parseErr = append(parseErr, ShapeIssue{Line: line, Error: err.Error()})
		})
	}()

	for r := range rows {
		if opt.MaxRows > 0 && rep.Rows >= opt.MaxRows {
			rep.Truncated = true
			cancel()
			r.Drop()
			continue
		}
		rep.Rows++

		rec, err := tr.Transform(r.Raw)
		if err != nil {
			reject(r.Line, err)
			r.Free()
			continue
		}
		rep.Accepted++

		for i, v := range rec.Values() {
			if s, ok := v.(string); ok && builtin.HasEdgeSpace(s) {
				if rep.EdgeSpace == nil {
					rep.EdgeSpace = map[string]int{}
				}
				rep.EdgeSpace[names[i]]++
			}
		}

		nulls := rec.NullColumns()
		if len(nulls) > 0 {
			raw := splitRaw(r.Raw, layout)
			for _, col := range nulls {
				i := colIdx[col]
				c := &rep.Columns[i]
				c.Nulls++
				v := ""
				if p := rawPos[col]; p < len(raw) {
					v = strings.TrimSpace(raw[p])
				}
				if v == "" {
					c.Empty++
					continue
				}
				if !seen[i][v] && len(c.Unparsed) < samples {
					seen[i][v] = true
					c.Unparsed = append(c.Unparsed, v)
				}
			}
		}
		r.Free()
	}
	<-done

	// Parser-level problems (oversized records) count as shape errors.
	for _, pe := range parseErr {
		rep.Rows++
		reject(pe.Line, errors.New(pe.Error))
	}

	if readErr != nil && !(rep.Truncated && errors.Is(readErr, context.Canceled)) {
		return rep, fmt.Errorf("probe: read: %w", readErr)
	}
	return rep, nil
}

// splitRaw re-splits an accepted line to recover the raw field text.
func splitRaw(line string, l movie.Layout) []string {
	r := encsv.NewReader(strings.NewReader(line))
	r.Comma = l.Comma
	r.LazyQuotes = l.LazyQuotes
	r.FieldsPerRecord = -1
	rec, err := r.Read()
	if err != nil {
		return nil
	}
	return rec
}

// WriteText renders the report for a terminal.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "rows:\t%d\n", r.Rows)
	fmt.Fprintf(tw, "accepted:\t%d\n", r.Accepted)
	fmt.Fprintf(tw, "shape errors:\t%d\n", r.ShapeErrors)
	if r.Truncated {
		fmt.Fprintf(tw, "truncated:\tyes\n")
	}
	for _, s := range r.FirstShape {
		fmt.Fprintf(tw, "  line %d:\t%s\n", s.Line, s.Error)
	}

	fmt.Fprintf(tw, "\ncolumn\ttype\tnulls\tempty\tunparsed\n")
	for _, c := range r.Columns {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", c.Column, c.Type, c.Nulls, c.Empty, quoteAll(c.Unparsed))
	}
	if len(r.EdgeSpace) > 0 {
		fmt.Fprintf(tw, "\nedge whitespace:\n")
		for _, col := range slices.Sorted(maps.Keys(r.EdgeSpace)) {
			fmt.Fprintf(tw, "  %s:\t%d\n", col, r.EdgeSpace[col])
		}
	}
	return tw.Flush()
}

func quoteAll(vs []string) string {
	if len(vs) == 0 {
		return "-"
	}
	q := make([]string, len(vs))
	for i, v := range vs {
		q[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(q, " ")
}
