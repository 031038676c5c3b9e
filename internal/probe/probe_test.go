package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"imdbetl/internal/config"
)

const header = "Poster_Link,Series_Title,Released_Year,Certificate,Runtime,Genre,IMDB_Rating,Overview,Meta_score,Director,Star1,Star2,Star3,Star4,No_of_Votes,Gross\n"

const sample = header +
	`"http://a","Inception","2010","PG-13","148 min","Action","8.8","A thief.","74","Nolan","DiCaprio","","","","2,067,042","292,576,195"` + "\n" +
	`"http://b","Apollo 13","PG","U","140 min","Drama","7.6","Houston.","","Howard","Hanks","","","","10","n/a"` + "\n" +
	`"http://c","Broken","1999"` + "\n" +
	`"http://d","Casablanca","1942","U","102 min","Drama","8.5","Gin joints.","100","Curtiz","Bogart","","","","522,093",""` + "\n"

func src(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

func column(t *testing.T, r Report, name string) ColumnReport {
	t.Helper()
	for _, c := range r.Columns {
		if c.Column == name {
			return c
		}
	}
	t.Fatalf("column %s not in report", name)
	return ColumnReport{}
}

func TestProbe_CountsShapeErrorsAndNulls(t *testing.T) {
	t.Parallel()

	rep, err := Probe(context.Background(), src(sample), Options{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.Rows != 4 || rep.Accepted != 3 || rep.ShapeErrors != 1 {
		t.Fatalf("rows=%d accepted=%d shape=%d", rep.Rows, rep.Accepted, rep.ShapeErrors)
	}
	if len(rep.FirstShape) != 1 || rep.FirstShape[0].Line != 4 {
		t.Fatalf("first shape errors=%+v", rep.FirstShape)
	}
	if len(rep.Columns) != 5 {
		t.Fatalf("numeric columns=%d want 5", len(rep.Columns))
	}

	year := column(t, rep, "ano_lancamento")
	if year.Nulls != 1 || year.Empty != 0 || len(year.Unparsed) != 1 || year.Unparsed[0] != "PG" {
		t.Fatalf("ano_lancamento=%+v", year)
	}
	gross := column(t, rep, "receita")
	if gross.Nulls != 2 || gross.Empty != 1 || gross.Unparsed[0] != "n/a" {
		t.Fatalf("receita=%+v", gross)
	}
	meta := column(t, rep, "meta_score")
	if meta.Nulls != 1 || meta.Empty != 1 || len(meta.Unparsed) != 0 {
		t.Fatalf("meta_score=%+v", meta)
	}
}

func TestProbe_MaxRowsTruncates(t *testing.T) {
	t.Parallel()

	rep, err := Probe(context.Background(), src(sample), Options{MaxRows: 2})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.Rows != 2 || rep.Accepted != 2 || !rep.Truncated {
		t.Fatalf("report=%+v", rep)
	}
}

func TestProbe_SkipHeaderOption(t *testing.T) {
	t.Parallel()

	body := strings.TrimPrefix(sample, header)
	rep, err := Probe(context.Background(), src(body), Options{Parser: config.Options{"skip_header_lines": 0}})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.Rows != 4 {
		t.Fatalf("rows=%d want 4", rep.Rows)
	}
}

func TestReport_CountsEdgeWhitespaceInTextColumns(t *testing.T) {
	t.Parallel()

	in := header +
		`"http://a"," Inception","2010","PG-13","148 min","Action","8.8","A thief.","74","Nolan ","DiCaprio","","","","2,067,042","292,576,195"` + "\n" +
		`"http://b","Up","2009","U","96 min","Animation","8.2","Balloons.","88","Docter` + "\t" + `","Asner"," ","","","1,000"," 5 "` + "\n" +
		`"http://c","Broken  ","1999"` + "\n"

	rep, err := Probe(context.Background(), src(in), Options{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	// Numeric cells are trimmed by coercion, and rejected lines are not counted.
	want := map[string]int{"titulo": 1, "diretor": 2, "ator2": 1}
	if len(rep.EdgeSpace) != len(want) {
		t.Fatalf("edge space=%v want %v", rep.EdgeSpace, want)
	}
	for col, n := range want {
		if rep.EdgeSpace[col] != n {
			t.Fatalf("edge space[%s]=%d want %d (all=%v)", col, rep.EdgeSpace[col], n, rep.EdgeSpace)
		}
	}

	var buf bytes.Buffer
	if err := rep.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if !strings.Contains(buf.String(), "edge whitespace:") || !strings.Contains(buf.String(), "diretor:") {
		t.Fatalf("text report:\n%s", buf.String())
	}
}

func TestReport_WriteTextAndJSON(t *testing.T) {
	t.Parallel()

	rep, err := Probe(context.Background(), src(sample), Options{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	var buf bytes.Buffer
	if err := rep.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"rows:", "shape errors:", "line 4:", "ano_lancamento", `"PG"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}

	raw, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"shape_errors":1`)) || bytes.Contains(raw, []byte(`"edge_space"`)) {
		t.Fatalf("json=%s", raw)
	}
}
