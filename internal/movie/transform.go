package movie

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Layout describes the input file: its positional header and, for each
// output column, the header name it is read from.
type Layout struct {
	Header  []string
	Sources map[string]string // output column -> input header name
	Comma   rune

	// LazyQuotes tolerates bare quotes inside fields.
	LazyQuotes bool
}

// DefaultLayout returns the layout of imdb_top_1000.csv.
func DefaultLayout() Layout {
	return Layout{
		Header: []string{
			"Poster_Link", "Series_Title", "Released_Year", "Certificate", "Runtime", "Genre",
			"IMDB_Rating", "Overview", "Meta_score", "Director", "Star1", "Star2", "Star3", "Star4",
			"No_of_Votes", "Gross",
		},
		Sources: map[string]string{
			"link_poster":    "Poster_Link",
			"titulo":         "Series_Title",
			"ano_lancamento": "Released_Year",
			"classificacao":  "Certificate",
			"duracao":        "Runtime",
			"genero":         "Genre",
			"nota_imdb":      "IMDB_Rating",
			"sinopse":        "Overview",
			"meta_score":     "Meta_score",
			"diretor":        "Director",
			"ator1":          "Star1",
			"ator2":          "Star2",
			"ator3":          "Star3",
			"ator4":          "Star4",
			"votos":          "No_of_Votes",
			"receita":        "Gross",
		},
		Comma: ',',
	}
}

// ErrFieldCount is returned (wrapped in *ShapeError) when a line does not
// split into exactly len(Layout.Header) fields.
var ErrFieldCount = errors.New("wrong number of fields")

// ShapeError reports a structurally unusable line. Columns are never
// re-aligned or padded.
type ShapeError struct {
	Want int
	Got  int
	Err  error
}

func (e *ShapeError) Error() string {
	if errors.Is(e.Err, ErrFieldCount) {
		return fmt.Sprintf("movie: expected %d fields, got %d", e.Want, e.Got)
	}
	return fmt.Sprintf("movie: malformed line: %v", e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// Transformer converts CSV lines into Records. It holds no mutable state and
// is safe for concurrent use.
type Transformer struct {
	width int
	comma rune
	lazy  bool
	// idx[i] is the input position feeding recordKeys[i].
	idx [16]int
}

// NewTransformer validates l and precomputes the column positions.
func NewTransformer(l Layout) (*Transformer, error) {
	pos := make(map[string]int, len(l.Header))
	for i, h := range l.Header {
		if h == "" {
			return nil, fmt.Errorf("movie: header position %d is empty", i)
		}
		if _, dup := pos[h]; dup {
			return nil, fmt.Errorf("movie: duplicate header %q", h)
		}
		pos[h] = i
	}

	t := &Transformer{width: len(l.Header), comma: l.Comma, lazy: l.LazyQuotes}
	if t.comma == 0 {
		t.comma = ','
	}
	for i, key := range recordKeys {
		src, ok := l.Sources[key]
		if !ok {
			return nil, fmt.Errorf("movie: no source column for %q", key)
		}
		p, ok := pos[src]
		if !ok {
			return nil, fmt.Errorf("movie: source column %q for %q is not in the header", src, key)
		}
		t.idx[i] = p
	}
	if len(l.Sources) != len(recordKeys) {
		return nil, fmt.Errorf("movie: layout maps %d columns, want %d", len(l.Sources), len(recordKeys))
	}
	return t, nil
}

// Width is the number of fields every input line must have.
func (t *Transformer) Width() int { return t.width }

// Transform parses one CSV line (header excluded) into a Record.
func (t *Transformer) Transform(line string) (Record, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = t.comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = t.lazy

	values, err := r.Read()
	if err == io.EOF {
		return Record{}, &ShapeError{Want: t.width, Got: 0, Err: ErrFieldCount}
	}
	if err != nil {
		return Record{}, &ShapeError{Want: t.width, Err: err}
	}
	if _, err := r.Read(); err != io.EOF {
		return Record{}, &ShapeError{Want: t.width, Err: errors.New("line holds more than one record")}
	}
	return t.FromRaw(values)
}

// FromRaw maps already split values. len(raw) must equal Width.
func (t *Transformer) FromRaw(raw []string) (Record, error) {
	if len(raw) != t.width {
		return Record{}, &ShapeError{Want: t.width, Got: len(raw), Err: ErrFieldCount}
	}
	v := func(i int) string { return raw[t.idx[i]] }

	return Record{
		LinkPoster:    v(0),
		Titulo:        v(1),
		AnoLancamento: ParseInt(v(2)),
		Classificacao: v(3),
		Duracao:       v(4),
		Genero:        v(5),
		NotaIMDB:      ParseFloat(v(6)),
		Sinopse:       v(7),
		MetaScore:     ParseInt(v(8)),
		Diretor:       v(9),
		Ator1:         v(10),
		Ator2:         v(11),
		Ator3:         v(12),
		Ator4:         v(13),
		Votos:         ParseInt(v(14)),
		Receita:       ParseFloat(v(15)),
	}, nil
}
