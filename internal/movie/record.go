package movie

import "database/sql"

// Record is one normalized movie row. Numeric fields are null when the
// source cell could not be coerced.
type Record struct {
	LinkPoster    string
	Titulo        string
	AnoLancamento sql.NullInt64
	Classificacao string
	Duracao       string
	Genero        string
	NotaIMDB      sql.NullFloat64
	Sinopse       string
	MetaScore     sql.NullInt64
	Diretor       string
	Ator1         string
	Ator2         string
	Ator3         string
	Ator4         string
	Votos         sql.NullInt64
	Receita       sql.NullFloat64
}

// Values returns the record in DefaultSchema order. Null numerics are nil;
// valid ones are int64 or float64.
func (r Record) Values() []any {
	return []any{
		r.LinkPoster,
		r.Titulo,
		nullInt(r.AnoLancamento),
		r.Classificacao,
		r.Duracao,
		r.Genero,
		nullFloat(r.NotaIMDB),
		r.Sinopse,
		nullInt(r.MetaScore),
		r.Diretor,
		r.Ator1,
		r.Ator2,
		r.Ator3,
		r.Ator4,
		nullInt(r.Votos),
		nullFloat(r.Receita),
	}
}

// Map returns the record keyed by output column. Every column is present.
func (r Record) Map() map[string]any {
	names := recordKeys
	vals := r.Values()
	out := make(map[string]any, len(names))
	for i, n := range names {
		out[n] = vals[i]
	}
	return out
}

// NullColumns lists the numeric columns that are null, in schema order.
func (r Record) NullColumns() []string {
	var out []string
	if !r.AnoLancamento.Valid {
		out = append(out, "ano_lancamento")
	}
	if !r.NotaIMDB.Valid {
		out = append(out, "nota_imdb")
	}
	if !r.MetaScore.Valid {
		out = append(out, "meta_score")
	}
	if !r.Votos.Valid {
		out = append(out, "votos")
	}
	if !r.Receita.Valid {
		out = append(out, "receita")
	}
	return out
}

// recordKeys is the column order of Values. It must match DefaultSchema.
var recordKeys = []string{
	"link_poster", "titulo", "ano_lancamento", "classificacao", "duracao",
	"genero", "nota_imdb", "sinopse", "meta_score", "diretor",
	"ator1", "ator2", "ator3", "ator4", "votos", "receita",
}

func nullInt(v sql.NullInt64) any {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func nullFloat(v sql.NullFloat64) any {
	if !v.Valid {
		return nil
	}
	return v.Float64
}
