// Package movie holds the IMDB record model: the input layout, the output
// table schema, and the line transformer that maps one to the other.
package movie

// Field types understood by every storage backend.
const (
	TypeString  = "STRING"
	TypeInteger = "INTEGER"
	TypeFloat   = "FLOAT"
)

// DefaultDescription is the table description applied after each load.
const DefaultDescription = "Banco de dados IMDB com os 1000 melhores filmes e programas de TV"

// Field is one output column.
type Field struct {
	Name        string
	Type        string
	Description string
}

// Schema is the ordered output table definition. Treat it as read-only.
type Schema []Field

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// DefaultSchema returns the destination table schema.
func DefaultSchema() Schema {
	return Schema{
		{Name: "link_poster", Type: TypeString, Description: "Link do pôster que o IMDb está usando"},
		{Name: "titulo", Type: TypeString, Description: "Nome do filme ou série"},
		{Name: "ano_lancamento", Type: TypeInteger, Description: "Ano em que o filme foi lançado"},
		{Name: "classificacao", Type: TypeString, Description: "Certificado obtido por esse filme"},
		{Name: "duracao", Type: TypeString, Description: "Duração total do filme"},
		{Name: "genero", Type: TypeString, Description: "Gênero do filme"},
		{Name: "nota_imdb", Type: TypeFloat, Description: "Nota do filme no site IMDb"},
		{Name: "sinopse", Type: TypeString, Description: "Resumo do filme"},
		{Name: "meta_score", Type: TypeInteger, Description: "Pontuação obtida pelo filme"},
		{Name: "diretor", Type: TypeString, Description: "Nome do Diretor"},
		{Name: "ator1", Type: TypeString, Description: "Nome dos atores"},
		{Name: "ator2", Type: TypeString, Description: "Nome dos atores"},
		{Name: "ator3", Type: TypeString, Description: "Nome dos atores"},
		{Name: "ator4", Type: TypeString, Description: "Nome dos atores"},
		{Name: "votos", Type: TypeInteger, Description: "Número total de votos"},
		{Name: "receita", Type: TypeFloat, Description: "Dinheiro arrecadado por aquele filme"},
	}
}
