// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "imdbetl/internal/storage/bigquery"
	_ "imdbetl/internal/storage/mssql"
	_ "imdbetl/internal/storage/postgres"
	_ "imdbetl/internal/storage/sqlite"
)
