package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"imdbetl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs the warehouse backends:
//   - SQLite has no schemas in the warehouse sense, so only TableRef.Table
//     names the table. Project and dataset are ignored.
//   - SQLite has no table comments. Table and column descriptions live in
//     two bookkeeping tables, _etl_table_metadata and _etl_column_metadata.
//   - ReplaceRows runs DELETE + INSERT in one transaction, so readers see
//     either the old contents or the new ones.
type Repo struct {
	db        *sql.DB
	batchSize int
	now       func() time.Time
}

const (
	tableMetadata  = "_etl_table_metadata"
	columnMetadata = "_etl_column_metadata"

	defaultBatchSize = 500

	// maxVariables is SQLite's default SQLITE_MAX_VARIABLE_NUMBER.
	maxVariables = 32766
)

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = defaultBatchSize
	}
	return &Repo{db: db, batchSize: bs, now: time.Now}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable creates the destination and the metadata tables if missing and
// records column descriptions for columns that have none yet.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	for _, stmt := range []string{ddl, createTableMetadataSQL, createColumnMetadataSQL} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Ref.Table, err)
		}
	}

	for _, c := range spec.Columns {
		if c.Description == "" {
			continue
		}
		_, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+columnMetadata+` (table_name, column_name, description) VALUES (?, ?, ?)`,
			spec.Ref.Table, c.Name, c.Description,
		)
		if err != nil {
			return fmt.Errorf("record column description %s.%s: %w", spec.Ref.Table, c.Name, err)
		}
	}
	return nil
}

// ReplaceRows deletes every row and inserts rows, in one transaction.
func (r *Repo) ReplaceRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	columns := spec.ColumnNames()
	chunk := rowsPerStatement(len(columns), r.batchSize)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(spec.Ref.Table)); err != nil {
		return 0, fmt.Errorf("truncate %s: %w", spec.Ref.Table, err)
	}

	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertSQL(spec.Ref.Table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert batch at row %d: %w", start, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return total, err
	}
	return total, nil
}

// rowsPerStatement keeps each INSERT under the bound variable limit.
func rowsPerStatement(columns, batchSize int) int {
	if columns <= 0 {
		return 1
	}
	n := maxVariables / columns
	if batchSize > 0 && batchSize < n {
		n = batchSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

// UpdateDescription fails if the table does not exist, then upserts the
// description row and reads it back.
func (r *Repo) UpdateDescription(ctx context.Context, spec storage.TableSpec, description string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var name string
	err = tx.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, spec.Ref.Table,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlite: table %s does not exist", spec.Ref.Table)
	}
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+tableMetadata+` (table_name, description, updated_at) VALUES (?, ?, ?)
ON CONFLICT (table_name) DO UPDATE SET description = excluded.description, updated_at = excluded.updated_at`,
		spec.Ref.Table, description, r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", err
	}

	var stored string
	if err := tx.QueryRowContext(ctx,
		`SELECT description FROM `+tableMetadata+` WHERE table_name = ?`, spec.Ref.Table,
	).Scan(&stored); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return stored, nil
}

// Description returns the stored table description, or "" if none.
func (r *Repo) Description(ctx context.Context, table string) (string, error) {
	var d string
	err := r.db.QueryRowContext(ctx,
		`SELECT description FROM `+tableMetadata+` WHERE table_name = ?`, table,
	).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return d, err
}

const createTableMetadataSQL = `CREATE TABLE IF NOT EXISTS ` + tableMetadata + ` (
  table_name TEXT PRIMARY KEY,
  description TEXT,
  updated_at TEXT NOT NULL
);`

const createColumnMetadataSQL = `CREATE TABLE IF NOT EXISTS ` + columnMetadata + ` (
  table_name TEXT NOT NULL,
  column_name TEXT NOT NULL,
  description TEXT,
  PRIMARY KEY (table_name, column_name)
);`

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqliteType(t string) (string, error) {
	switch strings.ToUpper(t) {
	case "STRING":
		return "TEXT", nil
	case "INTEGER":
		return "INTEGER", nil
	case "FLOAT":
		return "REAL", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported column type %q", t)
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Ref.Table) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s has no columns", t.Ref.Table)
	}

	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s %s", sqlIdent(c.Name), typ))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Ref.Table), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL builds one multi-row INSERT with ? placeholders.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}
