package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imdbetl/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

It provides:
  - create-if-absent DDL with column comments carrying the field descriptions
  - full replace as TRUNCATE + COPY inside one transaction
  - table description as COMMENT ON TABLE

TableRef.Dataset is the Postgres schema; TableRef.Project is ignored because
the DSN already selects the database.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a new Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTable runs the create-if-absent DDL. Column comments are written only
// when the table is created by this call, so an existing table is never
// altered.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	schemaSQL, tableSQL, commentSQL, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, qualifiedName(spec.Ref)).Scan(&exists); err != nil {
		return fmt.Errorf("lookup %s: %w", qualifiedName(spec.Ref), err)
	}
	if exists {
		return nil
	}

	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema %s: %w", spec.Ref.Dataset, err)
	}
	if _, err := tx.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", qualifiedName(spec.Ref), err)
	}
	for _, stmt := range commentSQL {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("comment on %s: %w", qualifiedName(spec.Ref), err)
		}
	}
	return tx.Commit(ctx)
}

// ReplaceRows truncates and reloads the table with COPY in one transaction.
// Concurrent readers see either the old or the new contents.
func (r *Repo) ReplaceRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, buildTruncateSQL(spec.Ref)); err != nil {
		return 0, fmt.Errorf("truncate %s: %w", qualifiedName(spec.Ref), err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{spec.Ref.Dataset, spec.Ref.Table},
		spec.ColumnNames(),
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", qualifiedName(spec.Ref), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// UpdateDescription reads the current comment, replaces it and returns the
// stored value.
func (r *Repo) UpdateDescription(ctx context.Context, spec storage.TableSpec, description string) (string, error) {
	name := qualifiedName(spec.Ref)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var exists bool
	var current *string
	err = tx.QueryRow(ctx,
		`SELECT to_regclass($1) IS NOT NULL, obj_description(to_regclass($1), 'pg_class')`, name,
	).Scan(&exists, &current)
	if err != nil {
		return "", fmt.Errorf("read description %s: %w", name, err)
	}
	if !exists {
		return "", fmt.Errorf("postgres: table %s does not exist", name)
	}

	if _, err := tx.Exec(ctx, buildCommentOnTableSQL(spec.Ref, description)); err != nil {
		return "", err
	}

	var stored *string
	if err := tx.QueryRow(ctx, `SELECT obj_description(to_regclass($1), 'pg_class')`, name).Scan(&stored); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	if stored == nil {
		return "", nil
	}
	return *stored, nil
}

func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// pgLiteral quotes s as a standard SQL string literal. COMMENT does not
// accept bind parameters.
func pgLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

func qualifiedName(ref storage.TableRef) string {
	return pgIdent(ref.Dataset) + "." + pgIdent(ref.Table)
}

func pgType(t string) (string, error) {
	switch strings.ToUpper(t) {
	case "STRING":
		return "TEXT", nil
	case "INTEGER":
		return "BIGINT", nil
	case "FLOAT":
		return "DOUBLE PRECISION", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", t)
	}
}

// buildCreateSQL builds the schema DDL, the table DDL and one COMMENT ON
// COLUMN statement per described column. It is pure so the SQL can be unit
// tested without a database.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, commentSQL []string, err error) {
	if strings.TrimSpace(t.Ref.Dataset) == "" || strings.TrimSpace(t.Ref.Table) == "" {
		return "", "", nil, fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", "", nil, fmt.Errorf("%s has no columns", t.Ref)
	}

	schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(t.Ref.Dataset))

	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := pgType(c.Type)
		if err != nil {
			return "", "", nil, err
		}
		cols = append(cols, pgIdent(c.Name)+" "+typ)
		if c.Description != "" {
			commentSQL = append(commentSQL, fmt.Sprintf(`COMMENT ON COLUMN %s.%s IS %s;`,
				qualifiedName(t.Ref), pgIdent(c.Name), pgLiteral(c.Description)))
		}
	}
	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, qualifiedName(t.Ref), strings.Join(cols, ", "))
	return schemaSQL, tableSQL, commentSQL, nil
}

func buildTruncateSQL(ref storage.TableRef) string {
	return `TRUNCATE TABLE ` + qualifiedName(ref) + `;`
}

func buildCommentOnTableSQL(ref storage.TableRef, description string) string {
	return `COMMENT ON TABLE ` + qualifiedName(ref) + ` IS ` + pgLiteral(description) + `;`
}
