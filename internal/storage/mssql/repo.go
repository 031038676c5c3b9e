package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"imdbetl/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// TableRef.Dataset is the SQL Server schema and TableRef.Table the table.
// Descriptions are stored as MS_Description extended properties, on the table
// for the table description and on each column for the field descriptions.
//
// This package does not blank-import a SQL Server driver. The application must
// register the "sqlserver" driver elsewhere (storage/all does).
type Repo struct {
	db        dbConn
	batchSize int
}

// SQL Server rejects statements with more than 2100 parameters.
const maxParams = 2000

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}, batchSize: cfg.BatchSize}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTable creates the schema and the table when the table is missing and
// attaches the column descriptions. An existing table is left alone.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	createSQL, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := tableExistsTx(ctx, tx, spec.Ref)
	if err != nil {
		return err
	}
	if exists {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, buildCreateSchemaSQL(spec.Ref.Dataset)); err != nil {
		return fmt.Errorf("mssql: create schema %s: %w", spec.Ref.Dataset, err)
	}
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", spec.Ref.SQLName(), err)
	}
	for _, c := range spec.Columns {
		if c.Description == "" {
			continue
		}
		q, args := buildColumnPropertySQL(spec.Ref, c.Name, c.Description)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("mssql: describe column %s: %w", c.Name, err)
		}
	}
	return tx.Commit()
}

// ReplaceRows truncates and reloads the table in one transaction.
func (r *Repo) ReplaceRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	columns := spec.ColumnNames()
	chunk := rowsPerStatement(len(columns), r.batchSize)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+tableIdent(spec.Ref)); err != nil {
		return 0, fmt.Errorf("mssql: truncate %s: %w", spec.Ref.SQLName(), err)
	}

	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildBulkInsertSQL(spec.Ref, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert batch at row %d: %w", start, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(end - start)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// UpdateDescription adds or updates the table's MS_Description property and
// returns the stored value.
func (r *Repo) UpdateDescription(ctx context.Context, spec storage.TableSpec, description string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := tableExistsTx(ctx, tx, spec.Ref)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("mssql: table %s does not exist", spec.Ref.SQLName())
	}

	_, found, err := readDescriptionTx(ctx, tx, spec.Ref)
	if err != nil {
		return "", err
	}

	q, args := buildTablePropertySQL(spec.Ref, description, found)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return "", fmt.Errorf("mssql: describe table %s: %w", spec.Ref.SQLName(), err)
	}

	stored, _, err := readDescriptionTx(ctx, tx, spec.Ref)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return stored, nil
}

func tableExistsTx(ctx context.Context, tx txConn, ref storage.TableRef) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT CASE WHEN OBJECT_ID(@p1, N'U') IS NULL THEN 0 ELSE 1 END`, tableIdent(ref),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mssql: lookup %s: %w", ref.SQLName(), err)
	}
	return n == 1, nil
}

func readDescriptionTx(ctx context.Context, tx txConn, ref storage.TableRef) (string, bool, error) {
	var v sql.NullString
	err := tx.QueryRowContext(ctx, selectTableDescriptionSQL, tableIdent(ref)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mssql: read description %s: %w", ref.SQLName(), err)
	}
	return v.String, true, nil
}

const selectTableDescriptionSQL = `SELECT CAST(value AS NVARCHAR(MAX)) FROM sys.extended_properties
WHERE class = 1 AND major_id = OBJECT_ID(@p1) AND minor_id = 0 AND name = N'MS_Description'`

// rowsPerStatement keeps each INSERT under the parameter limit.
func rowsPerStatement(columns, batchSize int) int {
	if columns <= 0 {
		return 1
	}
	n := maxParams / columns
	if batchSize > 0 && batchSize < n {
		n = batchSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

func mssqlType(t string) (string, error) {
	switch strings.ToUpper(t) {
	case "STRING":
		return "NVARCHAR(MAX)", nil
	case "INTEGER":
		return "BIGINT", nil
	case "FLOAT":
		return "FLOAT", nil
	default:
		return "", fmt.Errorf("mssql: unsupported column type %q", t)
	}
}

// buildCreateSQL returns a CREATE TABLE guarded by OBJECT_ID, so it is safe to
// run against an existing table.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Ref.Dataset) == "" || strings.TrimSpace(t.Ref.Table) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: %s has no columns", t.Ref.SQLName())
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("mssql: column name is empty")
		}
		typ, err := mssqlType(c.Type)
		if err != nil {
			return "", err
		}
		defs = append(defs, mssqlIdent(c.Name)+" "+typ+" NULL")
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableIdent(t.Ref), "'", "''"),
		tableIdent(t.Ref),
		strings.Join(defs, ", "),
	), nil
}

// CREATE SCHEMA must be the only statement in its batch, hence EXEC.
func buildCreateSchemaSQL(schema string) string {
	stmt := "CREATE SCHEMA " + mssqlIdent(schema)
	return fmt.Sprintf(
		"IF SCHEMA_ID(N'%s') IS NULL EXEC(N'%s');",
		strings.ReplaceAll(schema, "'", "''"),
		strings.ReplaceAll(stmt, "'", "''"),
	)
}

func buildColumnPropertySQL(ref storage.TableRef, column, description string) (string, []any) {
	return `EXEC sys.sp_addextendedproperty @name = N'MS_Description', @value = @p1,
@level0type = N'SCHEMA', @level0name = @p2, @level1type = N'TABLE', @level1name = @p3,
@level2type = N'COLUMN', @level2name = @p4`,
		[]any{description, ref.Dataset, ref.Table, column}
}

func buildTablePropertySQL(ref storage.TableRef, description string, exists bool) (string, []any) {
	proc := "sys.sp_addextendedproperty"
	if exists {
		proc = "sys.sp_updateextendedproperty"
	}
	return `EXEC ` + proc + ` @name = N'MS_Description', @value = @p1,
@level0type = N'SCHEMA', @level0name = @p2, @level1type = N'TABLE', @level1name = @p3`,
		[]any{description, ref.Dataset, ref.Table}
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(ref storage.TableRef, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(ref))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			p++
		}
		b.WriteString(")")
		args = append(args, row...)
	}
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func tableIdent(ref storage.TableRef) string {
	return mssqlIdent(ref.Dataset) + "." + mssqlIdent(ref.Table)
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error   { return s.tx.Commit() }
func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
