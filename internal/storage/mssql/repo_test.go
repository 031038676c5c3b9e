package mssql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"imdbetl/internal/movie"
	"imdbetl/internal/storage"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int:
			*p = r.vals[i].(int)
		case *sql.NullString:
			s, ok := r.vals[i].(string)
			*p = sql.NullString{String: s, Valid: ok}
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

type fakeTx struct {
	execs     []string
	execArgs  [][]any
	rows      []fakeRow
	committed bool
	execErr   error
}

func (f *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return driver.RowsAffected(0), nil
}

func (f *fakeTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	if len(f.rows) == 0 {
		return fakeRow{err: errors.New("unexpected query: " + query)}
	}
	r := f.rows[0]
	f.rows = f.rows[1:]
	return r
}

func (f *fakeTx) Commit() error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback() error { return nil }

type fakeDB struct{ tx *fakeTx }

func (f *fakeDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) { return f.tx, nil }
func (f *fakeDB) Close() error                                                      { return nil }

func movieSpec() storage.TableSpec {
	return storage.SpecFromSchema(storage.TableRef{Project: "p", Dataset: "imdb_dataset", Table: "raw_imdb"}, movie.DefaultSchema())
}

func TestBuildCreateSQL_GuardedAndTyped(t *testing.T) {
	t.Parallel()

	got, err := buildCreateSQL(movieSpec())
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'[imdb_dataset].[raw_imdb]', N'U') IS NULL BEGIN CREATE TABLE [imdb_dataset].[raw_imdb] (",
		"[titulo] NVARCHAR(MAX) NULL",
		"[votos] BIGINT NULL",
		"[nota_imdb] FLOAT NULL",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %s", want, got)
		}
	}
}

func TestBuildCreateSchemaSQL(t *testing.T) {
	t.Parallel()

	got := buildCreateSchemaSQL("imdb_dataset")
	want := "IF SCHEMA_ID(N'imdb_dataset') IS NULL EXEC(N'CREATE SCHEMA [imdb_dataset]');"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildBulkInsertSQL_NumbersPlaceholders(t *testing.T) {
	t.Parallel()

	ref := storage.TableRef{Dataset: "d", Table: "t"}
	q, args := buildBulkInsertSQL(ref, []string{"a", "b"}, [][]any{{1, "x"}, {nil, "y"}})
	want := "INSERT INTO [d].[t] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4)"
	if q != want {
		t.Fatalf("got %q want %q", q, want)
	}
	if len(args) != 4 || args[2] != nil || args[3] != "y" {
		t.Fatalf("args=%v", args)
	}
}

func TestRowsPerStatement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cols, batch, want int
	}{
		{cols: 16, batch: 0, want: 125},
		{cols: 16, batch: 50, want: 50},
		{cols: 16, batch: 5000, want: 125},
		{cols: 5000, batch: 0, want: 1},
		{cols: 0, batch: 0, want: 1},
	}
	for _, tc := range tests {
		if got := rowsPerStatement(tc.cols, tc.batch); got != tc.want {
			t.Fatalf("rowsPerStatement(%d,%d)=%d want %d", tc.cols, tc.batch, got, tc.want)
		}
	}
}

func TestRepo_EnsureTable_CreatesAndDescribesColumns(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{rows: []fakeRow{{vals: []any{0}}}}
	r := &Repo{db: &fakeDB{tx: tx}}

	if err := r.EnsureTable(context.Background(), movieSpec()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if !tx.committed {
		t.Fatalf("expected commit")
	}
	// schema + table + 16 column properties
	if len(tx.execs) != 18 {
		t.Fatalf("execs=%d want 18", len(tx.execs))
	}
	if got := tx.execArgs[2]; got[0] != "Link do pôster que o IMDb está usando" || got[3] != "link_poster" {
		t.Fatalf("first column property args=%v", got)
	}
}

func TestRepo_EnsureTable_ExistingTableIsUntouched(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{rows: []fakeRow{{vals: []any{1}}}}
	r := &Repo{db: &fakeDB{tx: tx}}

	if err := r.EnsureTable(context.Background(), movieSpec()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if len(tx.execs) != 0 {
		t.Fatalf("expected no DDL, got %v", tx.execs)
	}
}

func TestRepo_ReplaceRows_TruncatesThenBatches(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	r := &Repo{db: &fakeDB{tx: tx}, batchSize: 2}

	rows := make([][]any, 5)
	for i := range rows {
		rows[i] = movie.Record{Titulo: "m"}.Values()
	}
	if _, err := r.ReplaceRows(context.Background(), movieSpec(), rows); err != nil {
		t.Fatalf("ReplaceRows: %v", err)
	}
	if len(tx.execs) != 4 {
		t.Fatalf("execs=%d want truncate + 3 batches", len(tx.execs))
	}
	if tx.execs[0] != "TRUNCATE TABLE [imdb_dataset].[raw_imdb]" {
		t.Fatalf("first exec=%q", tx.execs[0])
	}
	if !tx.committed {
		t.Fatalf("expected commit")
	}
}

func TestRepo_ReplaceRows_FailureDoesNotCommit(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{execErr: errors.New("deadlock")}
	r := &Repo{db: &fakeDB{tx: tx}}

	if _, err := r.ReplaceRows(context.Background(), movieSpec(), nil); err == nil {
		t.Fatalf("expected error")
	}
	if tx.committed {
		t.Fatalf("must not commit after a failed truncate")
	}
}

func TestRepo_UpdateDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existing []fakeRow
		wantProc string
	}{
		{
			name:     "add",
			existing: []fakeRow{{err: sql.ErrNoRows}},
			wantProc: "sys.sp_addextendedproperty",
		},
		{
			name:     "update",
			existing: []fakeRow{{vals: []any{"old"}}},
			wantProc: "sys.sp_updateextendedproperty",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rows := []fakeRow{{vals: []any{1}}}
			rows = append(rows, tc.existing...)
			rows = append(rows, fakeRow{vals: []any{movie.DefaultDescription}})
			tx := &fakeTx{rows: rows}
			r := &Repo{db: &fakeDB{tx: tx}}

			got, err := r.UpdateDescription(context.Background(), movieSpec(), movie.DefaultDescription)
			if err != nil {
				t.Fatalf("UpdateDescription: %v", err)
			}
			if got != movie.DefaultDescription {
				t.Fatalf("stored=%q", got)
			}
			if len(tx.execs) != 1 || !strings.Contains(tx.execs[0], tc.wantProc) {
				t.Fatalf("execs=%v want %s", tx.execs, tc.wantProc)
			}
		})
	}
}

func TestRepo_UpdateDescription_MissingTable(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{rows: []fakeRow{{vals: []any{0}}}}
	r := &Repo{db: &fakeDB{tx: tx}}

	if _, err := r.UpdateDescription(context.Background(), movieSpec(), "x"); err == nil {
		t.Fatalf("expected error for missing table")
	}
	if len(tx.execs) != 0 || tx.committed {
		t.Fatalf("no write expected")
	}
}
