// Package bigquery is the warehouse backend: it loads the movie table through
// a truncating load job and keeps the table description as table metadata.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"imdbetl/internal/storage"
)

// tableAPI is the subset of *bigquery.Table the repository uses. Tests swap
// it for an in-memory fake.
type tableAPI interface {
	Metadata(ctx context.Context) (*bigquery.TableMetadata, error)
	Create(ctx context.Context, md *bigquery.TableMetadata) error
	Update(ctx context.Context, md bigquery.TableMetadataToUpdate, etag string) (*bigquery.TableMetadata, error)
	// Load runs one newline-delimited JSON load job with CreateIfNeeded and
	// WriteTruncate and returns the number of rows written.
	Load(ctx context.Context, schema bigquery.Schema, ndjson []byte) (int64, error)
}

// Repo implements storage.Repository on BigQuery.
type Repo struct {
	client *bigquery.Client
	table  func(ref storage.TableRef) tableAPI

	// Retries for the read-modify-write description update when the ETag
	// no longer matches.
	describeRetries uint64
	describeBackoff time.Duration
}

func init() {
	storage.Register("bigquery", New)
}

// New opens a client for cfg.Table.Project. Credentials come from
// cfg.CredentialsFile or, when empty, Application Default Credentials.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.Table.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: new client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	return &Repo{
		client: client,
		table: func(ref storage.TableRef) tableAPI {
			return &bqTable{t: client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table)}
		},
		describeRetries: 3,
		describeBackoff: 200 * time.Millisecond,
	}, nil
}

func (r *Repo) Close() {
	if r.client != nil {
		_ = r.client.Close()
	}
}

// EnsureTable creates the table with its schema and column descriptions when
// it does not exist. An existing table is not altered.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	schema, err := bqSchema(spec)
	if err != nil {
		return err
	}
	t := r.table(spec.Ref)

	_, err = t.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("bigquery: table metadata %s: %w", spec.Ref, err)
	}

	err = t.Create(ctx, &bigquery.TableMetadata{Schema: schema})
	if err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("bigquery: create table %s: %w", spec.Ref, err)
	}
	return nil
}

// ReplaceRows loads rows with write-truncate semantics: when the job
// succeeds the table holds exactly these rows, when it fails the previous
// contents are untouched.
func (r *Repo) ReplaceRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	schema, err := bqSchema(spec)
	if err != nil {
		return 0, err
	}
	data, err := encodeNDJSON(spec.ColumnNames(), rows)
	if err != nil {
		return 0, err
	}
	n, err := r.table(spec.Ref).Load(ctx, schema, data)
	if err != nil {
		return 0, fmt.Errorf("bigquery: load %s: %w", spec.Ref, err)
	}
	return n, nil
}

// UpdateDescription reads the table metadata and writes the new description
// conditioned on the ETag it read. A concurrent metadata change makes the
// update fail with 412, in which case it is re-read and retried.
func (r *Repo) UpdateDescription(ctx context.Context, spec storage.TableSpec, description string) (string, error) {
	t := r.table(spec.Ref)

	var stored string
	backoff := retry.WithMaxRetries(r.describeRetries, retry.NewExponential(r.describeBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		md, err := t.Metadata(ctx)
		if err != nil {
			return fmt.Errorf("table metadata %s: %w", spec.Ref, err)
		}
		updated, err := t.Update(ctx, bigquery.TableMetadataToUpdate{Description: description}, md.ETag)
		if err != nil {
			if isStatus(err, http.StatusPreconditionFailed) {
				return retry.RetryableError(err)
			}
			return err
		}
		stored = updated.Description
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("bigquery: update description %s: %w", spec.Ref, err)
	}
	return stored, nil
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

func fieldType(t string) (bigquery.FieldType, error) {
	switch strings.ToUpper(t) {
	case "STRING":
		return bigquery.StringFieldType, nil
	case "INTEGER":
		return bigquery.IntegerFieldType, nil
	case "FLOAT":
		return bigquery.FloatFieldType, nil
	default:
		return "", fmt.Errorf("bigquery: unsupported column type %q", t)
	}
}

// bqSchema maps the table spec to a BigQuery schema. Every column is
// NULLABLE.
func bqSchema(spec storage.TableSpec) (bigquery.Schema, error) {
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("bigquery: %s has no columns", spec.Ref)
	}
	schema := make(bigquery.Schema, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		typ, err := fieldType(c.Type)
		if err != nil {
			return nil, err
		}
		schema = append(schema, &bigquery.FieldSchema{
			Name:        c.Name,
			Type:        typ,
			Description: c.Description,
		})
	}
	return schema, nil
}

// encodeNDJSON writes one JSON object per row, keyed by column name. nil
// values become JSON null.
func encodeNDJSON(columns []string, rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	obj := make(map[string]any, len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("bigquery: row %d has %d values, want %d", i, len(row), len(columns))
		}
		for j, c := range columns {
			obj[c] = row[j]
		}
		if err := enc.Encode(obj); err != nil {
			return nil, fmt.Errorf("bigquery: encode row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

type bqTable struct {
	t *bigquery.Table
}

func (b *bqTable) Metadata(ctx context.Context) (*bigquery.TableMetadata, error) {
	return b.t.Metadata(ctx)
}

func (b *bqTable) Create(ctx context.Context, md *bigquery.TableMetadata) error {
	return b.t.Create(ctx, md)
}

func (b *bqTable) Update(ctx context.Context, md bigquery.TableMetadataToUpdate, etag string) (*bigquery.TableMetadata, error) {
	return b.t.Update(ctx, md, etag)
}

func (b *bqTable) Load(ctx context.Context, schema bigquery.Schema, ndjson []byte) (int64, error) {
	src := bigquery.NewReaderSource(bytes.NewReader(ndjson))
	src.SourceFormat = bigquery.JSON
	src.Schema = schema

	loader := b.t.LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.WriteTruncate

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	if status.Statistics != nil {
		if ls, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
			return ls.OutputRows, nil
		}
	}
	return int64(bytes.Count(ndjson, []byte{'\n'})), nil
}

var _ tableAPI = (*bqTable)(nil)
