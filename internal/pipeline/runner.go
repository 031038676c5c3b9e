// Package pipeline runs one load job end to end: open the source, stream it
// through the record transformer and publish the result to the configured
// table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"imdbetl/internal/config"
	"imdbetl/internal/datasource"
	"imdbetl/internal/metrics"
	"imdbetl/internal/movie"
	"imdbetl/internal/storage"
	"imdbetl/internal/transformer"
)

// ErrInvalidConfig wraps configuration errors found before any I/O.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// ErrShapeRejected is returned under the fail policy when a line could not
// be turned into a record. Nothing has been written when it is returned.
var ErrShapeRejected = errors.New("record rejected")

// Logger is the logging seam; *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type Runner struct {
	// NewSource opens the input described by the source config.
	NewSource func(ctx context.Context, src config.Source) (io.ReadCloser, error)

	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	Logger Logger
	Now    func() time.Time

	// NewRunID overrides the generated run id, so callers can tag metrics
	// with the same id before the run starts.
	NewRunID func() string
}

func NewDefaultRunner(logger Logger) *Runner {
	return &Runner{
		NewSource: func(ctx context.Context, src config.Source) (io.ReadCloser, error) {
			return datasource.Open(ctx, src.URI, datasource.Options{CredentialsFile: src.CredentialsFile})
		},
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return storage.New(ctx, cfg)
		},
		Logger: logger,
		Now:    time.Now,
	}
}

// Result summarizes one run.
type Result struct {
	RunID    string
	Read     int64
	Loaded   int64
	Rejected int64

	// NullCells counts null values per column among the accepted rows.
	NullCells map[string]int

	// Digest is the order-independent content digest of the accepted rows.
	Digest string

	// Description is the table description as stored after the run.
	Description    string
	DescriptionErr error
	DryRun         bool
}

// Run executes p once. Rows reach the table only when every stage before
// the write succeeded; a failed description update is reported in
// Result.DescriptionErr and does not fail the run.
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (Result, error) {
	runID := uuid.NewString()
	if r.NewRunID != nil {
		runID = r.NewRunID()
	}
	res := Result{RunID: runID, DryRun: p.Runtime.DryRun}
	logf := r.logf(res.RunID)
	now := r.Now
	if now == nil {
		now = time.Now
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			logf("config %s", iss)
		}
	}
	if config.HasErrors(issues) {
		var msgs []string
		for _, iss := range issues {
			if iss.Severity == config.SeverityError {
				msgs = append(msgs, iss.String())
			}
		}
		return res, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}

	ref, err := storage.ParseTableRef(p.Storage.Table)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	tr, err := movie.NewTransformer(layoutFor(p.Parser.Options))
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	spec := storage.SpecFromSchema(ref, movie.DefaultSchema())
	columns := spec.ColumnNames()

	logf("stage=start job=%s source=%s storage=%s table=%s", p.Job, p.Source.URI, p.Storage.Kind, ref)

	// Extract + transform.
	start := now()
	src, err := r.NewSource(ctx, p.Source)
	if err != nil {
		metrics.RecordStep("extract", "error", now().Sub(start))
		return res, fmt.Errorf("open source: %w", err)
	}
	c, err := streamRecords(ctx, src, p, tr, columns, logf)
	res.Read, res.Rejected, res.NullCells = c.read, c.rejected, c.nullCells
	recordCounts(c)
	if err != nil {
		metrics.RecordStep("transform", "error", now().Sub(start))
		return res, err
	}
	metrics.RecordStep("transform", "ok", now().Sub(start))
	res.Digest = transformer.DigestRows(columns, c.rows)
	logf("stage=transform ok read=%d accepted=%d rejected=%d digest=%s duration=%s",
		c.read, len(c.rows), c.rejected, res.Digest, now().Sub(start).Truncate(time.Millisecond))

	if p.Runtime.DryRun {
		logf("stage=publish skipped reason=dry_run rows=%d", len(c.rows))
		return res, nil
	}

	// Publish.
	start = now()
	repo, err := r.NewRepository(ctx, storage.Config{
		Kind:            p.Storage.Kind,
		DSN:             p.Storage.DSN,
		Table:           ref,
		Location:        p.Storage.Location,
		CredentialsFile: p.Storage.CredentialsFile,
		BatchSize:       p.Storage.BatchSize,
	})
	if err != nil {
		metrics.RecordStep("publish", "error", now().Sub(start))
		return res, fmt.Errorf("open storage %s: %w", p.Storage.Kind, err)
	}
	defer repo.Close()

	pub, err := storage.Publish(ctx, repo, spec, c.rows, p.Table.Description, logf)
	if err != nil {
		metrics.RecordStep("publish", "error", now().Sub(start))
		return res, err
	}
	metrics.RecordStep("publish", "ok", now().Sub(start))
	metrics.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"table": ref.Table})
	metrics.IncCounter(metrics.RecordsTotal, float64(pub.Loaded), metrics.Labels{"kind": "loaded"})

	res.Loaded = pub.Loaded
	res.Description = pub.Description
	res.DescriptionErr = pub.DescriptionErr
	if pub.DescriptionErr != nil {
		metrics.RecordStep("describe", "error", 0)
	}

	logf("stage=done loaded=%d rejected=%d", res.Loaded, res.Rejected)
	return res, nil
}

func (r *Runner) logf(runID string) func(format string, v ...any) {
	if r.Logger == nil {
		return func(string, ...any) {}
	}
	return func(format string, v ...any) {
		r.Logger.Printf("run_id="+runID+" "+format, v...)
	}
}

func recordCounts(c collected) {
	metrics.IncCounter(metrics.RecordsTotal, float64(c.read), metrics.Labels{"kind": "read"})
	metrics.IncCounter(metrics.RecordsTotal, float64(c.rejected), metrics.Labels{"kind": "rejected"})
	for col, n := range c.nullCells {
		metrics.IncCounter(metrics.NullCellsTotal, float64(n), metrics.Labels{"column": col})
	}
}

// layoutFor applies the csv dialect options to the default file layout.
func layoutFor(opt config.Options) movie.Layout {
	l := movie.DefaultLayout()
	l.Comma = opt.Rune("comma", l.Comma)
	l.LazyQuotes = opt.Bool("lazy_quotes", l.LazyQuotes)
	return l
}
