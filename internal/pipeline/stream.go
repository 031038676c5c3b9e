package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"imdbetl/internal/config"
	"imdbetl/internal/movie"
	"imdbetl/internal/parser/csv"
	"imdbetl/internal/transformer"
)

// maxLoggedRejects bounds the per-line reject log; the total is always counted.
const maxLoggedRejects = 5

// collected is the output of the extract+transform stages.
type collected struct {
	rows      [][]any
	read      int64
	rejected  int64
	nullCells map[string]int
}

type lineRow struct {
	line int
	v    []any
}

// streamRecords runs reader -> transform workers -> collector over src and
// returns the accepted rows ordered by source line.
//
// Under the fail policy the first rejected line cancels the stages and is
// returned as the error.
func streamRecords(
	ctx context.Context,
	src io.ReadCloser,
	p config.Pipeline,
	tr *movie.Transformer,
	columns []string,
	logf func(format string, v ...any),
) (collected, error) {
	rt := p.Runtime
	if rt.ChannelBuffer <= 0 {
		rt.ChannelBuffer = 256
	}
	workers := rt.TransformWorkers
	if workers <= 0 {
		workers = 1
	}
	failFast := rt.OnShapeError == config.ShapeFail

	rawCh := make(chan *transformer.Row, rt.ChannelBuffer)
	outCh := make(chan *transformer.Row, rt.ChannelBuffer)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		rejMu    sync.Mutex
		rejected int64
		rejErr   error
	)
	onReject := func(line int, err error) {
		rejMu.Lock()
		defer rejMu.Unlock()
		rejected++
		if rejected <= maxLoggedRejects {
			logf("stage=transform reject line=%d err=%v", line, err)
		}
		if failFast && rejErr == nil {
			rejErr = fmt.Errorf("line %d: %w", line, err)
			cancel()
		}
	}

	// read counts every record that reached a worker or was rejected by the
	// line source, so failed runs still report how far they got.
	var read atomic.Int64

	// 1) Reader.
	var (
		readErr error
		wgRead  sync.WaitGroup
	)
	wgRead.Add(1)
	go func() {
		defer wgRead.Done()
		defer close(rawCh)
		readErr = csv.StreamLines(ctx, src, p.Parser.Options, rawCh, func(line int, err error) {
			read.Add(1)
			onReject(line, err)
		})
	}()

	// 2) Transform workers.
	fn := func(r *transformer.Row) error {
		read.Add(1)
		rec, err := tr.Transform(r.Raw)
		if err != nil {
			return err
		}
		r.V = append(r.V[:0], rec.Values()...)
		return nil
	}
	var wgWork sync.WaitGroup
	for i := 0; i < workers; i++ {
		wgWork.Add(1)
		go func() {
			defer wgWork.Done()
			transformer.TransformLoopRows(ctx, rawCh, outCh, fn, onReject)
		}()
	}
	go func() {
		wgWork.Wait()
		close(outCh)
	}()

	// 3) Collector.
	var accepted []lineRow
	nulls := make(map[string]int, len(columns))
	for r := range outCh {
		if ctx.Err() != nil {
			r.Drop()
			continue
		}
		v := make([]any, len(r.V))
		copy(v, r.V)
		for i, x := range v {
			if x == nil && i < len(columns) {
				nulls[columns[i]]++
			}
		}
		accepted = append(accepted, lineRow{line: r.Line, v: v})
		r.Free()
	}
	wgRead.Wait()

	rejMu.Lock()
	out := collected{read: read.Load(), rejected: rejected, nullCells: nulls}
	failed := rejErr
	rejMu.Unlock()

	if failed != nil {
		return out, fmt.Errorf("%w: %w", ErrShapeRejected, failed)
	}
	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return out, fmt.Errorf("read source: %w", readErr)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].line < accepted[j].line })
	out.rows = make([][]any, len(accepted))
	for i := range accepted {
		out.rows[i] = accepted[i].v
	}
	return out, nil
}
