// Package csv turns a CSV byte stream into logical lines for the transform
// stage. Splitting a line into fields is left to the record transformer.
package csv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"imdbetl/internal/config"
	"imdbetl/internal/transformer"
)

// StreamLines reads src and sends one pooled *transformer.Row per logical
// line, with Row.Raw set and Row.Line the 1-based physical line where the
// record starts.
//
// Options:
//   - skip_header_lines (int, default 1): leading logical lines to skip.
//   - multiline_records (bool, default true): join physical lines while a
//     quoted field is open, so embedded newlines stay inside one record.
//   - max_record_bytes (int, default 1 MiB): an open record that grows past
//     this is reported through onErr and discarded, together with the rest
//     of its physical lines up to the one that closes the quote.
//
// A leading UTF-8 BOM is stripped. Blank lines are skipped. onErr only sees
// malformed input; read errors are returned.
//
// NOTE on cancellation:
// On ctx cancellation in-flight rows are dropped, not freed, so the pool
// never hands out a row a draining stage may still read.
func StreamLines(
	ctx context.Context,
	src io.ReadCloser,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	skip := opt.Int("skip_header_lines", 1)
	multiline := opt.Bool("multiline_records", true)
	maxBytes := opt.Int("max_record_bytes", 1<<20)

	br := bufio.NewReaderSize(transform.NewReader(src, unicode.UTF8BOM.NewDecoder()), 64*1024)

	var (
		physical int
		start    int
		quotes   int
		open     bool
		rec      strings.Builder
		skipped  int

		// discarding is set while the tail of an oversized record is skipped.
		discarding bool
	)

	emit := func() error {
		raw := rec.String()
		rec.Reset()
		open = false
		quotes = 0

		if skipped < skip {
			skipped++
			return nil
		}

		row := transformer.GetRow(0)
		row.Line = start
		row.Raw = raw

		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}

	consume := func(s string) error {
		s = strings.TrimSuffix(s, "\n")
		s = strings.TrimSuffix(s, "\r")

		if discarding {
			quotes += strings.Count(s, `"`)
			if quotes%2 == 0 {
				discarding = false
				quotes = 0
			}
			return nil
		}

		if !open {
			if strings.TrimSpace(s) == "" {
				return nil
			}
			start = physical
			open = true
		} else {
			rec.WriteByte('\n')
		}
		rec.WriteString(s)
		quotes += strings.Count(s, `"`)

		if !multiline || quotes%2 == 0 {
			return emit()
		}
		if maxBytes > 0 && rec.Len() > maxBytes {
			if onErr != nil {
				onErr(start, fmt.Errorf("record exceeds %d bytes with an open quote", maxBytes))
			}
			rec.Reset()
			open = false
			quotes = 1
			discarding = true
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s, err := br.ReadString('\n')
		if len(s) > 0 {
			physical++
			if e := consume(s); e != nil {
				return e
			}
		}

		if errors.Is(err, io.EOF) {
			if open {
				// Unbalanced quotes at EOF: pass it on and let the
				// transformer reject it.
				return emit()
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
