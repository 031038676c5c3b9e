// Package transformer provides the streaming stage plumbing shared by the
// parser, the record workers and the collector. This file defines a pooled
// Row type to reduce heap churn across those stages.
package transformer

import "sync"

// Row is a pooled container for one logical input line on its way through
// the pipeline.
//
// Ownership contract:
//   - Exactly one goroutine "owns" a Row at a time.
//   - A Row may be passed downstream via channels (ownership transfer).
//   - The final consumer must call Free() after it is done with the Row and
//     anything referencing r.V.
//
// During ctx cancellation, downstream stages may still be draining while the
// parser unwinds. A canceled row returned to the pool could be reused while a
// drain still reads it, so:
//   - Use Free() only on the normal path.
//   - Use Drop() on cancellation paths (no re-pooling; the GC reclaims it).
type Row struct {
	Line int    // 1-based physical line where the record starts
	Raw  string // the logical CSV line, quotes and embedded newlines intact
	V    []any  // output values in schema order, set by the transform stage
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount. All elements are
// zeroed.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		r.Raw = ""
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
// Call this ONLY when you're sure no other goroutine can observe r or r.V.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without returning it to the pool.
func (r *Row) Drop() {
	r.V = nil
	r.Raw = ""
	r.Line = 0
}
