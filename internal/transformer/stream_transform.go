package transformer

import (
	"context"
)

// RowFunc fills r.V from r.Raw. A non-nil error rejects the row.
type RowFunc func(r *Row) error

// TransformLoopRows applies fn to every row from in and forwards accepted
// rows to out. Rejected rows are reported through onReject and freed here.
//
// Run several loops over the same channels for parallelism; the caller closes
// out once every loop has returned. fn must be safe for concurrent use.
func TransformLoopRows(
	ctx context.Context,
	in <-chan *Row,
	out chan<- *Row,
	fn RowFunc,
	onReject func(line int, err error),
) {
	for r := range in {
		// On cancellation: drain without re-pooling (prevents reuse races).
		select {
		case <-ctx.Done():
			if r != nil {
				r.Drop()
			}
			continue
		default:
		}
		if r == nil {
			continue
		}

		if err := fn(r); err != nil {
			if onReject != nil {
				onReject(r.Line, err)
			}
			r.Free()
			continue
		}

		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
		}
	}
}
