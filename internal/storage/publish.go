package storage

import (
	"context"
	"fmt"
	"time"
)

// PublishResult summarizes one publish.
type PublishResult struct {
	Loaded      int64
	Description string

	// DescriptionErr is set when the load succeeded but the description
	// update did not. The table keeps its previous description.
	DescriptionErr error
}

// Publish runs the table write contract in strict order:
//
//  1. EnsureTable (create if absent)
//  2. ReplaceRows (truncate + append)
//  3. UpdateDescription, only after step 2 returned successfully
//
// A failure in 1 or 2 is returned as an error. A failure in 3 is reported in
// PublishResult.DescriptionErr. An empty description skips step 3.
func Publish(
	ctx context.Context,
	repo Repository,
	spec TableSpec,
	rows [][]any,
	description string,
	logf func(format string, v ...any),
) (PublishResult, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	var res PublishResult

	if err := spec.CheckRows(rows); err != nil {
		return res, err
	}

	start := time.Now()
	if err := repo.EnsureTable(ctx, spec); err != nil {
		return res, fmt.Errorf("ensure table %s: %w", spec.Ref, err)
	}
	logf("stage=ensure_table ok table=%s duration=%s", spec.Ref, durMS(start))

	start = time.Now()
	n, err := repo.ReplaceRows(ctx, spec, rows)
	if err != nil {
		return res, fmt.Errorf("replace rows %s: %w", spec.Ref, err)
	}
	res.Loaded = n
	logf("stage=replace_rows ok table=%s rows=%d duration=%s", spec.Ref, n, durMS(start))

	if description == "" {
		logf("stage=describe skipped table=%s reason=empty_description", spec.Ref)
		return res, nil
	}

	start = time.Now()
	stored, err := repo.UpdateDescription(ctx, spec, description)
	if err != nil {
		res.DescriptionErr = fmt.Errorf("update description %s: %w", spec.Ref, err)
		logf("stage=describe error table=%s err=%v", spec.Ref, err)
		return res, nil
	}
	res.Description = stored
	logf("stage=describe ok table=%s description=%q duration=%s", spec.Ref, stored, durMS(start))
	return res, nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
