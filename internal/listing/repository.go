package listing

import "context"

// BatchResult is the per-row outcome of one bulk write. Failed holds indexes
// into the input slice for rows that hit genuine I/O errors; duplicates are
// counted, not failed.
type BatchResult struct {
	Inserted   int
	Duplicates int
	Failed     []int
}

type Repository interface {
	// UpsertBatch writes records with insert-or-ignore semantics: a row
	// violating either uniqueness constraint is skipped, left untouched, and
	// counted as a duplicate. One row's failure never aborts the rest of the
	// batch.
	UpsertBatch(ctx context.Context, records []JobRecord) (BatchResult, error)
	List(ctx context.Context, source string, limit int) ([]Listing, error)
	Count(ctx context.Context) (int64, error)
}
