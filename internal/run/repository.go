package run

import "context"

type Repository interface {
	Create(ctx context.Context, r *Run) error
	Update(ctx context.Context, r *Run) error
	Get(ctx context.Context, runID string) (*Run, error)
	List(ctx context.Context, source string) ([]Run, error)
}
