package job

import "context"

// Store persists job snapshots so finished jobs survive a restart.
type Store interface {
	// Save inserts or replaces the stored copy of j.
	Save(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns every stored job ordered by created_at DESC.
	List(ctx context.Context) ([]*Job, error)
	DeleteAll(ctx context.Context) error
	// MarkInterrupted moves every non-terminal job to error with the given
	// message and returns how many were affected. Called once at startup.
	MarkInterrupted(ctx context.Context, message string) (int64, error)
	Close() error
}
