package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when no moderation job has the requested ID.
var ErrJobNotFound = errors.New("job not found")

// Repository stores moderation jobs. Implementations hand out copies, so a
// job read from the store is not affected by later saves.
type Repository interface {
	// Save inserts job or replaces the stored version with the same ID.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound for an unknown ID.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns every stored job, newest first.
	List(ctx context.Context) ([]*Job, error)

	// Delete forgets a job together with its result. It returns
	// ErrJobNotFound for an unknown ID.
	Delete(ctx context.Context, id string) error
}
