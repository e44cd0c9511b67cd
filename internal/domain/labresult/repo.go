package labresult

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrBatchNotFound is returned when a batch id is unknown.
var ErrBatchNotFound = errors.New("import batch not found")

// Repository stores import batches and their lab results.
type Repository interface {
	// SaveBatch stores b and results atomically.
	SaveBatch(ctx context.Context, b *Batch, results []*LabResult) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*Batch, int, error)
	// Query returns results matching f in insertion order.
	Query(ctx context.Context, f Filter) ([]*LabResult, error)
	Close() error
}
