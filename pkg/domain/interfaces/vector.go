package interfaces

import (
	"context"

	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// VectorRepository is the vector index collaborator. It performs no validation
// or retries; those belong to the vector service.
type VectorRepository interface {
	// Upsert inserts or replaces entries in the named index
	Upsert(ctx context.Context, index string, entries []*model.VectorEntry) error

	// Delete removes entries by ID. Missing IDs are ignored.
	Delete(ctx context.Context, index string, ids []string) error

	// Query returns the nearest entries ordered by descending score
	Query(ctx context.Context, index string, query model.VectorQuery) ([]*model.VectorMatch, error)
}
