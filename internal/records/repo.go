package records

import "context"

// Repo persists saved analysis rows and their artifact references.
type Repo interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) (bool, error)
	// List returns records newest first.
	List(ctx context.Context) ([]Record, error)
	// CountFileRefs reports how many records still reference artifactID.
	CountFileRefs(ctx context.Context, artifactID string) (int, error)
}
