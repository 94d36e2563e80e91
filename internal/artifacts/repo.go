package artifacts

import "context"

// Repo persists artifact link rows.
type Repo interface {
	// Create inserts link; inserting an id that already exists is a no-op.
	Create(ctx context.Context, link Link) error
	Get(ctx context.Context, id string) (Link, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]Link, error)
}
