package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kana-backend/internal/shared/storage/db"
)

// SQLRepo implements Repo on Postgres or sqlite.
type SQLRepo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// Create inserts a link row, ignoring an existing id.
func (r *SQLRepo) Create(ctx context.Context, link Link) error {
	const query = `
INSERT INTO artifact_links (
    id,
    kind,
    name,
    size_bytes,
    content_hash,
    storage_key,
    created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`

	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(
		ctx,
		r.Dialect.Rebind(query),
		link.ID,
		link.Kind,
		link.Name,
		link.Size,
		link.Hash,
		link.StorageKey,
		createdAt.UnixMilli(),
	)
	return err
}

// Get fetches a link by id.
func (r *SQLRepo) Get(ctx context.Context, id string) (Link, error) {
	const query = `
SELECT id, kind, name, size_bytes, content_hash, storage_key, created_at
FROM artifact_links
WHERE id = ?`
	link, err := scanLink(r.DB.QueryRowContext(ctx, r.Dialect.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Link{}, ErrNotFound
		}
		return Link{}, err
	}
	return link, nil
}

// Delete removes a link row and reports whether one existed.
func (r *SQLRepo) Delete(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM artifact_links WHERE id = ?`
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(query), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns every link ordered by id.
func (r *SQLRepo) List(ctx context.Context) ([]Link, error) {
	const query = `
SELECT id, kind, name, size_bytes, content_hash, storage_key, created_at
FROM artifact_links
ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (Link, error) {
	var link Link
	var createdAt int64
	if err := row.Scan(
		&link.ID,
		&link.Kind,
		&link.Name,
		&link.Size,
		&link.Hash,
		&link.StorageKey,
		&createdAt,
	); err != nil {
		return Link{}, err
	}
	link.CreatedAt = time.UnixMilli(createdAt).UTC()
	return link, nil
}

var _ Repo = (*SQLRepo)(nil)
