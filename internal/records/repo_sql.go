package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kana-backend/internal/shared/storage/db"
)

// SQLRepo implements Repo on Postgres or sqlite.
type SQLRepo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// Create inserts the record and its file references in one transaction.
func (r *SQLRepo) Create(ctx context.Context, rec Record) error {
	const insertRecord = `
INSERT INTO saved_analyses (
    id,
    title,
    state_key,
    state_bytes,
    created_at
) VALUES (?, ?, ?, ?, ?)`
	const insertFile = `
INSERT INTO saved_analysis_files (analysis_id, position, artifact_id)
VALUES (?, ?, ?)`

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.Dialect.Rebind(insertRecord),
		rec.ID,
		rec.Title,
		rec.StateKey,
		rec.StateBytes,
		rec.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert saved analysis: %w", err)
	}
	for i, artifactID := range rec.Files {
		if _, err := tx.ExecContext(ctx, r.Dialect.Rebind(insertFile), rec.ID, i, artifactID); err != nil {
			return fmt.Errorf("insert saved analysis file: %w", err)
		}
	}
	return tx.Commit()
}

// Get fetches one record with its file references.
func (r *SQLRepo) Get(ctx context.Context, id string) (Record, error) {
	const query = `
SELECT id, title, state_key, state_bytes, created_at
FROM saved_analyses
WHERE id = ?`
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, r.Dialect.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	files, err := r.files(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec.Files = files
	return rec, nil
}

// Delete removes the record; file references cascade.
func (r *SQLRepo) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.Dialect.Rebind(`DELETE FROM saved_analysis_files WHERE analysis_id = ?`), id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, r.Dialect.Rebind(`DELETE FROM saved_analyses WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns records newest first, without file references.
func (r *SQLRepo) List(ctx context.Context) ([]Record, error) {
	const query = `
SELECT id, title, state_key, state_bytes, created_at
FROM saved_analyses
ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountFileRefs counts records referencing artifactID.
func (r *SQLRepo) CountFileRefs(ctx context.Context, artifactID string) (int, error) {
	const query = `SELECT COUNT(DISTINCT analysis_id) FROM saved_analysis_files WHERE artifact_id = ?`
	var n int
	if err := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(query), artifactID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SQLRepo) files(ctx context.Context, id string) ([]string, error) {
	const query = `
SELECT artifact_id
FROM saved_analysis_files
WHERE analysis_id = ?
ORDER BY position`
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(query), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var createdAt int64
	if err := row.Scan(&rec.ID, &rec.Title, &rec.StateKey, &rec.StateBytes, &createdAt); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return rec, nil
}

var _ Repo = (*SQLRepo)(nil)
