package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kana-backend/internal/shared/storage/object"
	"kana-backend/internal/shared/telemetry"
	"kana-backend/internal/shared/util"
)

const contentType = "application/octet-stream"

// Service is the content-addressed artifact store: bytes go to the object
// store, link rows to the repo.
type Service struct {
	Store object.ObjectStore
	Repo  Repo
}

// Link stores data under its content-derived id and returns the id. Linking
// identical content again returns the same id without writing anything.
func (s *Service) Link(ctx context.Context, kind, name string, data []byte) (string, error) {
	if strings.TrimSpace(kind) == "" {
		return "", ErrInvalidInput
	}
	name, err := util.SanitizeFileName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash := util.ContentHash(data)
	id := LinkID(kind, name, int64(len(data)), hash)

	if _, err := s.Repo.Get(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("lookup artifact: %w", err)
	}

	key := StorageKey(id)
	if _, err := s.Store.SaveWithKey(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	link := Link{
		ID:         id,
		Kind:       kind,
		Name:       name,
		Size:       int64(len(data)),
		Hash:       hash,
		StorageKey: key,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, link); err != nil {
		return "", fmt.Errorf("record artifact: %w", err)
	}
	telemetry.Info("artifacts.linked", map[string]any{
		"artifact_id": id,
		"size_bytes":  link.Size,
	})
	return id, nil
}

// Resolve returns the bytes behind id, verifying them against the recorded hash.
func (s *Service) Resolve(ctx context.Context, id string) ([]byte, error) {
	link, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := object.ReadAll(ctx, s.Store, link.StorageKey)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if int64(len(data)) != link.Size || util.ContentHash(data) != link.Hash {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, id)
	}
	return data, nil
}

// Delete removes id's bytes and link row, reporting whether it existed.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	link, err := s.Repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.Store.Delete(ctx, link.StorageKey); err != nil {
		return false, fmt.Errorf("delete artifact bytes: %w", err)
	}
	return s.Repo.Delete(ctx, id)
}

// List returns every known link.
func (s *Service) List(ctx context.Context) ([]Link, error) {
	return s.Repo.List(ctx)
}

// StorageKey is the object-store key for an artifact id.
func StorageKey(id string) string {
	h := util.HashKey(id)
	return "artifacts/" + h[:2] + "/" + h
}
