package records

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kana-backend/internal/artifacts"
	"kana-backend/internal/shared/storage/object"
	"kana-backend/internal/shared/telemetry"
)

// Service manages saved analyses. Saves and removals are serialized so a
// removal never collects an artifact that a concurrent save has just linked.
type Service struct {
	Store     object.ObjectStore
	Repo      Repo
	Artifacts *artifacts.Service
	Now       func() time.Time

	mu sync.Mutex
}

// Save stores a linked container under a new record and returns it.
func (s *Service) Save(ctx context.Context, title string, container []byte, files []string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, title, container, files)
}

// SaveLinked runs build, which links the artifacts a container refers to and
// returns the container with their ids, and stores the result. No removal
// can run between linking and recording.
func (s *Service) SaveLinked(ctx context.Context, title string, build func(context.Context) ([]byte, []string, error)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	container, files, err := build(ctx)
	if err != nil {
		return Record{}, err
	}
	return s.save(ctx, title, container, files)
}

func (s *Service) save(ctx context.Context, title string, container []byte, files []string) (Record, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(container) == 0 {
		return Record{}, ErrInvalidInput
	}

	id := uuid.NewString()
	key := "records/" + id + ".kana"
	n, err := s.Store.SaveWithKey(ctx, key, "application/octet-stream", bytes.NewReader(container))
	if err != nil {
		return Record{}, fmt.Errorf("store saved analysis: %w", err)
	}

	rec := Record{
		ID:         id,
		Title:      title,
		StateKey:   key,
		StateBytes: n,
		Files:      append([]string(nil), files...),
		CreatedAt:  s.now(),
	}
	if err := s.Repo.Create(ctx, rec); err != nil {
		_ = s.Store.Delete(ctx, key)
		return Record{}, fmt.Errorf("record saved analysis: %w", err)
	}
	telemetry.Info("records.saved", map[string]any{
		"record_id":  id,
		"title":      title,
		"size_bytes": n,
		"files":      len(files),
	})
	return rec, nil
}

// Load returns the record and its container bytes.
func (s *Service) Load(ctx context.Context, id string) (Record, []byte, error) {
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Record{}, nil, err
	}
	data, err := object.ReadAll(ctx, s.Store, rec.StateKey)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return Record{}, nil, fmt.Errorf("%w: state for %s", ErrNotFound, id)
		}
		return Record{}, nil, fmt.Errorf("read saved analysis: %w", err)
	}
	return rec, data, nil
}

// Remove deletes a record, its container, and any artifact no other record
// still references. Removing an unknown id is not an error.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if _, err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete saved analysis: %w", err)
	}
	if err := s.Store.Delete(ctx, rec.StateKey); err != nil {
		return fmt.Errorf("delete saved analysis state: %w", err)
	}

	if s.Artifacts == nil {
		return nil
	}
	for _, artifactID := range rec.Files {
		refs, err := s.Repo.CountFileRefs(ctx, artifactID)
		if err != nil {
			return fmt.Errorf("count artifact refs: %w", err)
		}
		if refs > 0 {
			continue
		}
		if _, err := s.Artifacts.Delete(ctx, artifactID); err != nil {
			return fmt.Errorf("delete artifact %s: %w", artifactID, err)
		}
	}
	telemetry.Info("records.removed", map[string]any{"record_id": id})
	return nil
}

// List returns saved records, newest first.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.Repo.List(ctx)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
