// Package references provides labelled marker sets used to annotate clusters.
// Built-in sets are embedded; others are fetched over HTTP and cached in the
// object store.
package references

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"kana-backend/internal/shared/storage/object"
	"kana-backend/internal/shared/telemetry"
)

//go:embed data/*.json
var builtin embed.FS

var ErrNotFound = errors.New("reference not found")

// Species names.
const (
	Human = "human"
	Mouse = "mouse"
)

// Label is one cell type and its marker genes.
type Label struct {
	Name    string   `json:"name"`
	Markers []string `json:"markers"`
}

// Reference is a named set of labels for one species.
type Reference struct {
	Name    string  `json:"name"`
	Species string  `json:"species"`
	Labels  []Label `json:"labels"`
}

// Source resolves references by name.
type Source interface {
	Reference(ctx context.Context, name string) (Reference, error)
}

// Store resolves references from the embedded set, then the object-store
// cache, then BaseURL.
type Store struct {
	Objects object.ObjectStore
	BaseURL string
	Client  *http.Client

	mu     sync.Mutex
	loaded map[string]Reference
}

// NewStore constructs a Store. objects and baseURL may be empty.
func NewStore(objects object.ObjectStore, baseURL string) *Store {
	return &Store{
		Objects: objects,
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
		loaded:  map[string]Reference{},
	}
}

// Warm parses every embedded reference.
func (s *Store) Warm(ctx context.Context) error {
	entries, err := builtin.ReadDir("data")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		if _, err := s.Reference(ctx, name); err != nil {
			return fmt.Errorf("load builtin reference %s: %w", name, err)
		}
	}
	return nil
}

// Builtin lists the embedded reference names for a species, sorted.
func Builtin(species string) []string {
	entries, _ := builtin.ReadDir("data")
	var names []string
	for _, e := range entries {
		raw, err := builtin.ReadFile("data/" + e.Name())
		if err != nil {
			continue
		}
		ref, err := decode(raw)
		if err == nil && (species == "" || ref.Species == species) {
			names = append(names, ref.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Reference returns the named reference.
func (s *Store) Reference(ctx context.Context, name string) (Reference, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/\\") {
		return Reference{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	s.mu.Lock()
	if ref, ok := s.loaded[name]; ok {
		s.mu.Unlock()
		return ref, nil
	}
	s.mu.Unlock()

	raw, err := s.fetch(ctx, name)
	if err != nil {
		return Reference{}, err
	}
	ref, err := decode(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("decode reference %s: %w", name, err)
	}

	s.mu.Lock()
	s.loaded[name] = ref
	s.mu.Unlock()
	return ref, nil
}

func (s *Store) fetch(ctx context.Context, name string) ([]byte, error) {
	if raw, err := builtin.ReadFile("data/" + name + ".json"); err == nil {
		return raw, nil
	}

	key := "references/" + name + ".json"
	if s.Objects != nil {
		raw, err := object.ReadAll(ctx, s.Objects, key)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, object.ErrNotFound) {
			return nil, fmt.Errorf("read cached reference: %w", err)
		}
	}

	if s.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	raw, err := s.download(ctx, s.BaseURL+"/"+name+".json")
	if err != nil {
		return nil, err
	}
	if s.Objects != nil {
		if _, err := s.Objects.SaveWithKey(ctx, key, "application/json", bytes.NewReader(raw)); err != nil {
			telemetry.Warn("references.cache_failed", map[string]any{"reference": name, "error": err})
		}
	}
	telemetry.Info("references.downloaded", map[string]any{"reference": name, "size_bytes": len(raw)})
	return raw, nil
}

func (s *Store) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download reference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download reference: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}

func decode(raw []byte) (Reference, error) {
	var ref Reference
	if err := json.Unmarshal(raw, &ref); err != nil {
		return Reference{}, err
	}
	if ref.Name == "" || len(ref.Labels) == 0 {
		return Reference{}, errors.New("reference has no name or labels")
	}
	return ref, nil
}

var _ Source = (*Store)(nil)
