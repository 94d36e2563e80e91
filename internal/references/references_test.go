package references

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"kana-backend/internal/shared/storage/object"
)

func TestBuiltinReferences(t *testing.T) {
	s := NewStore(nil, "")
	if err := s.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	ref, err := s.Reference(context.Background(), "BlueprintEncode")
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	if ref.Species != Human || len(ref.Labels) == 0 {
		t.Fatalf("unexpected reference %+v", ref)
	}
	if got := Builtin(Mouse); len(got) != 1 || got[0] != "ImmGen" {
		t.Fatalf("Builtin(mouse) = %v", got)
	}
}

func TestDownloadIsCachedInObjectStore(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/Custom.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Custom","species":"human","labels":[{"name":"X","markers":["A"]}]}`))
	}))
	defer srv.Close()

	objects := object.NewMemoryStore()
	ctx := context.Background()

	first := NewStore(objects, srv.URL)
	if _, err := first.Reference(ctx, "Custom"); err != nil {
		t.Fatalf("Reference: %v", err)
	}

	second := NewStore(objects, srv.URL)
	ref, err := second.Reference(ctx, "Custom")
	if err != nil {
		t.Fatalf("Reference from cache: %v", err)
	}
	if ref.Labels[0].Name != "X" {
		t.Fatalf("unexpected labels %+v", ref.Labels)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single download, got %d", hits.Load())
	}

	if _, err := second.Reference(ctx, "Missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReferenceRejectsPathNames(t *testing.T) {
	s := NewStore(nil, "http://example.invalid")
	if _, err := s.Reference(context.Background(), "../etc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
