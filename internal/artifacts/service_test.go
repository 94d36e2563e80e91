package artifacts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kana-backend/internal/shared/storage/object"
)

func newTestService() (*Service, *object.MemoryStore) {
	store := object.NewMemoryStore()
	return &Service{Store: store, Repo: NewMemoryRepo()}, store
}

func TestLinkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	data := []byte("%%MatrixMarket matrix coordinate integer general\n")

	id1, err := svc.Link(ctx, "mtx", "counts.mtx", data)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	before := store.Len()

	id2, err := svc.Link(ctx, "mtx", "counts.mtx", append([]byte(nil), data...))
	if err != nil {
		t.Fatalf("Link again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ: %q vs %q", id1, id2)
	}
	if store.Len() != before {
		t.Fatalf("store grew from %d to %d", before, store.Len())
	}
	links, _ := svc.List(ctx)
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
}

func TestLinkIDDependsOnContentNameAndKind(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	a, _ := svc.Link(ctx, "mtx", "a.mtx", []byte("x"))
	b, _ := svc.Link(ctx, "mtx", "a.mtx", []byte("y"))
	c, _ := svc.Link(ctx, "genes", "a.mtx", []byte("x"))
	d, _ := svc.Link(ctx, "mtx", "b.mtx", []byte("x"))
	seen := map[string]bool{}
	for _, id := range []string{a, b, c, d} {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if a != LinkID("mtx", "a.mtx", 1, "9dd4e461268c8034f5c8564e155c67a6") {
		t.Fatalf("unexpected id %q", a)
	}
}

func TestResolveRoundTripAndMissing(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	id, err := svc.Link(ctx, "genes", "genes.tsv", []byte("ENSG1\tA\n"))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	got, err := svc.Resolve(ctx, id)
	if err != nil || string(got) != "ENSG1\tA\n" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}

	if _, err := svc.Resolve(ctx, "genes_nope_1_abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = store.Delete(ctx, StorageKey(id))
	if _, err := svc.Resolve(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing bytes, got %v", err)
	}
}

func TestResolveDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	id, _ := svc.Link(ctx, "genes", "genes.tsv", []byte("abc"))
	_, _ = store.SaveWithKey(ctx, StorageKey(id), contentType, strings.NewReader("abd"))

	if _, err := svc.Resolve(ctx, id); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	id, _ := svc.Link(ctx, "mtx", "m.mtx", []byte("abc"))

	ok, err := svc.Delete(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected store empty, got %d", store.Len())
	}
	ok, err = svc.Delete(ctx, id)
	if err != nil || ok {
		t.Fatalf("second Delete = %v, %v", ok, err)
	}
}

func TestLinkRejectsEmptyKind(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Link(context.Background(), "", "x", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
