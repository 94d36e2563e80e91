package records

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"kana-backend/internal/shared/storage/db"
)

func TestSQLRepoCreateWritesFilesInTransaction(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	repo := &SQLRepo{DB: conn, Dialect: db.DialectPostgres}
	rec := Record{
		ID:         "rec-1",
		Title:      "t1",
		StateKey:   "records/rec-1.kana",
		StateBytes: 42,
		Files:      []string{"a", "b"},
		CreatedAt:  time.UnixMilli(1700000000000),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO saved_analyses").
		WithArgs(rec.ID, rec.Title, rec.StateKey, rec.StateBytes, int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO saved_analysis_files .* VALUES \(\$1, \$2, \$3\)`).
		WithArgs(rec.ID, 0, "a").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO saved_analysis_files").
		WithArgs(rec.ID, 1, "b").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestSQLRepoAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, ":memory:", db.DefaultSQLiteOptions())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.RunMigrations(ctx, conn, db.DialectSQLite); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	repo := &SQLRepo{DB: conn, Dialect: db.DialectSQLite}
	base := time.UnixMilli(1700000000000).UTC()
	for i, id := range []string{"r1", "r2"} {
		rec := Record{ID: id, Title: id, StateKey: "records/" + id, StateBytes: 1, Files: []string{"shared", id + "-only"}, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Files) != 2 || got.Files[0] != "shared" || got.Files[1] != "r1-only" {
		t.Fatalf("unexpected files %v", got.Files)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) != 2 || list[0].ID != "r2" {
		t.Fatalf("List = %+v, %v", list, err)
	}

	if n, _ := repo.CountFileRefs(ctx, "shared"); n != 2 {
		t.Fatalf("shared refs = %d, want 2", n)
	}
	if ok, err := repo.Delete(ctx, "r1"); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if n, _ := repo.CountFileRefs(ctx, "shared"); n != 1 {
		t.Fatalf("shared refs after delete = %d, want 1", n)
	}
	if _, err := repo.Get(ctx, "r1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
