package docstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shelfieapp/shelfie/internal/domain"
	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/remote"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDoc(owner, title string, added time.Time) remote.Document {
	b := domain.NewBook(domain.BookInput{
		Title:  title,
		Author: "Ursula K. Le Guin",
		Status: domain.StatusWillRead,
		Rating: 3,
	}, added)
	return remote.ToDocument(b, owner)
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected wal, got %s", journalMode)
	}

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='documents'").Scan(&name)
	if err != nil {
		t.Errorf("table documents not found: %v", err)
	}
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	doc := testDoc("u1", "Earthsea", time.Now())
	if err := s.Write(context.Background(), doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Re-open should work (schema is idempotent) and keep the data.
	s2, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}
	defer s2.Close()

	docs, err := s2.QueryByOwner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("expected reopened store to hold %s, got %+v", doc.ID, docs)
	}
}

func TestQueryByOwner_ScopedAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	second := testDoc("u1", "The Dispossessed", base.Add(time.Hour))
	first := testDoc("u1", "A Wizard of Earthsea", base)
	other := testDoc("u2", "Lathe of Heaven", base)

	for _, d := range []remote.Document{second, first, other} {
		if err := s.Write(ctx, d); err != nil {
			t.Fatalf("write %s: %v", d.Title, err)
		}
	}

	docs, err := s.QueryByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].ID != first.ID || docs[1].ID != second.ID {
		t.Errorf("expected oldest first, got %s then %s", docs[0].Title, docs[1].Title)
	}
	for _, d := range docs {
		if d.Owner != "u1" {
			t.Errorf("document %s has owner %s", d.ID, d.Owner)
		}
	}

	empty, err := s.QueryByOwner(ctx, "nobody")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", empty)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := testDoc("u1", "Earthsea", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	doc.Tags = []string{"fantasy"}
	doc.Comments = []domain.Comment{domain.NewComment("lovely", doc.AddedAt)}

	if err := s.Write(ctx, doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	docs, err := s.QueryByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := docs[0]
	if got.Title != doc.Title || got.Comments[0].Text != "lovely" || got.Tags[0] != "fantasy" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.AddedAt.Equal(doc.AddedAt) {
		t.Errorf("addedAt changed: %v vs %v", got.AddedAt, doc.AddedAt)
	}
}

func TestWrite_Validation(t *testing.T) {
	s := newTestStore(t)

	doc := testDoc("u1", "Earthsea", time.Now())
	doc.Rating = 12
	if err := s.Write(context.Background(), doc); !errors.Is(err, domainerrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWrite_OtherOwnerForbidden(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := testDoc("u1", "Earthsea", time.Now())
	if err := s.Write(ctx, doc); err != nil {
		t.Fatalf("write: %v", err)
	}

	stolen := doc
	stolen.Owner = "u2"
	if err := s.Write(ctx, stolen); !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestBatchWrite_Atomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taken := testDoc("u2", "Taken", time.Now())
	if err := s.Write(ctx, taken); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok := testDoc("u1", "Fine", time.Now())
	clash := taken
	clash.Owner = "u1"

	err := s.BatchWrite(ctx, []remote.Document{ok, clash})
	if !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	docs, err := s.QueryByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected failed batch to leave no documents, got %d", len(docs))
	}

	if err := s.BatchWrite(ctx, []remote.Document{ok}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	docs, _ = s.QueryByOwner(ctx, "u1")
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
}

func TestMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	added := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	doc := testDoc("u1", "Earthsea", added)
	if err := s.Write(ctx, doc); err != nil {
		t.Fatalf("write: %v", err)
	}

	rating := 5
	status := domain.StatusFinished
	patch := remote.PatchFromUpdate(domain.BookUpdate{Rating: &rating, Status: &status}, added.Add(time.Hour))
	if err := s.Merge(ctx, "u1", doc.ID, patch); err != nil {
		t.Fatalf("merge: %v", err)
	}

	docs, _ := s.QueryByOwner(ctx, "u1")
	got := docs[0]
	if got.Rating != 5 || got.Status != domain.StatusFinished || got.Title != "Earthsea" {
		t.Errorf("unexpected merge result: %+v", got)
	}
	if !got.UpdatedAt.Equal(added.Add(time.Hour)) {
		t.Errorf("expected updatedAt to be stamped, got %v", got.UpdatedAt)
	}
}

func TestMerge_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := testDoc("u1", "Earthsea", time.Now())
	if err := s.Write(ctx, doc); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name  string
		owner string
		id    string
		patch remote.Patch
		want  error
	}{
		{"missing", "u1", "book-missing", remote.Patch{"title": "x"}, domainerrors.ErrNotFound},
		{"other owner", "u2", doc.ID, remote.Patch{"title": "x"}, domainerrors.ErrForbidden},
		{"immutable field", "u1", doc.ID, remote.Patch{"addedAt": "2020-01-01T00:00:00Z"}, domainerrors.ErrValidation},
		{"out of range", "u1", doc.ID, remote.Patch{"rating": 9}, domainerrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Merge(ctx, tt.owner, tt.id, tt.patch); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := testDoc("u1", "Earthsea", time.Now())
	if err := s.Write(ctx, doc); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := s.Delete(ctx, "u2", doc.ID); !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := s.Delete(ctx, "u1", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "u1", doc.ID); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
