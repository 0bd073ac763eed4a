// Package docstore is a sqlite-backed remote document store. It implements
// remote.Adapter in-process and is what shelfd serves over HTTP.
package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/remote"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store provides SQLite-backed persistence for owner-scoped book documents.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// writeMu serializes write transactions; sqlite allows one writer.
	writeMu sync.Mutex

	mu       sync.Mutex
	watchers map[string]map[uint64]chan struct{}
	nextID   uint64
	closed   bool
}

var _ remote.Adapter = (*Store)(nil)

// Open creates a new SQLite store at the given path.
// It configures WAL mode, sets pragmas, and runs schema migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	logger.Info("document store opened", "path", path)

	return &Store{
		db:       db,
		logger:   logger,
		watchers: make(map[string]map[uint64]chan struct{}),
	}, nil
}

// Close stops every subscription and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	for owner, ws := range s.watchers {
		for _, ch := range ws {
			close(ch)
		}
		delete(s.watchers, owner)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domainerrors.RemoteUnavailable(err, "ping document store")
	}
	return nil
}

// QueryByOwner returns every document of owner, oldest first.
func (s *Store) QueryByOwner(ctx context.Context, owner string) ([]remote.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE owner = ? ORDER BY added_at, id`, owner)
	if err != nil {
		return nil, domainerrors.RemoteUnavailable(err, "query documents")
	}
	defer rows.Close()

	docs := make([]remote.Document, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, domainerrors.RemoteUnavailable(err, "scan document")
		}
		var doc remote.Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerrors.RemoteUnavailable(err, "iterate documents")
	}
	return docs, nil
}

// Write creates or replaces a document.
func (s *Store) Write(ctx context.Context, doc remote.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return upsert(ctx, tx, doc)
	})
	if err != nil {
		return err
	}
	s.notify(doc.Owner)
	return nil
}

// BatchWrite writes every document in a single transaction.
func (s *Store) BatchWrite(ctx context.Context, docs []remote.Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return err
		}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, doc := range docs {
			if err := upsert(ctx, tx, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	owners := make(map[string]struct{})
	for _, doc := range docs {
		owners[doc.Owner] = struct{}{}
	}
	for owner := range owners {
		s.notify(owner)
	}
	s.logger.Debug("batch written", "count", len(docs))
	return nil
}

// Merge applies patch to the document id of owner.
func (s *Store) Merge(ctx context.Context, owner, id string, patch remote.Patch) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := load(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		merged, err := remote.ApplyPatch(current, patch)
		if err != nil {
			return err
		}
		if err := merged.Validate(); err != nil {
			return err
		}
		return upsert(ctx, tx, merged)
	})
	if err != nil {
		return err
	}
	s.notify(owner)
	return nil
}

// Delete removes the document id of owner.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := load(ctx, tx, owner, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return domainerrors.RemoteUnavailable(err, "delete document")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(owner)
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domainerrors.RemoteUnavailable(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return domainerrors.RemoteUnavailable(err, "commit transaction")
	}
	return nil
}

// load reads a document inside tx, enforcing that it belongs to owner.
func load(ctx context.Context, tx *sql.Tx, owner, id string) (remote.Document, error) {
	var (
		docOwner string
		body     string
	)
	err := tx.QueryRowContext(ctx, `SELECT owner, body FROM documents WHERE id = ?`, id).Scan(&docOwner, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Document{}, domainerrors.NotFoundf("document %s not found", id)
	}
	if err != nil {
		return remote.Document{}, domainerrors.RemoteUnavailable(err, "read document")
	}
	if docOwner != owner {
		return remote.Document{}, domainerrors.Forbiddenf("document %s belongs to another owner", id)
	}

	var doc remote.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return remote.Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

func upsert(ctx context.Context, tx *sql.Tx, doc remote.Document) error {
	var existingOwner string
	err := tx.QueryRowContext(ctx, `SELECT owner FROM documents WHERE id = ?`, doc.ID).Scan(&existingOwner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domainerrors.RemoteUnavailable(err, "read document owner")
	case existingOwner != doc.Owner:
		return domainerrors.Forbiddenf("document %s belongs to another owner", doc.ID)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, owner, body, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		doc.ID,
		doc.Owner,
		string(body),
		formatTime(doc.AddedAt),
		formatTime(doc.UpdatedAt),
	)
	if err != nil {
		return domainerrors.RemoteUnavailable(err, "write document")
	}
	return nil
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
