// Package store is the device-local book collection: an in-memory projection
// persisted as a JSON array to a single badger slot.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shelfieapp/shelfie/internal/domain"
	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/validation"
)

// Store holds the book projection. In local mode it is authoritative and every
// mutation is written through to the slot; in remote mode it is replaced
// wholesale from snapshots and the slot is left alone.
type Store struct {
	mu     sync.RWMutex
	books  []domain.Book
	slot   Slot
	logger *slog.Logger

	validator *validation.Validator
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store and reads the slot once. An absent slot is an empty
// collection; an unreadable one is an error so it is never overwritten blindly.
func New(slot Slot, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{
		slot:      slot,
		logger:    logger,
		validator: validation.New(),
		now:       time.Now,
		books:     []domain.Book{},
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := slot.Load()
	if err != nil {
		return nil, domainerrors.Persistence(err, "load books")
	}
	if len(data) > 0 {
		var books []domain.Book
		if err := json.Unmarshal(data, &books); err != nil {
			return nil, domainerrors.Persistence(err, "decode books")
		}
		for i := range books {
			books[i] = books[i].Clone()
		}
		s.books = books
	}

	logger.Debug("local store loaded", "count", len(s.books))
	return s, nil
}

// Books returns a copy of the projection in insertion order.
func (s *Store) Books() []domain.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneBooks(s.books)
}

// Get returns the book with the given id.
func (s *Store) Get(id string) (domain.Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(id); i >= 0 {
		return s.books[i].Clone(), true
	}
	return domain.Book{}, false
}

// ByStatus returns the books with the given status.
func (s *Store) ByStatus(status domain.Status) []domain.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.FilterByStatus(s.books, status)
}

// Tags returns the sorted set of tags in use.
func (s *Store) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.DistinctTags(s.books)
}

// Len returns the number of books in the projection.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

// Replace swaps the projection for books. It does not touch the slot.
func (s *Store) Replace(books []domain.Book) {
	next := domain.CloneBooks(books)
	s.mu.Lock()
	s.books = next
	s.mu.Unlock()
}

// Add validates in and appends a new book.
func (s *Store) Add(in domain.BookInput) (domain.Book, error) {
	if err := s.validator.Validate(in); err != nil {
		return domain.Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book := domain.NewBook(in, s.now())
	s.books = append(s.books, book)
	return book.Clone(), s.persistLocked("add", book.ID)
}

// Update merges u onto the book with the given id. The bool is false when no
// such book exists, in which case nothing changes.
func (s *Store) Update(id string, u domain.BookUpdate) (domain.Book, bool, error) {
	if err := s.validator.Validate(u); err != nil {
		return domain.Book{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return domain.Book{}, false, nil
	}
	s.books[i].Apply(u, s.now())
	return s.books[i].Clone(), true, s.persistLocked("update", id)
}

// Delete removes the book with the given id.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return false, nil
	}
	s.books = slices.Delete(s.books, i, i+1)
	return true, s.persistLocked("delete", id)
}

// AddComment appends a comment to the book with the given id.
func (s *Store) AddComment(bookID, text string) (domain.Comment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(bookID)
	if i < 0 {
		return domain.Comment{}, false, nil
	}
	now := s.now()
	c := domain.NewComment(text, now)
	s.books[i].AppendComment(c, now)
	return c, true, s.persistLocked("add comment", bookID)
}

// DeleteComment removes a comment. When the book exists its updatedAt is
// stamped even if the comment id is unknown; the bool reports whether the
// book was found.
func (s *Store) DeleteComment(bookID, commentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(bookID)
	if i < 0 {
		return false, nil
	}
	s.books[i].RemoveComment(commentID, s.now())
	return true, s.persistLocked("delete comment", bookID)
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.books, func(b domain.Book) bool { return b.ID == id })
}

// persistLocked writes the whole projection to the slot. A failure is
// returned to the caller but the in-memory change is kept.
func (s *Store) persistLocked(op, bookID string) error {
	data, err := json.Marshal(s.books)
	if err != nil {
		return domainerrors.Persistence(err, "encode books")
	}
	if err := s.slot.Save(data); err != nil {
		s.logger.Error("failed to persist books", "op", op, "book_id", bookID, "error", err)
		return domainerrors.Persistence(err, fmt.Sprintf("persist after %s", op))
	}
	return nil
}
