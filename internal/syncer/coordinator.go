// Package syncer decides which backend owns the book collection and routes every
// read and write accordingly. Signed out, the device-local store is
// authoritative. Signed in, the remote document store is, and the local
// projection is replaced wholesale by each remote snapshot (server wins).
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shelfieapp/shelfie/internal/domain"
	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/events"
	"github.com/shelfieapp/shelfie/internal/identity"
	"github.com/shelfieapp/shelfie/internal/remote"
	"github.com/shelfieapp/shelfie/internal/store"
	"github.com/shelfieapp/shelfie/internal/validation"
)

// IdentitySource is the observable the coordinator follows.
// identity.Subject implements it.
type IdentitySource interface {
	Subscribe(fn identity.Listener) (unsubscribe func())
}

// Coordinator owns the backend mode and the projection.
type Coordinator struct {
	// mu is held exclusively for a whole identity transition and shared by
	// mutations, so mutations never straddle a mode switch.
	mu   sync.RWMutex
	mode atomic.Pointer[Mode]

	local     *store.Store
	adapter   remote.Adapter
	validator *validation.Validator
	logger    *slog.Logger
	emitter   events.Emitter
	now       func() time.Time

	// snapMu guards the live subscription. Snapshots carry the generation they
	// were subscribed under and are dropped once it has moved on.
	snapMu     sync.Mutex
	generation uint64
	cancel     remote.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithEmitter sets where transition and mutation events go.
func WithEmitter(e events.Emitter) Option {
	return func(c *Coordinator) { c.emitter = e }
}

// WithClock overrides the time source for remote-mode timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator in local mode over local.
func New(local *store.Store, adapter remote.Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:     local,
		adapter:   adapter,
		validator: validation.New(),
		logger:    slog.New(slog.DiscardHandler),
		emitter:   events.NoopEmitter{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	m := LocalMode()
	c.mode.Store(&m)
	return c
}

// Mode returns the active backend.
func (c *Coordinator) Mode() Mode {
	return *c.mode.Load()
}

// Books returns the projection.
func (c *Coordinator) Books() []domain.Book { return c.local.Books() }

// Book returns one book from the projection.
func (c *Coordinator) Book(id string) (domain.Book, bool) { return c.local.Get(id) }

// ByStatus returns the projection filtered by status.
func (c *Coordinator) ByStatus(status domain.Status) []domain.Book { return c.local.ByStatus(status) }

// Tags returns the sorted set of tags in the projection.
func (c *Coordinator) Tags() []string { return c.local.Tags() }

// Attach follows src until detach is called or ctx is done. The initial
// identity is handled before Attach returns. Transitions run on the
// goroutine that publishes them, one at a time.
func (c *Coordinator) Attach(ctx context.Context, src IdentitySource) (detach func()) {
	unsubscribe := src.Subscribe(func(ident *identity.Identity) {
		// Failures are already logged and emitted by HandleIdentity.
		_ = c.HandleIdentity(ctx, ident)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			c.mu.Lock()
			c.cancelSubscription()
			c.mu.Unlock()
		})
	}
}

// Run attaches to src and blocks until ctx is done.
func (c *Coordinator) Run(ctx context.Context, src IdentitySource) error {
	detach := c.Attach(ctx, src)
	defer detach()
	<-ctx.Done()
	return nil
}

// HandleIdentity performs one identity transition. A nil identity switches to
// local mode. On failure the mode from before the transition is kept, the
// failure is emitted as transition.failed and the error is returned.
func (c *Coordinator) HandleIdentity(ctx context.Context, ident *identity.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.Mode()
	c.cancelSubscription()

	if ident == nil {
		c.setMode(LocalMode())
		return nil
	}

	owner := ident.UserID
	if owner == "" {
		return c.fail(prev, owner, "identity", domainerrors.Validation("identity has no user id"))
	}

	docs, err := c.adapter.QueryByOwner(ctx, owner)
	if err != nil {
		return c.fail(prev, owner, "query", err)
	}

	if err := c.migrate(ctx, prev, owner, len(docs)); err != nil {
		return c.fail(prev, owner, "migrate", err)
	}

	gen := c.nextGeneration()
	cancel, err := c.adapter.Subscribe(ctx, owner, func(docs []remote.Document) {
		c.applySnapshot(gen, owner, docs)
	})
	if err != nil {
		c.cancelSubscription()
		return c.fail(prev, owner, "subscribe", err)
	}
	c.snapMu.Lock()
	c.cancel = sync.OnceFunc(cancel)
	c.snapMu.Unlock()

	c.setMode(RemoteMode(owner))
	return nil
}

// migrate copies the local books to an empty remote in one batch. Only a
// projection that came from local mode is ever migrated.
func (c *Coordinator) migrate(ctx context.Context, prev Mode, owner string, remoteCount int) error {
	localCount := c.local.Len()

	var reason string
	switch {
	case remoteCount > 0:
		reason = "remote not empty"
		if localCount > 0 && prev.Kind == Local {
			c.logger.Info("remote already holds books, keeping remote",
				"user_id", owner,
				"code", string(domainerrors.CodeMigrationConflict),
				"local_count", localCount,
				"remote_count", remoteCount)
		}
	case localCount == 0:
		reason = "local empty"
	case prev.Kind != Local:
		reason = "previous session was remote"
	}
	if reason != "" {
		c.emitter.Emit(events.New(events.MigrationSkipped, owner, events.MigrationData{Reason: reason}))
		return nil
	}

	books := c.local.Books()
	if err := c.adapter.BatchWrite(ctx, remote.ToDocuments(books, owner)); err != nil {
		return err
	}

	c.logger.Info("migrated local books to remote", "user_id", owner, "count", len(books))
	c.emitter.Emit(events.New(events.MigrationCompleted, owner, events.MigrationData{Count: len(books)}))
	return nil
}

func (c *Coordinator) fail(prev Mode, owner, step string, err error) error {
	c.logger.Error("identity transition failed",
		"step", step,
		"user_id", owner,
		"mode", prev.String(),
		"error", err)
	c.emitter.Emit(events.New(events.TransitionFailed, owner, events.FailureData{Step: step, Error: err.Error()}))
	return fmt.Errorf("sign in %q: %s: %w", owner, step, err)
}

func (c *Coordinator) setMode(m Mode) {
	c.mode.Store(&m)
	c.logger.Info("backend mode changed", "mode", m.Kind.String(), "user_id", m.UserID)
	c.emitter.Emit(events.New(events.ModeChanged, m.UserID, events.ModeData{Mode: m.Kind.String(), UserID: m.UserID}))
}

func (c *Coordinator) nextGeneration() uint64 {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.generation++
	return c.generation
}

// cancelSubscription retires the live subscription, if any. Any snapshot
// delivered after this returns is ignored.
func (c *Coordinator) cancelSubscription() {
	c.snapMu.Lock()
	c.generation++
	cancel := c.cancel
	c.cancel = nil
	c.snapMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) applySnapshot(gen uint64, owner string, docs []remote.Document) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	if gen != c.generation {
		c.logger.Debug("dropping stale snapshot", "user_id", owner, "count", len(docs))
		return
	}

	owned := make([]remote.Document, 0, len(docs))
	for _, d := range docs {
		if d.Owner != owner {
			c.logger.Warn("snapshot contains foreign document", "user_id", owner, "book_id", d.ID)
			continue
		}
		owned = append(owned, d)
	}

	c.local.Replace(remote.StripOwner(owned))
	c.emitter.Emit(events.New(events.SnapshotApplied, owner, events.SnapshotData{Count: len(owned)}))
}

// AddBook creates a book. Locally it is applied at once; remotely the result
// is Pending until the next snapshot.
func (c *Coordinator) AddBook(ctx context.Context, in domain.BookInput) (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mode := c.Mode()
	if mode.Kind == Local {
		book, err := c.local.Add(in)
		if errors.Is(err, domainerrors.ErrValidation) {
			return Result{}, err
		}
		c.changed(book.ID, "add")
		return Result{Outcome: Applied, Book: book}, err
	}

	if err := c.validator.Validate(in); err != nil {
		return Result{}, err
	}
	book := domain.NewBook(in, c.now())
	if err := c.adapter.Write(ctx, remote.ToDocument(book, mode.UserID)); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Pending, Book: book}, nil
}

// UpdateBook shallow-merges u onto the book id.
func (c *Coordinator) UpdateBook(ctx context.Context, id string, u domain.BookUpdate) (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mode := c.Mode()
	if mode.Kind == Local {
		book, ok, err := c.local.Update(id, u)
		if errors.Is(err, domainerrors.ErrValidation) {
			return Result{}, err
		}
		if !ok {
			return Result{Outcome: NoOp}, nil
		}
		c.changed(id, "update")
		return Result{Outcome: Applied, Book: book}, err
	}

	if err := c.validator.Validate(u); err != nil {
		return Result{}, err
	}
	now := c.now()
	merged, known := c.local.Get(id)
	if known {
		merged.Apply(u, now)
		now = merged.UpdatedAt
	}
	err := c.adapter.Merge(ctx, mode.UserID, id, remote.PatchFromUpdate(u, now))
	if errors.Is(err, domainerrors.ErrNotFound) {
		return Result{Outcome: NoOp}, nil
	}
	if err != nil {
		return Result{}, err
	}
	res := Result{Outcome: Pending}
	if known {
		res.Book = merged
	}
	return res, nil
}

// DeleteBook removes the book id.
func (c *Coordinator) DeleteBook(ctx context.Context, id string) (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mode := c.Mode()
	if mode.Kind == Local {
		ok, err := c.local.Delete(id)
		if !ok {
			return Result{Outcome: NoOp}, err
		}
		c.changed(id, "delete")
		return Result{Outcome: Applied}, err
	}

	err := c.adapter.Delete(ctx, mode.UserID, id)
	if errors.Is(err, domainerrors.ErrNotFound) {
		return Result{Outcome: NoOp}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: Pending}, nil
}

// AddComment appends a comment to the book bookID. In remote mode the
// comment sequence is rebuilt from the projection and written as a whole.
func (c *Coordinator) AddComment(ctx context.Context, bookID, text string) (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mode := c.Mode()
	if mode.Kind == Local {
		comment, ok, err := c.local.AddComment(bookID, text)
		if !ok {
			return Result{Outcome: NoOp}, err
		}
		book, _ := c.local.Get(bookID)
		c.changed(bookID, "add comment")
		return Result{Outcome: Applied, Book: book, CommentID: comment.ID}, err
	}

	book, ok := c.local.Get(bookID)
	if !ok {
		return Result{Outcome: NoOp}, nil
	}
	now := c.now()
	comment := domain.NewComment(text, now)
	book.AppendComment(comment, now)

	res, err := c.mergeComments(ctx, mode.UserID, book)
	res.CommentID = comment.ID
	return res, err
}

// DeleteComment removes commentID from the book bookID. The book's updatedAt
// is stamped whenever the book exists.
func (c *Coordinator) DeleteComment(ctx context.Context, bookID, commentID string) (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mode := c.Mode()
	if mode.Kind == Local {
		ok, err := c.local.DeleteComment(bookID, commentID)
		if !ok {
			return Result{Outcome: NoOp}, err
		}
		book, _ := c.local.Get(bookID)
		c.changed(bookID, "delete comment")
		return Result{Outcome: Applied, Book: book}, err
	}

	book, ok := c.local.Get(bookID)
	if !ok {
		return Result{Outcome: NoOp}, nil
	}
	book.RemoveComment(commentID, c.now())
	return c.mergeComments(ctx, mode.UserID, book)
}

func (c *Coordinator) mergeComments(ctx context.Context, owner string, book domain.Book) (Result, error) {
	err := c.adapter.Merge(ctx, owner, book.ID, remote.CommentsPatch(book.Comments, book.UpdatedAt))
	if errors.Is(err, domainerrors.ErrNotFound) {
		return Result{Outcome: NoOp}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: Pending, Book: book}, nil
}

func (c *Coordinator) changed(bookID, op string) {
	evt := events.New(events.BookChanged, "", events.BookData{Op: op})
	evt.BookID = bookID
	c.emitter.Emit(evt)
}
