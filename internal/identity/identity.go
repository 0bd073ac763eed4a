// Package identity holds the signed-in user as an observable value. Every
// change, including the initial value at subscription time, is delivered to
// subscribers in the order it happened.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
)

// Identity is a signed-in user. UserID is the owner key of every remote
// document written while the identity is active.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Token  string `json:"token,omitempty"`
}

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Slot persists the session between runs. It matches store.Slot.
type Slot interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Listener receives identity transitions. A nil identity means signed out.
type Listener func(*Identity)

// Subject is the identity provider. The zero value is not usable; use NewSubject.
type Subject struct {
	mu        sync.Mutex
	current   *Identity
	listeners map[uint64]Listener
	nextID    uint64

	// deliver serializes notifications so listeners observe transitions in order.
	deliver sync.Mutex

	slot   Slot
	logger *slog.Logger
}

// NewSubject creates a signed-out subject. slot may be nil, in which case the
// session lives only as long as the process.
func NewSubject(slot Slot, logger *slog.Logger) *Subject {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Subject{
		listeners: make(map[uint64]Listener),
		slot:      slot,
		logger:    logger,
	}
}

// Current returns the active identity, or nil when signed out.
func (s *Subject) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.current)
}

// Subscribe registers fn and immediately calls it with the current value.
// The returned function unregisters fn; calling it more than once is harmless.
func (s *Subject) Subscribe(fn Listener) (unsubscribe func()) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	current := clone(s.current)
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Set replaces the current identity and notifies every listener.
func (s *Subject) Set(next *Identity) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	s.current = clone(next)
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(clone(next))
	}
}

// SignIn verifies token, persists the session and publishes the identity.
func (s *Subject) SignIn(ctx context.Context, v Verifier, token string) (Identity, error) {
	ident, err := v.Verify(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if ident.UserID == "" {
		return Identity{}, domainerrors.Unauthorized("token carries no user id")
	}
	ident.Token = token

	if err := s.persist(&ident); err != nil {
		s.logger.Warn("failed to persist session", "user_id", ident.UserID, "error", err)
	}
	s.logger.Info("signed in", "user_id", ident.UserID)
	s.Set(&ident)
	return ident, nil
}

// SignOut clears the persisted session and publishes the absent identity.
func (s *Subject) SignOut() {
	if err := s.persist(nil); err != nil {
		s.logger.Warn("failed to clear session", "error", err)
	}
	s.logger.Info("signed out")
	s.Set(nil)
}

// Restore loads a previously persisted session, if any, and publishes it.
// It returns the restored identity or nil.
func (s *Subject) Restore() (*Identity, error) {
	if s.slot == nil {
		return nil, nil
	}
	data, err := s.slot.Load()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if ident.UserID == "" {
		return nil, nil
	}
	s.Set(&ident)
	return clone(&ident), nil
}

// Token returns the bearer token for owner. It is the token source of the
// HTTP remote adapter.
func (s *Subject) Token(_ context.Context, owner string) (string, error) {
	cur := s.Current()
	if cur == nil || cur.UserID != owner {
		return "", domainerrors.Unauthorized("no session for " + owner)
	}
	return cur.Token, nil
}

func (s *Subject) persist(ident *Identity) error {
	if s.slot == nil {
		return nil
	}
	if ident == nil {
		return s.slot.Save(nil)
	}
	data, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	return s.slot.Save(data)
}

func clone(i *Identity) *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
