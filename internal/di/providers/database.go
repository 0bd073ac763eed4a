package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/shelfieapp/shelfie/internal/config"
	"github.com/shelfieapp/shelfie/internal/docstore"
	"github.com/shelfieapp/shelfie/internal/events"
	"github.com/shelfieapp/shelfie/internal/identity"
	"github.com/shelfieapp/shelfie/internal/logger"
	"github.com/shelfieapp/shelfie/internal/store"
)

const (
	// Badger slot keys.
	booksSlot   = "books"
	sessionSlot = "session"

	shutdownTimeout = 30 * time.Second
)

// BusHandle wraps the event bus with its context for lifecycle management.
type BusHandle struct {
	*events.Bus
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *BusHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Bus.Shutdown(ctx)
	h.cancel()
	return err
}

// ProvideEventBus provides the in-process event bus, already started.
func ProvideEventBus(i do.Injector) (*BusHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	bus := events.NewBus(log.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	go bus.Start(ctx)

	return &BusHandle{Bus: bus, cancel: cancel}, nil
}

// BadgerHandle wraps the device-local badger database.
type BadgerHandle struct {
	*store.Badger
}

// Shutdown implements do.Shutdownable.
func (h *BadgerHandle) Shutdown() error {
	return h.Close()
}

// ProvideBadger opens the device-local badger database.
func ProvideBadger(i do.Injector) (*BadgerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	db, err := store.OpenBadger(cfg.Local.DataPath, log.Logger)
	if err != nil {
		return nil, err
	}
	log.Debug("local data opened", "path", cfg.Local.DataPath)
	return &BadgerHandle{Badger: db}, nil
}

// ProvideLocalStore provides the device-local book store.
func ProvideLocalStore(i do.Injector) (*store.Store, error) {
	db := do.MustInvoke[*BadgerHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return store.New(db.Slot(booksSlot), log.WithComponent("store").Logger)
}

// ProvideIdentity provides the identity subject, with any saved session restored.
func ProvideIdentity(i do.Injector) (*identity.Subject, error) {
	db := do.MustInvoke[*BadgerHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	subject := identity.NewSubject(db.Slot(sessionSlot), log.WithComponent("identity").Logger)
	ident, err := subject.Restore()
	if err != nil {
		// A damaged session means signed out, not a broken client.
		log.Warn("discarding saved session", "error", err)
		subject.SignOut()
		return subject, nil
	}
	if ident != nil {
		log.Debug("session restored", "user_id", ident.UserID)
	}
	return subject, nil
}

// DocStoreHandle wraps the sqlite document store.
type DocStoreHandle struct {
	*docstore.Store
}

// Shutdown implements do.Shutdownable.
func (h *DocStoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideDocStore opens the sqlite document store.
func ProvideDocStore(i do.Injector) (*DocStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	docs, err := docstore.Open(cfg.Remote.DBPath, log.WithComponent("docstore").Logger)
	if err != nil {
		return nil, err
	}
	log.Debug("document store opened", "path", cfg.Remote.DBPath)
	return &DocStoreHandle{Store: docs}, nil
}
