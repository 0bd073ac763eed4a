package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/shelfieapp/shelfie/internal/identity"
	"github.com/shelfieapp/shelfie/internal/logger"
	"github.com/shelfieapp/shelfie/internal/store"
	"github.com/shelfieapp/shelfie/internal/syncer"
)

// CoordinatorHandle is the sync coordinator attached to the identity subject.
type CoordinatorHandle struct {
	*syncer.Coordinator
	detach func()
}

// Shutdown implements do.Shutdownable.
func (h *CoordinatorHandle) Shutdown() error {
	h.detach()
	return nil
}

// ProvideCoordinator builds the coordinator and attaches it to the identity
// subject. The restored session, if any, is fully transitioned before this
// returns.
func ProvideCoordinator(i do.Injector) (*CoordinatorHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	local := do.MustInvoke[*store.Store](i)
	rem := do.MustInvoke[*Remote](i)
	bus := do.MustInvoke[*BusHandle](i)
	subject := do.MustInvoke[*identity.Subject](i)

	c := syncer.New(local, rem.Adapter,
		syncer.WithLogger(log.WithComponent("sync").Logger),
		syncer.WithEmitter(bus.Bus),
	)
	detach := c.Attach(context.Background(), subject)

	return &CoordinatorHandle{Coordinator: c, detach: detach}, nil
}
