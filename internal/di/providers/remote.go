package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/shelfieapp/shelfie/internal/auth"
	"github.com/shelfieapp/shelfie/internal/config"
	"github.com/shelfieapp/shelfie/internal/covers"
	"github.com/shelfieapp/shelfie/internal/identity"
	"github.com/shelfieapp/shelfie/internal/logger"
	"github.com/shelfieapp/shelfie/internal/remote"
	"github.com/shelfieapp/shelfie/internal/remote/httpremote"
)

// Remote bundles the configured remote store with the verifier that signs a
// user into it.
type Remote struct {
	Adapter  remote.Adapter
	Verifier identity.Verifier
}

// ProvideRemote selects the remote backend. The sqlite backend uses the
// document store in-process and verifies tokens locally; the http backend
// talks to shelfd and lets it verify tokens.
func ProvideRemote(i do.Injector) (*Remote, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	switch cfg.Remote.Backend {
	case config.BackendSQLite:
		docs := do.MustInvoke[*DocStoreHandle](i)
		tokens := do.MustInvoke[*auth.TokenService](i)
		return &Remote{Adapter: docs.Store, Verifier: tokens}, nil

	case config.BackendHTTP:
		subject := do.MustInvoke[*identity.Subject](i)
		client := httpremote.New(cfg.Remote.URL, subject,
			httpremote.WithTimeout(cfg.Remote.Timeout),
			httpremote.WithLogger(log.WithComponent("httpremote").Logger),
		)
		return &Remote{Adapter: client, Verifier: client}, nil

	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
}

// ProvideCoverInliner provides the cover inliner.
func ProvideCoverInliner(i do.Injector) (*covers.Inliner, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	return covers.New(cfg.Covers.MaxWidth, cfg.Covers.MaxBytes, covers.WithLogger(log.Logger)), nil
}
