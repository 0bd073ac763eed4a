// Package di wires the shelfie client and the shelfd document server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/shelfieapp/shelfie/internal/config"
	"github.com/shelfieapp/shelfie/internal/di/providers"
)

// NewClientContainer creates the container of the shelfie client.
func NewClientContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideEventBus)

	// Device-local persistence
	do.Provide(injector, providers.ProvideBadger)
	do.Provide(injector, providers.ProvideLocalStore)
	do.Provide(injector, providers.ProvideIdentity)

	// Remote store, only opened when the backend needs it
	do.Provide(injector, providers.ProvideAuthKey)
	do.Provide(injector, providers.ProvideTokenService)
	do.Provide(injector, providers.ProvideDocStore)
	do.Provide(injector, providers.ProvideRemote)

	do.Provide(injector, providers.ProvideCoverInliner)
	do.Provide(injector, providers.ProvideCoordinator)

	return injector
}

// NewServerContainer creates the container of the shelfd document server.
func NewServerContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)

	do.Provide(injector, providers.ProvideAuthKey)
	do.Provide(injector, providers.ProvideTokenService)
	do.Provide(injector, providers.ProvideDocStore)
	do.Provide(injector, providers.ProvideRateLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}
