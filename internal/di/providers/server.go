package providers

import (
	"context"
	"net"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/shelfieapp/shelfie/internal/api"
	"github.com/shelfieapp/shelfie/internal/auth"
	"github.com/shelfieapp/shelfie/internal/config"
	"github.com/shelfieapp/shelfie/internal/logger"
	"github.com/shelfieapp/shelfie/internal/ratelimit"
)

// LimiterHandle wraps the per-owner rate limiter.
type LimiterHandle struct {
	*ratelimit.Limiter
}

// Shutdown implements do.Shutdownable.
func (h *LimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideRateLimiter provides the per-owner rate limiter.
func ProvideRateLimiter(i do.Injector) (*LimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &LimiterHandle{Limiter: ratelimit.New(cfg.Server.RateLimitRPS, cfg.Server.RateBurst)}, nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the document server. It is not listening yet.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	docs := do.MustInvoke[*DocStoreHandle](i)
	tokens := do.MustInvoke[*auth.TokenService](i)
	limiter := do.MustInvoke[*LimiterHandle](i)

	handler := api.NewServer(docs.Store, tokens, limiter.Limiter, api.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
	}, log.WithComponent("api").Logger)

	srv := &http.Server{
		Addr:         net.JoinHostPort("", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &HTTPServerHandle{Server: srv}, nil
}
