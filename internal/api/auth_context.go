package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/shelfieapp/shelfie/internal/auth"
	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
)

// TokenVerifier decrypts bearer tokens. auth.TokenService implements it.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// ctxKey is the type for context keys to avoid collisions.
type ctxKey string

const (
	claimsKey    ctxKey = "claims"
	authErrorKey ctxKey = "auth_error"
)

// authMiddleware verifies the bearer token, if any, and stores the claims in
// the request context. Requests without a valid token continue; handlers
// decide whether they need one.
func authMiddleware(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				ctx := context.WithValue(r.Context(), authErrorKey, domainerrors.Unauthorized("invalid authorization header format"))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			claims, err := tokens.VerifyToken(token)
			if err != nil {
				ctx := context.WithValue(r.Context(), authErrorKey, err)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireClaims returns the verified claims or a 401 error.
func requireClaims(ctx context.Context) (*auth.Claims, error) {
	if claims, ok := ctx.Value(claimsKey).(*auth.Claims); ok {
		return claims, nil
	}
	if err, ok := ctx.Value(authErrorKey).(error); ok {
		return nil, err
	}
	return nil, domainerrors.Unauthorized("authentication required")
}

// authorize checks that the caller is owner and has not exceeded their rate.
func (s *Server) authorize(ctx context.Context, owner string) (*auth.Claims, error) {
	claims, err := requireClaims(ctx)
	if err != nil {
		return nil, err
	}
	if claims.UserID != owner {
		return nil, domainerrors.Forbiddenf("token does not grant access to owner %s", owner)
	}
	if s.limiter != nil && !s.limiter.Allow(owner) {
		s.logger.Warn("rate limit exceeded", "user_id", owner)
		return nil, domainerrors.ErrRateLimited
	}
	return claims, nil
}
