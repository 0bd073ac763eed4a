package providers

import (
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/shelfieapp/shelfie/internal/auth"
	"github.com/shelfieapp/shelfie/internal/config"
	"github.com/shelfieapp/shelfie/internal/logger"
)

// AuthKey wraps the token key bytes.
type AuthKey []byte

// ProvideAuthKey uses TOKEN_KEY when set, otherwise loads or generates the
// key file next to the document database so shelfd and an in-process sqlite
// backend agree on it.
func ProvideAuthKey(i do.Injector) (AuthKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Auth.TokenKey != nil {
		return AuthKey(cfg.Auth.TokenKey), nil
	}

	dir := filepath.Dir(cfg.Remote.DBPath)
	key, err := auth.LoadOrGenerateKey(dir)
	if err != nil {
		return nil, err
	}
	cfg.Auth.TokenKey = key

	log.Debug("token key loaded", "dir", dir, "token_duration", cfg.Auth.TokenDuration)
	return AuthKey(key), nil
}

// ProvideTokenService provides the PASETO token service.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	key := do.MustInvoke[AuthKey](i)
	return auth.NewTokenServiceFromKey(key, cfg.Auth.TokenDuration)
}
