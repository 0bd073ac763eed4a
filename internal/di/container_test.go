package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfieapp/shelfie/internal/auth"
	"github.com/shelfieapp/shelfie/internal/config"
	"github.com/shelfieapp/shelfie/internal/di/providers"
	"github.com/shelfieapp/shelfie/internal/domain"
	"github.com/shelfieapp/shelfie/internal/identity"
	"github.com/shelfieapp/shelfie/internal/syncer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App:    config.AppConfig{Environment: "development"},
		Logger: config.LoggerConfig{Level: "error"},
		Local:  config.LocalConfig{DataPath: filepath.Join(dir, "data")},
		Remote: config.RemoteConfig{
			Backend: config.BackendSQLite,
			DBPath:  filepath.Join(dir, "documents.db"),
			Timeout: time.Second,
		},
		Auth: config.AuthConfig{TokenDuration: time.Hour},
		Server: config.ServerConfig{
			Port:         "0",
			CORSOrigins:  []string{"*"},
			RateLimitRPS: 10,
			RateBurst:    10,
		},
		Covers: config.CoversConfig{MaxWidth: 200, MaxBytes: 1 << 20},
	}
}

func TestClientContainer_LocalThenRemote(t *testing.T) {
	cfg := testConfig(t)
	injector := NewClientContainer(cfg)
	defer injector.Shutdown()

	c := do.MustInvoke[*providers.CoordinatorHandle](injector)
	assert.Equal(t, syncer.LocalMode(), c.Mode())

	res, err := c.AddBook(context.Background(), domain.BookInput{
		Title:  "Piranesi",
		Author: "Susanna Clarke",
		Status: domain.StatusReading,
	})
	require.NoError(t, err)
	assert.Equal(t, syncer.Applied, res.Outcome)

	tokens := do.MustInvoke[*auth.TokenService](injector)
	token, err := tokens.Generate("u1", "")
	require.NoError(t, err)

	rem := do.MustInvoke[*providers.Remote](injector)
	subject := do.MustInvoke[*identity.Subject](injector)
	_, err = subject.SignIn(context.Background(), rem.Verifier, token)
	require.NoError(t, err)

	assert.Equal(t, syncer.RemoteMode("u1"), c.Mode())

	docs, err := rem.Adapter.QueryByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.Book.ID, docs[0].ID)
}

func TestServerContainer_BuildsServer(t *testing.T) {
	cfg := testConfig(t)
	injector := NewServerContainer(cfg)
	defer injector.Shutdown()

	srv := do.MustInvoke[*providers.HTTPServerHandle](injector)
	assert.Equal(t, ":0", srv.Addr)
	assert.NotNil(t, srv.Handler)
	assert.Len(t, cfg.Auth.TokenKey, 32)
}
