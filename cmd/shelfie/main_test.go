package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfieapp/shelfie/internal/auth"
	"github.com/shelfieapp/shelfie/internal/domain"
	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
)

func parse(t *testing.T, args ...string) docopt.Opts {
	t.Helper()
	p := &docopt.Parser{HelpHandler: docopt.NoHelpHandler}
	opts, err := p.ParseArgs(usage, args, version)
	require.NoError(t, err)
	return opts
}

func TestBookInput(t *testing.T) {
	opts := parse(t, "add", "Dune", "Frank Herbert", "--status=reading", "--rating=5", "--tag=sf", "--tag=classic")

	in, err := bookInput(opts)
	require.NoError(t, err)
	assert.Equal(t, "Dune", in.Title)
	assert.Equal(t, "Frank Herbert", in.Author)
	assert.Equal(t, domain.StatusReading, in.Status)
	assert.Equal(t, 5, in.Rating)
	assert.Equal(t, []string{"sf", "classic"}, in.Tags)
}

func TestBookInput_Defaults(t *testing.T) {
	in, err := bookInput(parse(t, "add", "Dune", "Frank Herbert"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWillRead, in.Status)
	assert.Zero(t, in.Rating)
	assert.Empty(t, in.CoverURL)
}

func TestBookInput_Rejects(t *testing.T) {
	_, err := bookInput(parse(t, "add", "Dune", "Frank Herbert", "--status=someday"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = bookInput(parse(t, "add", "Dune", "Frank Herbert", "--rating=9"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestBookUpdate(t *testing.T) {
	u, err := bookUpdate(parse(t, "update", "bk_1", "--title=Children of Dune", "--rating=3"))
	require.NoError(t, err)
	require.NotNil(t, u.Title)
	assert.Equal(t, "Children of Dune", *u.Title)
	require.NotNil(t, u.Rating)
	assert.Equal(t, 3, *u.Rating)
	assert.Nil(t, u.Tags)
	assert.Nil(t, u.Status)

	u, err = bookUpdate(parse(t, "update", "bk_1", "--clear-tags"))
	require.NoError(t, err)
	require.NotNil(t, u.Tags)
	assert.Empty(t, *u.Tags)

	_, err = bookUpdate(parse(t, "update", "bk_1"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

// cli runs shelfie commands against one data directory.
type cli struct {
	t *testing.T
}

func newCLI(t *testing.T, keyHex string) *cli {
	dir := t.TempDir()
	t.Setenv("ENV", "development")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATA_PATH", filepath.Join(dir, "data"))
	t.Setenv("REMOTE_BACKEND", "sqlite")
	t.Setenv("REMOTE_DB_PATH", filepath.Join(dir, "documents.db"))
	t.Setenv("TOKEN_KEY", keyHex)
	return &cli{t: t}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	err := run(parse(c.t, args...), &out)
	return out.String(), err
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "shelfie %s", strings.Join(args, " "))
	return out
}

// lastField returns the last word of the output, the id a mutation prints.
func lastField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func TestRun_LocalLifecycle(t *testing.T) {
	key, err := auth.GenerateKeyHex()
	require.NoError(t, err)
	c := newCLI(t, key)

	assert.Contains(t, c.must("list"), "No books yet.")

	out := c.must("add", "The Left Hand of Darkness", "Ursula K. Le Guin", "--status=reading", "--tag=SF")
	assert.True(t, strings.HasPrefix(out, "applied "), out)
	bookID := lastField(out)

	out = c.must("list")
	assert.Contains(t, out, bookID)
	assert.Contains(t, out, "The Left Hand of Darkness")
	assert.Contains(t, out, "Reading")

	assert.Equal(t, "sf\n", c.must("tags"))

	commentID := lastField(c.must("comment", bookID, "Winter is long"))
	out = c.must("show", bookID)
	assert.Contains(t, out, "Winter is long")
	assert.Contains(t, out, commentID)

	c.must("uncomment", bookID, commentID)
	assert.NotContains(t, c.must("show", bookID), "Winter is long")

	c.must("update", bookID, "--status=finished", "--rating=5")
	assert.Contains(t, c.must("list", "--status=finished"), bookID)
	assert.NotContains(t, c.must("list", "--status=reading"), bookID)

	c.must("delete", bookID)
	assert.Contains(t, c.must("list"), "No books yet.")

	_, err = c.run("delete", bookID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestRun_LoginMigratesAndLogoutKeepsLocal(t *testing.T) {
	keyHex, err := auth.GenerateKeyHex()
	require.NoError(t, err)
	c := newCLI(t, keyHex)

	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)
	tokens, err := auth.NewTokenServiceFromKey(key, time.Hour)
	require.NoError(t, err)
	token, err := tokens.Generate("reader-1", "reader@example.com")
	require.NoError(t, err)

	bookID := lastField(c.must("add", "Kindred", "Octavia E. Butler"))

	out := c.must("login", token)
	assert.Contains(t, out, "signed in as reader-1, 1 books")

	assert.Contains(t, c.must("whoami"), "reader-1 <reader@example.com> (mode remote(reader-1))")
	assert.Contains(t, c.must("list"), bookID)

	out = c.must("add", "Parable of the Sower", "Octavia E. Butler")
	assert.True(t, strings.HasPrefix(out, "pending "), out)
	remoteID := lastField(out)
	assert.Contains(t, c.must("list"), remoteID)

	// The device copy never saw the remote-only book.
	assert.Equal(t, "signed out\n", c.must("logout"))
	out = c.must("list")
	assert.Contains(t, out, bookID)
	assert.NotContains(t, out, remoteID)
	assert.Contains(t, c.must("whoami"), "not signed in (mode local)")
}

func TestRun_LoginRejectsBadToken(t *testing.T) {
	key, err := auth.GenerateKeyHex()
	require.NoError(t, err)
	c := newCLI(t, key)

	_, err = c.run("login", "v4.local.garbage")
	assert.ErrorIs(t, err, domainerrors.ErrUnauthorized)
	assert.Contains(t, c.must("whoami"), "not signed in")
}

func TestRun_InlineCoverFallsBackToURL(t *testing.T) {
	key, err := auth.GenerateKeyHex()
	require.NoError(t, err)
	c := newCLI(t, key)

	out := c.must("add", "Dawn", "Octavia E. Butler", "--cover=http://127.0.0.1:1/cover.jpg", "--inline-cover")
	bookID := lastField(out)
	assert.Contains(t, c.must("show", bookID), "http://127.0.0.1:1/cover.jpg")
}
