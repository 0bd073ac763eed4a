package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfieapp/shelfie/internal/auth"
	"github.com/shelfieapp/shelfie/internal/docstore"
	"github.com/shelfieapp/shelfie/internal/domain"
	"github.com/shelfieapp/shelfie/internal/ratelimit"
	"github.com/shelfieapp/shelfie/internal/remote"
)

type testServer struct {
	*Server
	api    humatest.TestAPI
	docs   *docstore.Store
	tokens *auth.TokenService
}

func setupTestServer(t *testing.T, rps float64, burst int) *testServer {
	t.Helper()

	docs, err := docstore.Open(filepath.Join(t.TempDir(), "documents.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	key, err := auth.GenerateKeyHex()
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(key, time.Hour)
	require.NoError(t, err)

	limiter := ratelimit.New(rps, burst)
	t.Cleanup(limiter.Stop)

	srv := NewServer(docs, tokens, limiter, Options{PingInterval: time.Second}, nil)

	return &testServer{
		Server: srv,
		api:    humatest.Wrap(t, srv.API()),
		docs:   docs,
		tokens: tokens,
	}
}

func (ts *testServer) bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.tokens.Generate(userID, userID+"@example.com")
	require.NoError(t, err)
	return "Authorization: Bearer " + token
}

func testDocument(owner, title string) remote.Document {
	b := domain.NewBook(domain.BookInput{
		Title:  title,
		Author: "N. K. Jemisin",
		Status: domain.StatusReading,
		Rating: 4,
		Tags:   []string{"fantasy"},
	}, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return remote.ToDocument(b, owner)
}

func decodeError(t *testing.T, body []byte) APIError {
	t.Helper()
	var e APIError
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t, 100, 100)

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Components["documents"].Status)
}

func TestWhoAmI(t *testing.T) {
	ts := setupTestServer(t, 100, 100)

	resp := ts.api.Get("/api/v1/whoami")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, resp.Body.Bytes()).Code)

	resp = ts.api.Get("/api/v1/whoami", "Authorization: Bearer not-a-token")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "invalid token", decodeError(t, resp.Body.Bytes()).Message)

	resp = ts.api.Get("/api/v1/whoami", ts.bearer(t, "u1"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &who))
	assert.Equal(t, WhoAmIResponse{UserID: "u1", Email: "u1@example.com"}, who)
}

func TestPutAndList(t *testing.T) {
	ts := setupTestServer(t, 100, 100)
	hdr := ts.bearer(t, "u1")
	doc := testDocument("u1", "The Fifth Season")

	resp := ts.api.Put("/api/v1/owners/u1/books/"+doc.ID, hdr, doc)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	resp = ts.api.Get("/api/v1/owners/u1/books", hdr)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body DocumentsBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Documents, 1)
	got := body.Documents[0]
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, "u1", got.Owner)
	assert.Equal(t, []string{"fantasy"}, got.Tags)
	assert.True(t, doc.AddedAt.Equal(got.AddedAt))
}

func TestPut_Rejections(t *testing.T) {
	ts := setupTestServer(t, 100, 100)
	doc := testDocument("u1", "The Fifth Season")

	tests := []struct {
		name   string
		path   string
		auth   string
		body   remote.Document
		status int
		code   string
	}{
		{"no token", "/api/v1/owners/u1/books/" + doc.ID, "", doc, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"other owner's token", "/api/v1/owners/u1/books/" + doc.ID, ts.bearer(t, "u2"), doc, http.StatusForbidden, "FORBIDDEN"},
		{"path id mismatch", "/api/v1/owners/u1/books/book-other", ts.bearer(t, "u1"), doc, http.StatusBadRequest, "VALIDATION"},
		{"body owner mismatch", "/api/v1/owners/u2/books/" + doc.ID, ts.bearer(t, "u2"), doc, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []any{}
			if tt.auth != "" {
				args = append(args, tt.auth)
			}
			args = append(args, tt.body)
			resp := ts.api.Put(tt.path, args...)
			require.Equal(t, tt.status, resp.Code, resp.Body.String())
			assert.Equal(t, tt.code, decodeError(t, resp.Body.Bytes()).Code)
		})
	}
}

func TestPatch(t *testing.T) {
	ts := setupTestServer(t, 100, 100)
	hdr := ts.bearer(t, "u1")
	doc := testDocument("u1", "The Fifth Season")
	require.Equal(t, http.StatusNoContent, ts.api.Put("/api/v1/owners/u1/books/"+doc.ID, hdr, doc).Code)

	resp := ts.api.Patch("/api/v1/owners/u1/books/"+doc.ID, hdr, map[string]any{
		"rating":    5,
		"status":    "finished",
		"updatedAt": doc.AddedAt.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	docs, err := ts.docs.QueryByOwner(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, docs[0].Rating)
	assert.Equal(t, domain.StatusFinished, docs[0].Status)

	resp = ts.api.Patch("/api/v1/owners/u1/books/book-missing", hdr, map[string]any{"rating": 1})
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp.Body.Bytes()).Code)

	resp = ts.api.Patch("/api/v1/owners/u1/books/"+doc.ID, hdr, map[string]any{"owner": "u2"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION", decodeError(t, resp.Body.Bytes()).Code)
}

func TestDelete(t *testing.T) {
	ts := setupTestServer(t, 100, 100)
	hdr := ts.bearer(t, "u1")
	doc := testDocument("u1", "The Fifth Season")
	require.Equal(t, http.StatusNoContent, ts.api.Put("/api/v1/owners/u1/books/"+doc.ID, hdr, doc).Code)

	resp := ts.api.Delete("/api/v1/owners/u1/books/"+doc.ID, hdr)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	resp = ts.api.Delete("/api/v1/owners/u1/books/"+doc.ID, hdr)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestBatchWrite(t *testing.T) {
	ts := setupTestServer(t, 100, 100)
	hdr := ts.bearer(t, "u1")

	a := testDocument("u1", "The Fifth Season")
	b := testDocument("u1", "The Obelisk Gate")
	stray := testDocument("u2", "The Stone Sky")

	resp := ts.api.Post("/api/v1/owners/u1/batch", hdr, DocumentsBody{Documents: []remote.Document{a, stray}})
	require.Equal(t, http.StatusForbidden, resp.Code)

	docs, err := ts.docs.QueryByOwner(t.Context(), "u1")
	require.NoError(t, err)
	assert.Empty(t, docs)

	resp = ts.api.Post("/api/v1/owners/u1/batch", hdr, DocumentsBody{Documents: []remote.Document{a, b}})
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	docs, err = ts.docs.QueryByOwner(t.Context(), "u1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, 0.01, 2)
	hdr := ts.bearer(t, "u1")

	for range 2 {
		require.Equal(t, http.StatusOK, ts.api.Get("/api/v1/owners/u1/books", hdr).Code)
	}
	resp := ts.api.Get("/api/v1/owners/u1/books", hdr)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, resp.Body.Bytes()).Code)

	// Buckets are per owner.
	require.Equal(t, http.StatusOK, ts.api.Get("/api/v1/owners/u2/books", ts.bearer(t, "u2")).Code)
}
