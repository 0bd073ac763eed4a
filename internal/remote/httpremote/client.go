// Package httpremote is a remote.Adapter backed by a shelfd document server.
// Requests are plain JSON over HTTP; subscriptions are a websocket stream of
// owner snapshots.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/identity"
	"github.com/shelfieapp/shelfie/internal/remote"
)

// TokenSource returns the bearer token to use for owner's documents.
// identity.Subject implements it.
type TokenSource interface {
	Token(ctx context.Context, owner string) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context, owner string) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context, owner string) (string, error) { return f(ctx, owner) }

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return TokenFunc(func(context.Context, string) (string, error) { return token, nil })
}

// Client talks to a shelfd server.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	dialer  *websocket.Dialer
	logger  *slog.Logger

	reconnectDelay time.Duration
}

var (
	_ remote.Adapter    = (*Client)(nil)
	_ identity.Verifier = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnectDelay sets how long a dropped stream waits before redialing.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// New creates a client for the server at baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger:         slog.New(slog.DiscardHandler),
		reconnectDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type documentsBody struct {
	Documents []remote.Document `json:"documents"`
}

type whoAmIBody struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// QueryByOwner implements remote.Adapter.
func (c *Client) QueryByOwner(ctx context.Context, owner string) ([]remote.Document, error) {
	var body documentsBody
	if err := c.do(ctx, owner, http.MethodGet, ownerPath(owner, "books"), nil, &body); err != nil {
		return nil, err
	}
	if body.Documents == nil {
		body.Documents = []remote.Document{}
	}
	return body.Documents, nil
}

// Write implements remote.Adapter.
func (c *Client) Write(ctx context.Context, doc remote.Document) error {
	return c.do(ctx, doc.Owner, http.MethodPut, ownerPath(doc.Owner, "books", doc.ID), doc, nil)
}

// Merge implements remote.Adapter.
func (c *Client) Merge(ctx context.Context, owner, id string, patch remote.Patch) error {
	return c.do(ctx, owner, http.MethodPatch, ownerPath(owner, "books", id), patch, nil)
}

// Delete implements remote.Adapter.
func (c *Client) Delete(ctx context.Context, owner, id string) error {
	return c.do(ctx, owner, http.MethodDelete, ownerPath(owner, "books", id), nil, nil)
}

// BatchWrite implements remote.Adapter. Every document must share one owner
// because the server commits a batch per owner.
func (c *Client) BatchWrite(ctx context.Context, docs []remote.Document) error {
	if len(docs) == 0 {
		return nil
	}
	owner := docs[0].Owner
	for _, d := range docs[1:] {
		if d.Owner != owner {
			return domainerrors.Validation("batch spans more than one owner")
		}
	}
	return c.do(ctx, owner, http.MethodPost, ownerPath(owner, "batch"), documentsBody{Documents: docs}, nil)
}

// Verify implements identity.Verifier by asking the server who token belongs to.
func (c *Client) Verify(ctx context.Context, token string) (identity.Identity, error) {
	var body whoAmIBody
	if err := c.send(ctx, token, http.MethodGet, "/api/v1/whoami", nil, &body); err != nil {
		return identity.Identity{}, err
	}
	return identity.Identity{UserID: body.UserID, Email: body.Email}, nil
}

func (c *Client) do(ctx context.Context, owner, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx, owner)
	if err != nil {
		return err
	}
	return c.send(ctx, token, method, path, in, out)
}

func (c *Client) send(ctx context.Context, token, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domainerrors.RemoteUnavailable(err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domainerrors.RemoteUnavailable(err, "decode response")
	}
	return nil
}

// decodeError turns an error response into a domain error. Server-side
// failures are always REMOTE_UNAVAILABLE to the caller.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	_ = json.Unmarshal(data, &body)

	code := domainerrors.Code(body.Code)
	if code == "" || resp.StatusCode >= http.StatusInternalServerError {
		code = domainerrors.CodeForStatus(resp.StatusCode)
	}
	msg := body.Message
	if msg == "" {
		msg = fmt.Sprintf("remote returned %s", resp.Status)
	}

	err := domainerrors.Wrap(errors.New(resp.Status), code, msg)
	if body.Details != nil {
		err = err.WithDetails(body.Details)
	}
	return err
}

func ownerPath(owner string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/api/v1/owners/")
	b.WriteString(url.PathEscape(owner))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}
