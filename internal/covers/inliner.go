// Package covers turns cover image URLs into self-contained data URLs so a
// book record keeps its cover when it moves between devices.
package covers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
)

const (
	defaultMaxWidth = 400
	defaultMaxBytes = 5 << 20
	fetchTimeout    = 15 * time.Second
	jpegQuality     = 85
)

// Inliner fetches cover images and embeds them as base64 data URLs.
type Inliner struct {
	httpClient *http.Client
	maxWidth   int
	maxBytes   int64
	logger     *slog.Logger
}

// Option configures an Inliner.
type Option func(*Inliner)

// WithHTTPClient replaces the client used to fetch covers.
func WithHTTPClient(hc *http.Client) Option {
	return func(in *Inliner) { in.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Inliner) { in.logger = logger }
}

// New creates an Inliner. Images wider than maxWidth are scaled down and
// images larger than maxBytes are left as URLs. Non-positive values use the
// defaults.
func New(maxWidth int, maxBytes int64, opts ...Option) *Inliner {
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	in := &Inliner{
		httpClient: &http.Client{Timeout: fetchTimeout},
		maxWidth:   maxWidth,
		maxBytes:   maxBytes,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Inline returns url as a data URL. Data URLs and empty strings come back
// unchanged, and any failure falls back to the original url.
func (in *Inliner) Inline(ctx context.Context, url string) string {
	if url == "" || strings.HasPrefix(url, "data:") {
		return url
	}

	data, err := in.fetch(ctx, url)
	if err != nil {
		in.logger.Warn("cover inlining failed, keeping url", "url", url, "error", err)
		return url
	}

	dataURL, err := in.encode(data)
	if err != nil {
		in.logger.Warn("cover inlining failed, keeping url", "url", url, "error", err)
		return url
	}

	in.logger.Debug("inlined cover", "url", url, "size", len(dataURL))
	return dataURL
}

func (in *Inliner) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := in.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, in.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if int64(len(data)) > in.maxBytes {
		return nil, fmt.Errorf("cover exceeds %d bytes", in.maxBytes)
	}
	return data, nil
}

// encode sniffs data, scales wide JPEG and PNG images down to maxWidth and
// returns the data URL. Other image types are embedded as they are.
func (in *Inliner) encode(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("not an image: %s", mt.String())
	}

	if mt.Is("image/jpeg") || mt.Is("image/png") {
		scaled, err := in.downscale(data, mt.Is("image/png"))
		if err != nil {
			return "", err
		}
		data = scaled
	}

	mime, _, _ := strings.Cut(mt.String(), ";")
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (in *Inliner) downscale(data []byte, isPNG bool) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= in.maxWidth {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	height := max(cfg.Height*in.maxWidth/cfg.Width, 1)
	dst := image.NewRGBA(image.Rect(0, 0, in.maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if isPNG {
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if buf.Len() == 0 {
		return nil, errors.New("encoded image is empty")
	}
	return buf.Bytes(), nil
}
