// Package postprocess runs the best-effort steps applied to a generated image
// reference: link shortening and rehosting. Neither step ever fails the
// request; on any error the caller keeps the original reference.
package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/ncecere/open_image_gateway/internal/models"
)

// MinShortenLength is the shortest URL worth shortening.
const MinShortenLength = 30

const slugAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Shortener posts long URLs to a link-shortening service.
type Shortener struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	slug    func() string
}

func NewShortener(client *http.Client, timeout time.Duration, logger *slog.Logger) *Shortener {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Shortener{client: client, timeout: timeout, logger: logger, slug: randomSlug}
}

func randomSlug() string {
	var b [3]byte
	for i := range b {
		b[i] = slugAlphabet[rand.IntN(len(slugAlphabet))]
	}
	return string(b[:])
}

// Shorten returns a short link for url, or url itself when disabled,
// too short, misconfigured, or on any failure.
func (s *Shortener) Shorten(ctx context.Context, cfg models.ShortLinkSettings, url string) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if !cfg.Enabled || len(url) < MinShortenLength || base == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return url
	}
	slug := s.slug()
	payload, err := json.Marshal(map[string]string{"url": url, "slug": slug})
	if err != nil {
		return url
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, base+"/api/link/create", bytes.NewReader(payload))
	if err != nil {
		return url
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("shortener request failed", slog.String("error", err.Error()))
		return url
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		s.logger.Warn("shortener rejected url", slog.Int("status", resp.StatusCode))
		return url
	}
	return base + "/" + slug
}
