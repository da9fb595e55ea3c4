package playlist

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/pkg/logger"
)

// Fetcher downloads playlists from providers, throttled so a provider never
// sees more than the configured requests per minute.
type Fetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	url     string
}

func NewFetcher(cfg config.PlaylistConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimitRPM > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitRPM)), 1)
	}
	return &Fetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second).
			SetHeader("User-Agent", "m3u-dvr"),
		limiter: limiter,
		url:     cfg.URL,
	}
}

// Fetch downloads and parses the playlist at url, or the configured one
// when url is empty.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]job.Entry, error) {
	if url == "" {
		url = f.url
	}
	if url == "" {
		return nil, fmt.Errorf("no playlist url configured")
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("fetch playlist: HTTP %d", resp.StatusCode())
	}

	entries, err := Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	logger.Infof("📺 Playlist fetched: %d entries", len(entries))
	return entries, nil
}
