package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stenvall/tilecache/internal/core/httpclient"
	"github.com/stenvall/tilecache/internal/core/observability"
	"github.com/stenvall/tilecache/internal/osm"
	"github.com/stenvall/tilecache/internal/tile"
)

// tiles larger than this are treated as a broken upstream
const maxTileBytes = 16 << 20

type Option func(*HTTPProvider)

func WithClient(c *http.Client) Option {
	return func(p *HTTPProvider) { p.client = c }
}

func WithUserAgent(ua string) Option {
	return func(p *HTTPProvider) { p.userAgent = ua }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *HTTPProvider) { p.log = l }
}

type HTTPProvider struct {
	b         *osm.Builder
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

func NewHTTPProvider(b *osm.Builder, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		b:         b,
		userAgent: httpclient.DefaultUserAgent,
	}
	for _, o := range opts {
		o(p)
	}
	if p.client == nil {
		p.client = httpclient.NewOutbound(0)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Validate reports ErrOutOfRange for indices the server cannot serve.
func (p *HTTPProvider) Validate(idx tile.Index) error {
	_, err := p.b.Build(idx)
	return err
}

func (p *HTTPProvider) Fetch(ctx context.Context, idx tile.Index) ([]byte, error) {
	r, err := p.b.Build(idx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: tile %s: build request: %w", tile.ErrNetwork, idx, err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		observability.ObserveUpstreamLatency("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: tile %s from %s: %w", tile.ErrNetwork, idx, req.URL.Host, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.log.Warn("close response body", "err", cerr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		observability.ObserveUpstreamLatency("not_found", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: tile %s status=%d", tile.ErrNotFound, idx, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		observability.ObserveUpstreamLatency("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: tile %s status=%d body=%q",
			tile.ErrNetwork, idx, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		observability.ObserveUpstreamLatency("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: tile %s read: %w", tile.ErrNetwork, idx, err)
	}
	observability.ObserveUpstreamLatency("ok", time.Since(start).Seconds())
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: tile %s empty body", tile.ErrNotFound, idx)
	}
	if len(body) > maxTileBytes {
		return nil, fmt.Errorf("%w: tile %s exceeds %d bytes", tile.ErrNetwork, idx, maxTileBytes)
	}
	return body, nil
}
