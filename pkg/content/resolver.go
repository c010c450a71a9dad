// Package content turns image references in message content into values the
// upstream provider can embed: data-URIs fetched directly, through the relay's
// proxy-image route, or from a process-wide cache.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/papercomputeco/relay/pkg/imagecache"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/observe"
	"github.com/papercomputeco/relay/pkg/utils"
)

// ProxyImagePath is the relay route that fetches an image on the caller's
// behalf and answers with its data-URI as text/plain.
const ProxyImagePath = "/proxy-image"

// Resolver resolves image references. It is safe for concurrent use.
type Resolver struct {
	cache     imagecache.Cache
	fetcher   Fetcher
	proxyBase string
	logger    *slog.Logger
	metrics   *observe.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProxyBase sets the base URL of the relay serving ProxyImagePath. When
// empty, the proxy fallback is skipped.
func WithProxyBase(base string) Option {
	return func(r *Resolver) {
		r.proxyBase = strings.TrimSuffix(base, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver returns a Resolver over cache and fetcher.
func NewResolver(cache imagecache.Cache, fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		cache:   cache,
		fetcher: fetcher,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = observe.OrDefault(r.metrics)
	return r
}

// Resolve replaces every non data-URI image reference in c with an embeddable
// data-URI. Images that cannot be resolved are dropped and a note naming the
// URL and the failure is appended as a text part. Resolve never fails the
// whole content because of a single image.
func (r *Resolver) Resolve(ctx context.Context, c llm.Content) llm.Content {
	parts, ok := c.(llm.PartSequence)
	if !ok {
		return c
	}

	out := make(llm.PartSequence, 0, len(parts))
	var notes []llm.ContentPart
	for _, p := range parts {
		if !p.IsImage() || IsDataURI(p.ImageURL.URL) {
			out = append(out, p)
			continue
		}

		resolved, err := r.ResolveURL(ctx, p.ImageURL.URL)
		if err != nil {
			r.metrics.ImageFailures.Add(ctx, 1)
			r.logger.Warn("dropping unresolvable image", "url", p.ImageURL.URL, "error", err)
			notes = append(notes, llm.TextPart(FailureNote(p.ImageURL.URL, err)))
			continue
		}

		img := llm.ImagePart(resolved)
		img.ImageURL.Detail = p.ImageURL.Detail
		out = append(out, img)
	}

	out = append(out, notes...)
	if len(out) == 0 {
		return llm.PlainText("")
	}
	return out
}

// ResolveURL returns an embeddable form of rawURL: the cached value, a freshly
// fetched data-URI, or the data-URI served by the relay proxy. Successful
// results are cached by source URL.
func (r *Resolver) ResolveURL(ctx context.Context, rawURL string) (string, error) {
	if IsDataURI(rawURL) {
		return rawURL, nil
	}

	if v, ok := r.cached(ctx, rawURL); ok {
		return v, nil
	}

	v, err := r.fetcher.FetchDataURI(ctx, rawURL)
	if err != nil && r.proxyBase != "" {
		r.logger.Debug("direct image fetch failed, trying proxy", "url", rawURL, "error", err)

		var proxyErr error
		v, proxyErr = r.fetcher.FetchText(ctx, r.proxyURL(rawURL))
		if proxyErr == nil && IsDataURI(v) {
			err = nil
		} else if proxyErr == nil {
			err = errors.New("proxy returned a non data-URI body")
		} else {
			err = fmt.Errorf("%w; proxy: %w", err, proxyErr)
		}
	}
	if err != nil {
		return "", err
	}

	r.store(ctx, rawURL, v)
	return v, nil
}

func (r *Resolver) cached(ctx context.Context, key string) (string, bool) {
	if r.cache == nil {
		return "", false
	}

	v, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("image cache lookup failed", "error", err)
		return "", false
	}
	r.metrics.RecordCacheLookup(ctx, ok)
	return v, ok
}

func (r *Resolver) store(ctx context.Context, key, value string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Put(ctx, key, value); err != nil {
		r.logger.Warn("image cache write failed", "error", err)
	}
}

func (r *Resolver) proxyURL(rawURL string) string {
	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("cacheId", CacheID(rawURL))
	return r.proxyBase + ProxyImagePath + "?" + q.Encode()
}

// IsDataURI reports whether s is already an inline data-URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// CacheID returns the last path segment of rawURL without its extension.
func CacheID(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// FailureNote is the text that replaces an image that could not be loaded.
func FailureNote(rawURL string, err error) string {
	return fmt.Sprintf("[image failed to load] original URL: %s. error: %v", utils.Truncate(rawURL, 256), err)
}
