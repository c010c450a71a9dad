package proxy

import (
	"net/http"
	"time"

	"github.com/papercomputeco/relay/pkg/content"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/imagecache"
	"github.com/papercomputeco/relay/pkg/llm/capability"
	"github.com/papercomputeco/relay/pkg/observe"
)

// DefaultRequestTimeout bounds one relayed upstream request, body included.
const DefaultRequestTimeout = 10 * time.Minute

// Config is the proxy server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the upstream provider base (e.g., "https://api.x.ai").
	// A missing scheme gets "https://" and a trailing slash is trimmed.
	UpstreamURL string

	// ProviderType selects the wire format parser (e.g., "xai", "openai").
	ProviderType string

	// APIKey is sent upstream when the client sends no Authorization header.
	APIKey string

	// AllowedModels restricts which models may be relayed. Empty allows all.
	AllowedModels []string

	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Gate decides which models take images directly. Defaults to
	// capability.Default().
	Gate *capability.Gate

	// ImageCache is an optional cache of fetched images shared by the
	// normalizer and the proxy-image route.
	ImageCache imagecache.Cache

	// Fetcher downloads images. Defaults to content.NewHTTPFetcher(nil).
	Fetcher content.Fetcher

	// Publisher is an optional event stream for persisted turns.
	Publisher eventstream.Publisher

	// HTTPClient is the upstream client. Deadlines come from RequestTimeout.
	HTTPClient *http.Client

	Metrics *observe.Metrics
}
