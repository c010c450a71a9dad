package content

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	imageAccept      = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"

	defaultImageType = "image/jpeg"

	// MaxImageBytes caps a single fetched image. Larger images fail.
	MaxImageBytes = 20 << 20
)

// Fetcher retrieves remote images.
type Fetcher interface {
	// FetchDataURI downloads url and returns it base64-encoded as a data-URI.
	FetchDataURI(ctx context.Context, url string) (string, error)

	// FetchText returns the body of url as text.
	FetchText(ctx context.Context, url string) (string, error)
}

// HTTPFetcher implements Fetcher over net/http, presenting browser-like
// headers so image hosts do not reject the request.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher using client, or a client with a 30 second
// timeout when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) FetchDataURI(ctx context.Context, url string) (string, error) {
	body, contentType, err := f.get(ctx, url)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(contentType, body), nil
}

func (f *HTTPFetcher) FetchText(ctx context.Context, url string) (string, error) {
	body, _, err := f.get(ctx, url)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating image request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", imageAccept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("failed to fetch image: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if resp.ContentLength > MaxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes (Content-Length %d)", MaxImageBytes, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading image body: %w", err)
	}
	if len(body) > MaxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// EncodeDataURI returns data as a base64 data-URI. An empty or unparsable
// content type is treated as image/jpeg.
func EncodeDataURI(contentType string, data []byte) string {
	mediaType := defaultImageType
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
