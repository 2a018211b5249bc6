package lastfm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public Last.fm API endpoint.
	DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

	maxResponseBytes = 4 << 20
)

// HTTPUpstream performs raw Last.fm calls over HTTP. It satisfies
// gateway.Upstream.
type HTTPUpstream struct {
	apiKey     string
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// UpstreamOption configures an HTTPUpstream.
type UpstreamOption func(*HTTPUpstream)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) UpstreamOption {
	return func(u *HTTPUpstream) {
		if strings.TrimSpace(baseURL) != "" {
			u.baseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) UpstreamOption {
	return func(u *HTTPUpstream) {
		if client != nil {
			u.httpClient = client
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) UpstreamOption {
	return func(u *HTTPUpstream) {
		u.userAgent = userAgent
	}
}

// NewHTTPUpstream creates an upstream authenticated by apiKey.
func NewHTTPUpstream(apiKey string, options ...UpstreamOption) (*HTTPUpstream, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("new lastfm upstream: missing api key")
	}

	upstream := &HTTPUpstream{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		userAgent:  "fmgram/1.0",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, option := range options {
		option(upstream)
	}

	return upstream, nil
}

// Call issues one GET for operation. Non-2xx statuses are returned with the
// body and a nil error so the caller can classify them.
func (u *HTTPUpstream) Call(ctx context.Context, operation string, params map[string]string) (int, []byte, error) {
	query := url.Values{}
	for field, value := range params {
		query.Set(field, value)
	}
	query.Set("method", operation)
	query.Set("api_key", u.apiKey)
	query.Set("format", "json")

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request %s: %w", operation, err)
	}
	request.Header.Set("Accept", "application/json")
	if u.userAgent != "" {
		request.Header.Set("User-Agent", u.userAgent)
	}

	response, err := u.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("call %s: %w", operation, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return response.StatusCode, nil, fmt.Errorf("read %s response: %w", operation, err)
	}

	return response.StatusCode, body, nil
}
