package discogs

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
	// DefaultBaseURL is the public Discogs API endpoint.
	DefaultBaseURL = "https://api.discogs.com"

	defaultUserAgent = "fmgram/1.0 +https://github.com/fmgram"
	maxResponseBytes = 4 << 20
)

// HTTPUpstream performs raw Discogs calls. It satisfies gateway.Upstream.
type HTTPUpstream struct {
	token      string
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
			u.baseURL = strings.TrimRight(baseURL, "/")
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

// WithUserAgent sets the User-Agent header. Discogs rejects requests
// without one.
func WithUserAgent(userAgent string) UpstreamOption {
	return func(u *HTTPUpstream) {
		if strings.TrimSpace(userAgent) != "" {
			u.userAgent = userAgent
		}
	}
}

// NewHTTPUpstream creates an upstream authenticated by a personal token.
func NewHTTPUpstream(token string, options ...UpstreamOption) (*HTTPUpstream, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("new discogs upstream: missing token")
	}

	upstream := &HTTPUpstream{
		token:      token,
		baseURL:    DefaultBaseURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, option := range options {
		option(upstream)
	}

	return upstream, nil
}

// Call maps operation onto its REST path and issues one GET.
func (u *HTTPUpstream) Call(ctx context.Context, operation string, params map[string]string) (int, []byte, error) {
	path, query, err := route(operation, params)
	if err != nil {
		return 0, nil, err
	}

	target := u.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request %s: %w", operation, err)
	}
	request.Header.Set("Authorization", "Discogs token="+u.token)
	request.Header.Set("User-Agent", u.userAgent)
	request.Header.Set("Accept", "application/vnd.discogs.v2.discogs+json")

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

// route splits params into path segments and query values.
func route(operation string, params map[string]string) (string, url.Values, error) {
	query := url.Values{}
	pathParams := map[string]bool{}
	var path string

	switch operation {
	case OperationCollection:
		path = "/users/" + url.PathEscape(params["username"]) + "/collection/folders/0/releases"
		pathParams["username"] = true
	case OperationWantlist:
		path = "/users/" + url.PathEscape(params["username"]) + "/wants"
		pathParams["username"] = true
	case OperationProfile:
		path = "/users/" + url.PathEscape(params["username"])
		pathParams["username"] = true
	case OperationRelease:
		path = "/releases/" + url.PathEscape(params["id"])
		pathParams["id"] = true
	case OperationSearch:
		path = "/database/search"
	default:
		return "", nil, fmt.Errorf("discogs: unsupported operation %q", operation)
	}

	for field := range pathParams {
		if strings.TrimSpace(params[field]) == "" {
			return "", nil, fmt.Errorf("discogs %s: missing %s", operation, field)
		}
	}
	for field, value := range params {
		if pathParams[field] || field == "method" {
			continue
		}
		query.Set(field, value)
	}

	return path, query, nil
}
