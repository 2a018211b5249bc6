// Package discogs is a typed client for the Discogs record database. Calls
// go through a cache-aware Fetcher, normally *gateway.Gateway.
package discogs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"fmgram/pkg/gateway"
)

// Operation names. They double as cache TTL keys.
const (
	OperationCollection = "discogs.collection"
	OperationWantlist   = "discogs.wantlist"
	OperationSearch     = "discogs.search"
	OperationRelease    = "discogs.release"
	OperationProfile    = "discogs.profile"

	defaultPerPage = 50
	maxPerPage     = 100
)

// ErrNotFound reports an unknown user or release.
var ErrNotFound = errors.New("discogs: not found")

// Fetcher returns the raw payload for one API operation.
type Fetcher interface {
	Fetch(ctx context.Context, operation string, params map[string]string) ([]byte, error)
}

// Client is a typed Discogs client.
type Client struct {
	fetcher Fetcher
}

// NewClient creates a client over fetcher.
func NewClient(fetcher Fetcher) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("new discogs client: nil fetcher")
	}

	return &Client{fetcher: fetcher}, nil
}

// Release is a release summary as it appears in collections, wantlists and
// release lookups.
type Release struct {
	ID      int64
	Title   string
	Artists []string
	Year    int
	Formats []string
	Labels  []string
	Genres  []string
	URL     string
}

// Artist joins the credited artist names.
func (r Release) Artist() string {
	return strings.Join(r.Artists, ", ")
}

// Listing is one page of releases.
type Listing struct {
	Items []Release
	Page  int
	Pages int
	Total int
}

// SearchResult is one database search hit.
type SearchResult struct {
	ID    int64
	Type  string
	Title string
	Year  string
	URL   string
}

// Profile is a public user profile.
type Profile struct {
	Username        string
	Name            string
	URL             string
	CollectionCount int
	WantlistCount   int
}

// Collection lists releases in the user's "All" folder.
func (c *Client) Collection(ctx context.Context, username string, page int, perPage int) (Listing, error) {
	return c.listing(ctx, OperationCollection, username, page, perPage)
}

// Wantlist lists releases the user wants.
func (c *Client) Wantlist(ctx context.Context, username string, page int, perPage int) (Listing, error) {
	return c.listing(ctx, OperationWantlist, username, page, perPage)
}

// Search queries the database. kind may be empty or one of release,
// master, artist and label.
func (c *Client) Search(ctx context.Context, query string, kind string, page int, perPage int) ([]SearchResult, int, error) {
	params := pageParams(page, perPage)
	params["q"] = query
	if kind != "" {
		params["type"] = kind
	}

	root, err := c.call(ctx, OperationSearch, params)
	if err != nil {
		return nil, 0, err
	}

	results := root.Get("results").Array()
	hits := make([]SearchResult, 0, len(results))
	for _, result := range results {
		hits = append(hits, SearchResult{
			ID:    result.Get("id").Int(),
			Type:  result.Get("type").String(),
			Title: result.Get("title").String(),
			Year:  result.Get("year").String(),
			URL:   absoluteURL(result.Get("uri").String()),
		})
	}

	return hits, int(root.Get("pagination.pages").Int()), nil
}

// Release fetches one release by ID.
func (c *Client) Release(ctx context.Context, id int64) (Release, error) {
	if id <= 0 {
		return Release{}, fmt.Errorf("discogs release %d: %w", id, ErrNotFound)
	}
	root, err := c.call(ctx, OperationRelease, map[string]string{"id": strconv.FormatInt(id, 10)})
	if err != nil {
		return Release{}, err
	}

	release := parseRelease(root)
	release.URL = absoluteURL(root.Get("uri").String())

	return release, nil
}

// Profile fetches a user's public profile.
func (c *Client) Profile(ctx context.Context, username string) (Profile, error) {
	root, err := c.call(ctx, OperationProfile, map[string]string{"username": username})
	if err != nil {
		return Profile{}, err
	}

	return Profile{
		Username:        root.Get("username").String(),
		Name:            root.Get("name").String(),
		URL:             root.Get("uri").String(),
		CollectionCount: int(root.Get("num_collection").Int()),
		WantlistCount:   int(root.Get("num_wantlist").Int()),
	}, nil
}

func (c *Client) listing(ctx context.Context, operation string, username string, page int, perPage int) (Listing, error) {
	params := pageParams(page, perPage)
	params["username"] = username

	root, err := c.call(ctx, operation, params)
	if err != nil {
		return Listing{}, err
	}

	field := "releases"
	if operation == OperationWantlist {
		field = "wants"
	}
	entries := root.Get(field).Array()
	listing := Listing{
		Items: make([]Release, 0, len(entries)),
		Page:  int(root.Get("pagination.page").Int()),
		Pages: int(root.Get("pagination.pages").Int()),
		Total: int(root.Get("pagination.items").Int()),
	}
	for _, entry := range entries {
		release := parseRelease(entry.Get("basic_information"))
		if release.ID == 0 {
			release.ID = entry.Get("id").Int()
		}
		release.URL = releaseURL(release.ID)
		listing.Items = append(listing.Items, release)
	}

	return listing, nil
}

func (c *Client) call(ctx context.Context, operation string, params map[string]string) (gjson.Result, error) {
	payload, err := c.fetcher.Fetch(ctx, operation, params)
	if err != nil {
		if fetchErr, ok := gateway.AsFetchError(err); ok && fetchErr.StatusCode == http.StatusNotFound {
			return gjson.Result{}, fmt.Errorf("%s: %w: %w", operation, ErrNotFound, err)
		}
		return gjson.Result{}, fmt.Errorf("%s: %w", operation, err)
	}
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, fmt.Errorf("%s: invalid json payload", operation)
	}

	return gjson.ParseBytes(payload), nil
}

func parseRelease(node gjson.Result) Release {
	return Release{
		ID:      node.Get("id").Int(),
		Title:   node.Get("title").String(),
		Artists: names(node.Get("artists.#.name")),
		Year:    int(node.Get("year").Int()),
		Formats: names(node.Get("formats.#.name")),
		Labels:  names(node.Get("labels.#.name")),
		Genres:  names(node.Get("genres")),
	}
}

func names(node gjson.Result) []string {
	var values []string
	for _, value := range node.Array() {
		if name := strings.TrimSpace(value.String()); name != "" {
			values = append(values, name)
		}
	}

	return values
}

func pageParams(page int, perPage int) map[string]string {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	return map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(perPage),
	}
}

func releaseURL(id int64) string {
	if id <= 0 {
		return ""
	}

	return "https://www.discogs.com/release/" + strconv.FormatInt(id, 10)
}

func absoluteURL(uri string) string {
	if uri == "" || strings.HasPrefix(uri, "http") {
		return uri
	}

	return "https://www.discogs.com" + uri
}
