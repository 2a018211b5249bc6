package lastfm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"fmgram/pkg/gateway"
)

const (
	// MaxPageSize is the largest page Last.fm serves for chart calls.
	MaxPageSize = 1000

	defaultLimit = 10
)

// Fetcher returns the raw payload for one API operation.
type Fetcher interface {
	Fetch(ctx context.Context, operation string, params map[string]string) ([]byte, error)
}

// Client is a typed Last.fm client.
type Client struct {
	fetcher Fetcher
}

// NewClient creates a client over fetcher.
func NewClient(fetcher Fetcher) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("new lastfm client: nil fetcher")
	}

	return &Client{fetcher: fetcher}, nil
}

// UserInfo is a profile summary.
type UserInfo struct {
	Name        string
	RealName    string
	URL         string
	PlayCount   int64
	ArtistCount int64
	TrackCount  int64
	AlbumCount  int64
}

// Artist is one artist row in a chart or search result.
type Artist struct {
	Name      string
	URL       string
	PlayCount int64
	Listeners int64
}

// Album is one album row.
type Album struct {
	Name      string
	Artist    string
	URL       string
	PlayCount int64
}

// Track is one track row. NowPlaying is set for the scrobble in progress.
type Track struct {
	Name       string
	Artist     string
	Album      string
	URL        string
	PlayCount  int64
	Listeners  int64
	NowPlaying bool
	PlayedAt   time.Time
}

// Chart is one page of a ranked list.
type Chart[T any] struct {
	Items      []T
	Page       int
	TotalPages int
	Total      int
}

// ArtistInfo is artist detail. UserPlayCount is filled when a username is
// supplied.
type ArtistInfo struct {
	Name          string
	URL           string
	Tags          []string
	Listeners     int64
	PlayCount     int64
	UserPlayCount int64
}

// TrackInfo is track detail.
type TrackInfo struct {
	Name          string
	Artist        string
	Album         string
	URL           string
	Listeners     int64
	PlayCount     int64
	UserPlayCount int64
}

// AlbumInfo is album detail.
type AlbumInfo struct {
	Name          string
	Artist        string
	URL           string
	Tags          []string
	Listeners     int64
	PlayCount     int64
	UserPlayCount int64
}

// UserInfo fetches user.getinfo.
func (c *Client) UserInfo(ctx context.Context, username string) (UserInfo, error) {
	root, err := c.call(ctx, "user.getinfo", map[string]string{"user": username})
	if err != nil {
		return UserInfo{}, err
	}
	user := root.Get("user")
	if !user.Exists() {
		return UserInfo{}, fmt.Errorf("user.getinfo %s: %w", username, ErrNotFound)
	}

	return UserInfo{
		Name:        user.Get("name").String(),
		RealName:    user.Get("realname").String(),
		URL:         user.Get("url").String(),
		PlayCount:   user.Get("playcount").Int(),
		ArtistCount: user.Get("artist_count").Int(),
		TrackCount:  user.Get("track_count").Int(),
		AlbumCount:  user.Get("album_count").Int(),
	}, nil
}

// TopArtists fetches one page of user.gettopartists.
func (c *Client) TopArtists(ctx context.Context, username string, period Period, limit int, page int) (Chart[Artist], error) {
	return fetchChart(ctx, c, "user.gettopartists", "topartists", "artist", chartParams(username, period, limit, page), parseArtist)
}

// TopAlbums fetches one page of user.gettopalbums.
func (c *Client) TopAlbums(ctx context.Context, username string, period Period, limit int, page int) (Chart[Album], error) {
	return fetchChart(ctx, c, "user.gettopalbums", "topalbums", "album", chartParams(username, period, limit, page), parseAlbum)
}

// TopTracks fetches one page of user.gettoptracks.
func (c *Client) TopTracks(ctx context.Context, username string, period Period, limit int, page int) (Chart[Track], error) {
	return fetchChart(ctx, c, "user.gettoptracks", "toptracks", "track", chartParams(username, period, limit, page), parseTrack)
}

// AllTopArtists walks user.gettopartists until the last page or maxPages.
// A maxPages of zero means no page limit.
func (c *Client) AllTopArtists(ctx context.Context, username string, period Period, pageSize int, maxPages int) ([]Artist, error) {
	return collectPages(ctx, pageSize, maxPages, func(ctx context.Context, page int) (Chart[Artist], error) {
		return c.TopArtists(ctx, username, period, pageSize, page)
	})
}

// AllTopAlbums walks user.gettopalbums.
func (c *Client) AllTopAlbums(ctx context.Context, username string, period Period, pageSize int, maxPages int) ([]Album, error) {
	return collectPages(ctx, pageSize, maxPages, func(ctx context.Context, page int) (Chart[Album], error) {
		return c.TopAlbums(ctx, username, period, pageSize, page)
	})
}

// AllTopTracks walks user.gettoptracks.
func (c *Client) AllTopTracks(ctx context.Context, username string, period Period, pageSize int, maxPages int) ([]Track, error) {
	return collectPages(ctx, pageSize, maxPages, func(ctx context.Context, page int) (Chart[Track], error) {
		return c.TopTracks(ctx, username, period, pageSize, page)
	})
}

// RecentTracks fetches one page of user.getrecenttracks. A track in
// progress is reported first with NowPlaying set.
func (c *Client) RecentTracks(ctx context.Context, username string, limit int, page int) (Chart[Track], error) {
	params := map[string]string{"user": username, "limit": strconv.Itoa(normalizeLimit(limit))}
	if page > 1 {
		params["page"] = strconv.Itoa(page)
	}

	return fetchChart(ctx, c, "user.getrecenttracks", "recenttracks", "track", params, parseTrack)
}

// NowPlaying returns the most recent scrobble and whether it is still
// playing. found is false when the user has no scrobbles.
func (c *Client) NowPlaying(ctx context.Context, username string) (track Track, found bool, err error) {
	recent, err := c.RecentTracks(ctx, username, 1, 1)
	if err != nil {
		return Track{}, false, err
	}
	if len(recent.Items) == 0 {
		return Track{}, false, nil
	}

	return recent.Items[0], true, nil
}

// LovedTracks fetches user.getlovedtracks.
func (c *Client) LovedTracks(ctx context.Context, username string, limit int) ([]Track, error) {
	chart, err := fetchChart(ctx, c, "user.getlovedtracks", "lovedtracks", "track", map[string]string{
		"user":  username,
		"limit": strconv.Itoa(normalizeLimit(limit)),
	}, parseTrack)
	if err != nil {
		return nil, err
	}

	return chart.Items, nil
}

// SearchArtist fetches artist.search.
func (c *Client) SearchArtist(ctx context.Context, query string, limit int) ([]Artist, error) {
	return search(ctx, c, "artist.search", "artist", query, limit, parseArtist)
}

// SearchTrack fetches track.search.
func (c *Client) SearchTrack(ctx context.Context, query string, limit int) ([]Track, error) {
	return search(ctx, c, "track.search", "track", query, limit, parseTrack)
}

// SearchAlbum fetches album.search.
func (c *Client) SearchAlbum(ctx context.Context, query string, limit int) ([]Album, error) {
	return search(ctx, c, "album.search", "album", query, limit, parseAlbum)
}

// ArtistTopAlbums fetches artist.gettopalbums.
func (c *Client) ArtistTopAlbums(ctx context.Context, artist string, limit int) ([]Album, error) {
	chart, err := fetchChart(ctx, c, "artist.gettopalbums", "topalbums", "album", map[string]string{
		"artist": artist,
		"limit":  strconv.Itoa(normalizeLimit(limit)),
	}, parseAlbum)
	if err != nil {
		return nil, err
	}

	return chart.Items, nil
}

// ArtistInfo fetches artist.getinfo. When username is set the result
// carries that user's play count.
func (c *Client) ArtistInfo(ctx context.Context, artist string, username string) (ArtistInfo, error) {
	params := map[string]string{"artist": artist, "autocorrect": "1"}
	if username != "" {
		params["username"] = username
	}
	root, err := c.call(ctx, "artist.getinfo", params)
	if err != nil {
		return ArtistInfo{}, err
	}
	node := root.Get("artist")
	if !node.Exists() {
		return ArtistInfo{}, fmt.Errorf("artist.getinfo %s: %w", artist, ErrNotFound)
	}

	return ArtistInfo{
		Name:          node.Get("name").String(),
		URL:           node.Get("url").String(),
		Tags:          tagNames(node.Get("tags.tag")),
		Listeners:     node.Get("stats.listeners").Int(),
		PlayCount:     node.Get("stats.playcount").Int(),
		UserPlayCount: node.Get("stats.userplaycount").Int(),
	}, nil
}

// TrackInfo fetches track.getinfo.
func (c *Client) TrackInfo(ctx context.Context, artist string, track string, username string) (TrackInfo, error) {
	params := map[string]string{"artist": artist, "track": track, "autocorrect": "1"}
	if username != "" {
		params["username"] = username
	}
	root, err := c.call(ctx, "track.getinfo", params)
	if err != nil {
		return TrackInfo{}, err
	}
	node := root.Get("track")
	if !node.Exists() {
		return TrackInfo{}, fmt.Errorf("track.getinfo %s - %s: %w", artist, track, ErrNotFound)
	}

	return TrackInfo{
		Name:          node.Get("name").String(),
		Artist:        artistName(node.Get("artist")),
		Album:         node.Get("album.title").String(),
		URL:           node.Get("url").String(),
		Listeners:     node.Get("listeners").Int(),
		PlayCount:     node.Get("playcount").Int(),
		UserPlayCount: node.Get("userplaycount").Int(),
	}, nil
}

// AlbumInfo fetches album.getinfo.
func (c *Client) AlbumInfo(ctx context.Context, artist string, album string, username string) (AlbumInfo, error) {
	params := map[string]string{"artist": artist, "album": album, "autocorrect": "1"}
	if username != "" {
		params["username"] = username
	}
	root, err := c.call(ctx, "album.getinfo", params)
	if err != nil {
		return AlbumInfo{}, err
	}
	node := root.Get("album")
	if !node.Exists() {
		return AlbumInfo{}, fmt.Errorf("album.getinfo %s - %s: %w", artist, album, ErrNotFound)
	}

	return AlbumInfo{
		Name:          node.Get("name").String(),
		Artist:        artistName(node.Get("artist")),
		URL:           node.Get("url").String(),
		Tags:          tagNames(node.Get("tags.tag")),
		Listeners:     node.Get("listeners").Int(),
		PlayCount:     node.Get("playcount").Int(),
		UserPlayCount: node.Get("userplaycount").Int(),
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params map[string]string) (gjson.Result, error) {
	payload, err := c.fetcher.Fetch(ctx, method, params)
	if err != nil {
		var fetchErr *gateway.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Body != "" {
			if apiErr := parseAPIError(method, []byte(fetchErr.Body)); apiErr != nil {
				apiErr.Cause = err
				return gjson.Result{}, apiErr
			}
		}
		return gjson.Result{}, fmt.Errorf("%s: %w", method, err)
	}
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, fmt.Errorf("%s: invalid json payload", method)
	}
	if apiErr := parseAPIError(method, payload); apiErr != nil {
		return gjson.Result{}, apiErr
	}

	return gjson.ParseBytes(payload), nil
}

func fetchChart[T any](
	ctx context.Context,
	c *Client,
	method string,
	container string,
	itemField string,
	params map[string]string,
	parse func(gjson.Result) T,
) (Chart[T], error) {
	root, err := c.call(ctx, method, params)
	if err != nil {
		return Chart[T]{}, err
	}
	node := root.Get(container)
	if !node.Exists() {
		return Chart[T]{}, nil
	}

	chart := Chart[T]{Items: parseList(node.Get(itemField), parse)}
	attr := specialField(node, "@attr")
	chart.Page = int(attr.Get("page").Int())
	chart.TotalPages = int(firstExisting(attr, "totalPages", "totalpages").Int())
	chart.Total = int(attr.Get("total").Int())

	return chart, nil
}

func search[T any](
	ctx context.Context,
	c *Client,
	method string,
	entity string,
	query string,
	limit int,
	parse func(gjson.Result) T,
) ([]T, error) {
	root, err := c.call(ctx, method, map[string]string{
		entity:  query,
		"limit": strconv.Itoa(normalizeLimit(limit)),
	})
	if err != nil {
		return nil, err
	}

	return parseList(root.Get("results."+entity+"matches."+entity), parse), nil
}

func collectPages[T any](
	ctx context.Context,
	pageSize int,
	maxPages int,
	fetch func(context.Context, int) (Chart[T], error),
) ([]T, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = 200
	}

	var all []T
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		chart, err := fetch(ctx, page)
		if err != nil {
			return all, err
		}
		all = append(all, chart.Items...)

		if chart.TotalPages > 0 && page >= chart.TotalPages {
			break
		}
		if len(chart.Items) < pageSize {
			break
		}
	}

	return all, nil
}

func chartParams(username string, period Period, limit int, page int) map[string]string {
	params := map[string]string{
		"user":   username,
		"period": period.APIValue(),
		"limit":  strconv.Itoa(normalizeLimit(limit)),
	}
	if page > 1 {
		params["page"] = strconv.Itoa(page)
	}

	return params
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}

	return limit
}

// parseList accepts both list and single-object encodings, since Last.fm
// collapses one-element lists into a bare object.
func parseList[T any](node gjson.Result, parse func(gjson.Result) T) []T {
	switch {
	case node.IsArray():
		items := node.Array()
		parsed := make([]T, 0, len(items))
		for _, item := range items {
			parsed = append(parsed, parse(item))
		}
		return parsed
	case node.IsObject():
		return []T{parse(node)}
	default:
		return nil
	}
}

func parseArtist(node gjson.Result) Artist {
	return Artist{
		Name:      node.Get("name").String(),
		URL:       node.Get("url").String(),
		PlayCount: node.Get("playcount").Int(),
		Listeners: node.Get("listeners").Int(),
	}
}

func parseAlbum(node gjson.Result) Album {
	return Album{
		Name:      node.Get("name").String(),
		Artist:    artistName(node.Get("artist")),
		URL:       node.Get("url").String(),
		PlayCount: node.Get("playcount").Int(),
	}
}

func parseTrack(node gjson.Result) Track {
	track := Track{
		Name:      node.Get("name").String(),
		Artist:    artistName(node.Get("artist")),
		Album:     specialField(node.Get("album"), "#text").String(),
		URL:       node.Get("url").String(),
		PlayCount: node.Get("playcount").Int(),
		Listeners: node.Get("listeners").Int(),
	}
	if specialField(node, "@attr").Get("nowplaying").Bool() {
		track.NowPlaying = true
	}
	if uts := node.Get("date.uts").Int(); uts > 0 {
		track.PlayedAt = time.Unix(uts, 0).UTC()
	}

	return track
}

// artistName reads an artist reference that may be a plain string, an
// object with name, or an object with #text.
func artistName(node gjson.Result) string {
	if !node.IsObject() {
		return node.String()
	}
	if name := node.Get("name").String(); name != "" {
		return name
	}

	return specialField(node, "#text").String()
}

func tagNames(node gjson.Result) []string {
	tags := parseList(node, func(tag gjson.Result) string {
		return strings.TrimSpace(tag.Get("name").String())
	})
	names := tags[:0]
	for _, tag := range tags {
		if tag != "" {
			names = append(names, tag)
		}
	}
	if len(names) == 0 {
		return nil
	}

	return names
}

// specialField reads keys such as "@attr" and "#text" whose leading rune
// collides with gjson path syntax.
func specialField(node gjson.Result, key string) gjson.Result {
	if !node.IsObject() {
		return gjson.Result{}
	}

	return node.Map()[key]
}

func firstExisting(node gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if value := node.Get(path); value.Exists() {
			return value
		}
	}

	return gjson.Result{}
}
