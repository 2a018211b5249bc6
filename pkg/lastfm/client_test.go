package lastfm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"fmgram/pkg/gateway"
)

type stubFetcher struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	calls     []map[string]string
}

func (s *stubFetcher) Fetch(_ context.Context, operation string, params map[string]string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := map[string]string{"method": operation}
	for field, value := range params {
		copied[field] = value
	}
	s.calls = append(s.calls, copied)

	if err := s.errs[operation]; err != nil {
		return nil, err
	}
	queue := s.responses[operation]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no stub response for %s", operation)
	}
	payload := queue[0]
	if len(queue) > 1 {
		s.responses[operation] = queue[1:]
	}

	return []byte(payload), nil
}

func newStubClient(t *testing.T, fetcher *stubFetcher) *Client {
	t.Helper()

	client, err := NewClient(fetcher)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	return client
}

func TestClientUserInfo(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{responses: map[string][]string{
		"user.getinfo": {`{"user":{"name":"rj","realname":"Richard","playcount":"150316","artist_count":"4219","track_count":"30120","album_count":"9811","url":"https://www.last.fm/user/rj"}}`},
	}}
	client := newStubClient(t, fetcher)

	got, err := client.UserInfo(context.Background(), "rj")
	if err != nil {
		t.Fatalf("UserInfo failed: %v", err)
	}
	want := UserInfo{
		Name:        "rj",
		RealName:    "Richard",
		URL:         "https://www.last.fm/user/rj",
		PlayCount:   150316,
		ArtistCount: 4219,
		TrackCount:  30120,
		AlbumCount:  9811,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("UserInfo mismatch (-want +got):\n%s", diff)
	}
}

func TestClientTopAlbumsNormalizesPeriodAndAttr(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{responses: map[string][]string{
		"user.gettopalbums": {`{"topalbums":{"album":[
			{"name":"Kid A","playcount":"42","artist":{"name":"Radiohead"},"url":"u1"},
			{"name":"Blue","playcount":"7","artist":{"#text":"Joni Mitchell"},"url":"u2"}
		],"@attr":{"page":"2","totalPages":"9","total":"90","user":"rj"}}}`},
	}}
	client := newStubClient(t, fetcher)

	chart, err := client.TopAlbums(context.Background(), "rj", Period7Days, 10, 2)
	if err != nil {
		t.Fatalf("TopAlbums failed: %v", err)
	}
	want := Chart[Album]{
		Items: []Album{
			{Name: "Kid A", Artist: "Radiohead", URL: "u1", PlayCount: 42},
			{Name: "Blue", Artist: "Joni Mitchell", URL: "u2", PlayCount: 7},
		},
		Page:       2,
		TotalPages: 9,
		Total:      90,
	}
	if diff := cmp.Diff(want, chart); diff != "" {
		t.Fatalf("TopAlbums mismatch (-want +got):\n%s", diff)
	}

	call := fetcher.calls[0]
	if call["period"] != "7day" || call["page"] != "2" || call["limit"] != "10" {
		t.Fatalf("request params = %v", call)
	}
}

func TestClientSingleObjectListCollapses(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{responses: map[string][]string{
		"user.gettopartists": {`{"topartists":{"artist":{"name":"Björk","playcount":"3"},"@attr":{"totalpages":"1"}}}`},
	}}
	client := newStubClient(t, fetcher)

	chart, err := client.TopArtists(context.Background(), "rj", PeriodOverall, 10, 1)
	if err != nil {
		t.Fatalf("TopArtists failed: %v", err)
	}
	if len(chart.Items) != 1 || chart.Items[0].Name != "Björk" || chart.TotalPages != 1 {
		t.Fatalf("chart = %+v", chart)
	}
}

func TestClientRecentTracksNowPlaying(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{responses: map[string][]string{
		"user.getrecenttracks": {`{"recenttracks":{"track":[
			{"name":"Idioteque","artist":{"#text":"Radiohead"},"album":{"#text":"Kid A"},"@attr":{"nowplaying":"true"}},
			{"name":"Hyperballad","artist":{"#text":"Björk"},"album":{"#text":"Post"},"date":{"uts":"1700000000"}}
		]}}`},
	}}
	client := newStubClient(t, fetcher)

	track, found, err := client.NowPlaying(context.Background(), "rj")
	if err != nil || !found {
		t.Fatalf("NowPlaying = found %v err %v", found, err)
	}
	if !track.NowPlaying || track.Artist != "Radiohead" || track.Album != "Kid A" {
		t.Fatalf("track = %+v", track)
	}
	if fetcher.calls[0]["limit"] != "1" {
		t.Fatalf("limit = %q, want 1", fetcher.calls[0]["limit"])
	}
}

func TestClientArtistInfoUserPlayCount(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{responses: map[string][]string{
		"artist.getinfo": {`{"artist":{"name":"Cher","url":"c","stats":{"listeners":"100","playcount":"2000","userplaycount":"17"},"tags":{"tag":[{"name":"pop"},{"name":"dance"}]}}}`},
	}}
	client := newStubClient(t, fetcher)

	info, err := client.ArtistInfo(context.Background(), "cher", "rj")
	if err != nil {
		t.Fatalf("ArtistInfo failed: %v", err)
	}
	want := ArtistInfo{Name: "Cher", URL: "c", Tags: []string{"pop", "dance"}, Listeners: 100, PlayCount: 2000, UserPlayCount: 17}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Fatalf("ArtistInfo mismatch (-want +got):\n%s", diff)
	}
	if fetcher.calls[0]["username"] != "rj" {
		t.Fatalf("username param = %q, want rj", fetcher.calls[0]["username"])
	}
}

func TestClientSearchTrack(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{responses: map[string][]string{
		"track.search": {`{"results":{"trackmatches":{"track":[{"name":"Believe","artist":"Cher","listeners":"9"}]}}}`},
	}}
	client := newStubClient(t, fetcher)

	tracks, err := client.SearchTrack(context.Background(), "believe", 1)
	if err != nil {
		t.Fatalf("SearchTrack failed: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Artist != "Cher" || tracks[0].Listeners != 9 {
		t.Fatalf("tracks = %+v", tracks)
	}
}

func TestClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		fetcher      *stubFetcher
		wantNotFound bool
		wantFetch    bool
	}{
		{
			name: "error envelope in success body",
			fetcher: &stubFetcher{responses: map[string][]string{
				"user.getinfo": {`{"error":6,"message":"User not found"}`},
			}},
			wantNotFound: true,
		},
		{
			name: "error envelope in failed response",
			fetcher: &stubFetcher{errs: map[string]error{
				"user.getinfo": &gateway.FetchError{Operation: "user.getinfo", StatusCode: 404, Body: `{"error":6,"message":"User not found"}`},
			}},
			wantNotFound: true,
			wantFetch:    true,
		},
		{
			name: "transport failure",
			fetcher: &stubFetcher{errs: map[string]error{
				"user.getinfo": &gateway.FetchError{Operation: "user.getinfo", StatusCode: 503, Body: "unavailable"},
			}},
			wantFetch: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			client := newStubClient(t, testCase.fetcher)
			_, err := client.UserInfo(context.Background(), "ghost")
			if err == nil {
				t.Fatal("UserInfo error = nil")
			}
			if got := errors.Is(err, ErrNotFound); got != testCase.wantNotFound {
				t.Fatalf("errors.Is(ErrNotFound) = %v, want %v (err %v)", got, testCase.wantNotFound, err)
			}
			if got := errors.Is(err, gateway.ErrFetch); got != testCase.wantFetch {
				t.Fatalf("errors.Is(ErrFetch) = %v, want %v (err %v)", got, testCase.wantFetch, err)
			}
		})
	}
}

func TestClientAllTopTracksStopsAtTotalPages(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{responses: map[string][]string{
		"user.gettoptracks": {
			`{"toptracks":{"track":[{"name":"a"},{"name":"b"}],"@attr":{"totalPages":"2"}}}`,
			`{"toptracks":{"track":[{"name":"c"},{"name":"d"}],"@attr":{"totalPages":"2"}}}`,
		},
	}}
	client := newStubClient(t, fetcher)

	tracks, err := client.AllTopTracks(context.Background(), "rj", PeriodOverall, 2, 0)
	if err != nil {
		t.Fatalf("AllTopTracks failed: %v", err)
	}
	if len(tracks) != 4 || len(fetcher.calls) != 2 {
		t.Fatalf("tracks %d calls %d, want 4 and 2", len(tracks), len(fetcher.calls))
	}
	if fetcher.calls[1]["page"] != "2" {
		t.Fatalf("second page param = %q, want 2", fetcher.calls[1]["page"])
	}
}
