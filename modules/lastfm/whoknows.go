package lastfm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"fmgram/pkg/fmgram"
	lastfmapi "fmgram/pkg/lastfm"
)

const (
	whoKnowsLimit    = 5
	leaderboardLimit = 10
)

// listenerPlays is one member's play count for a whoknows subject.
type listenerPlays struct {
	username string
	plays    int64
}

// playLookup returns one member's play count for the current subject.
type playLookup func(ctx context.Context, username string) (int64, error)

func (m *Module) handleWhoKnows(ctx context.Context, call commandCall) error {
	query := strings.TrimSpace(call.value)
	if query == "" {
		return m.reply(ctx, call, "Usage: /whoknows <artist name>")
	}

	matches, err := m.api.SearchArtist(ctx, query, 1)
	if err != nil {
		return m.replyFailure(ctx, call, err)
	}
	if len(matches) == 0 {
		return m.reply(ctx, call, fmt.Sprintf("❌ No artists found matching '%s'", query))
	}
	artist := matches[0].Name

	info, err := m.api.ArtistInfo(ctx, artist, "")
	if err != nil && !errors.Is(err, lastfmapi.ErrNotFound) {
		return m.replyFailure(ctx, call, err)
	}
	if info.Name == "" {
		info.Name = artist
		info.URL = matches[0].URL
	}

	members, ok, err := m.linkedMembers(ctx, call)
	if err != nil || !ok {
		return err
	}
	listeners := m.collectPlays(ctx, members, func(ctx context.Context, username string) (int64, error) {
		detail, err := m.api.ArtistInfo(ctx, artist, username)
		return detail.UserPlayCount, err
	})

	header := []string{fmt.Sprintf("%s - %s", info.Name, info.URL), genreLine(info.Tags)}
	return m.reply(ctx, call, renderWhoKnows(m.printer, header, listeners))
}

func (m *Module) handleWhoKnowsTrack(ctx context.Context, call commandCall) error {
	query := strings.TrimSpace(call.value)
	if query == "" {
		return m.reply(ctx, call, "Usage: /whoknowstrack <track name>")
	}

	matches, err := m.api.SearchTrack(ctx, query, 1)
	if err != nil {
		return m.replyFailure(ctx, call, err)
	}
	if len(matches) == 0 {
		return m.reply(ctx, call, fmt.Sprintf("❌ No tracks found matching '%s'", query))
	}
	track := matches[0]

	members, ok, err := m.linkedMembers(ctx, call)
	if err != nil || !ok {
		return err
	}
	listeners := m.collectPlays(ctx, members, func(ctx context.Context, username string) (int64, error) {
		detail, err := m.api.TrackInfo(ctx, track.Artist, track.Name, username)
		return detail.UserPlayCount, err
	})
	if len(listeners) == 0 {
		return m.reply(ctx, call, fmt.Sprintf("❌ No one in this chat has listened to '%s'", query))
	}

	header := []string{fmt.Sprintf("%s by %s - %s", track.Name, track.Artist, track.URL)}
	return m.reply(ctx, call, renderWhoKnows(m.printer, header, listeners))
}

func (m *Module) handleWhoKnowsAlbum(ctx context.Context, call commandCall) error {
	query := strings.TrimSpace(call.value)
	if query == "" {
		return m.reply(ctx, call, "Usage: /whoknowsalbum <album name>")
	}

	matches, err := m.api.SearchAlbum(ctx, query, 1)
	if err != nil {
		return m.replyFailure(ctx, call, err)
	}
	if len(matches) == 0 {
		return m.reply(ctx, call, fmt.Sprintf("❌ No albums found matching '%s'", query))
	}
	album := matches[0]

	members, ok, err := m.linkedMembers(ctx, call)
	if err != nil || !ok {
		return err
	}
	listeners := m.collectPlays(ctx, members, func(ctx context.Context, username string) (int64, error) {
		detail, err := m.api.AlbumInfo(ctx, album.Artist, album.Name, username)
		return detail.UserPlayCount, err
	})
	if len(listeners) == 0 {
		return m.reply(ctx, call, fmt.Sprintf("❌ No one in this chat has listened to '%s'", query))
	}

	header := []string{fmt.Sprintf("%s by %s - %s", album.Name, album.Artist, album.URL)}
	return m.reply(ctx, call, renderWhoKnows(m.printer, header, listeners))
}

// leaderboardStat selects which profile counter ranks the leaderboard.
type leaderboardStat struct {
	display string
	value   func(lastfmapi.UserInfo) int64
}

var leaderboardStats = map[string]leaderboardStat{
	"playcounts":  {display: "Scrobbles", value: func(info lastfmapi.UserInfo) int64 { return info.PlayCount }},
	"artistcount": {display: "Artists", value: func(info lastfmapi.UserInfo) int64 { return info.ArtistCount }},
	"trackcount":  {display: "Tracks", value: func(info lastfmapi.UserInfo) int64 { return info.TrackCount }},
}

func (m *Module) handleLeaderboard(ctx context.Context, call commandCall) error {
	statName := strings.ToLower(call.arg(0))
	if statName == "" {
		statName = "playcounts"
	}
	stat, known := leaderboardStats[statName]
	if !known {
		return m.reply(ctx, call, "❌ Unknown stat type. Use: playcounts, artistcount, trackcount")
	}

	members, ok, err := m.linkedMembers(ctx, call)
	if err != nil || !ok {
		return err
	}
	entries := m.collectPlays(ctx, members, func(ctx context.Context, username string) (int64, error) {
		info, err := m.api.UserInfo(ctx, username)
		return stat.value(info), err
	})
	if len(entries) == 0 {
		return m.reply(ctx, call, "❌ Could not fetch stats")
	}

	return m.reply(ctx, call, renderLeaderboard(m.printer, stat.display, entries))
}

// linkedMembers loads linked accounts seen in the conversation. ok is false
// when a no-members reply was sent instead.
func (m *Module) linkedMembers(ctx context.Context, call commandCall) ([]fmgram.LinkedAccount, bool, error) {
	members, err := m.accounts.LinkedMembers(ctx, call.event.Conversation.ID)
	if err != nil {
		return nil, false, fmt.Errorf("load linked members of %s: %w", call.event.Conversation.ID, err)
	}
	if len(members) == 0 {
		return nil, false, m.reply(ctx, call, replyNoMembers)
	}

	return members, true, nil
}

// collectPlays queries every member with bounded concurrency. Members whose
// lookup fails or who have no plays are left out. The result is ordered by
// plays descending, ties by username.
func (m *Module) collectPlays(ctx context.Context, members []fmgram.LinkedAccount, lookup playLookup) []listenerPlays {
	var (
		mu      sync.Mutex
		results = make([]listenerPlays, 0, len(members))
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.fanOut)
	for _, member := range members {
		group.Go(func() error {
			plays, err := lookup(groupCtx, member.Username)
			if err != nil {
				m.logger.DebugContext(groupCtx, "lastfm member lookup failed",
					"username", member.Username,
					"error", err,
				)
				return nil
			}
			if plays <= 0 {
				return nil
			}
			mu.Lock()
			results = append(results, listenerPlays{username: member.Username, plays: plays})
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].plays != results[j].plays {
			return results[i].plays > results[j].plays
		}
		return results[i].username < results[j].username
	})

	return results
}

func genreLine(tags []string) string {
	if len(tags) == 0 {
		return "No genre tags"
	}
	if len(tags) > 3 {
		tags = tags[:3]
	}

	return strings.Join(tags, ", ")
}
