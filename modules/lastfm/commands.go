package lastfm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fmgram/pkg/fmgram"
	"fmgram/pkg/gateway"
	lastfmapi "fmgram/pkg/lastfm"
)

const (
	commandLink          = "link"
	commandUnlink        = "unlink"
	commandStats         = "stats"
	commandTopArtists    = "topartists"
	commandTopAlbums     = "topalbums"
	commandTopTracks     = "toptracks"
	commandRecent        = "recent"
	commandWhoKnows      = "whoknows"
	commandWhoKnowsTrack = "whoknowstrack"
	commandWhoKnowsAlbum = "whoknowsalbum"
	commandLeaderboard   = "leaderboard"
)

const (
	replyNotLinked   = "❌ You haven't linked a Last.fm account. Use /link <username> first."
	replyUnreachable = "❌ Could not reach Last.fm right now. Please try again later."
	replyNoMembers   = "❌ No one in this chat has linked a Last.fm account yet."
)

type commandHandler func(ctx context.Context, call commandCall) error

// commandCall is one bound invocation with its reply destination.
type commandCall struct {
	event  *fmgram.Event
	target fmgram.OutboundTarget
	args   []string
	value  string
}

func (c commandCall) arg(index int) string {
	if index < len(c.args) {
		return c.args[index]
	}

	return ""
}

func commandSpecs() []fmgram.CommandSpec {
	ordinary := func(name string, aliases []string, usage string, description string) fmgram.CommandSpec {
		return fmgram.CommandSpec{
			Prefix:      fmgram.CommandPrefixOrdinary,
			Name:        name,
			Aliases:     aliases,
			Usage:       usage,
			Description: description,
		}
	}

	return []fmgram.CommandSpec{
		ordinary(commandLink, []string{"l"}, "<username>", "link your Last.fm account"),
		ordinary(commandUnlink, nil, "", "remove your Last.fm link"),
		ordinary(commandStats, []string{"s"}, "[username]", "show listening stats"),
		ordinary(commandTopArtists, []string{"tar"}, "[period]", "show your top artists"),
		ordinary(commandTopAlbums, []string{"ta", "tb"}, "[period]", "show your top albums"),
		ordinary(commandTopTracks, []string{"tt"}, "[period]", "show your top tracks"),
		ordinary(commandRecent, []string{"r"}, "[username]", "show recent scrobbles"),
		ordinary(commandWhoKnows, []string{"wk"}, "<artist>", "who in this chat listens to an artist"),
		ordinary(commandWhoKnowsTrack, []string{"wkt"}, "<track>", "who in this chat listens to a track"),
		ordinary(commandWhoKnowsAlbum, []string{"wka"}, "<album>", "who in this chat listens to an album"),
		ordinary(commandLeaderboard, []string{"lb"}, "[playcounts|artistcount|trackcount]", "rank this chat's listeners"),
	}
}

func (m *Module) handleLink(ctx context.Context, call commandCall) error {
	username := call.arg(0)
	if username == "" {
		return m.reply(ctx, call, "Usage: /link <username>")
	}

	info, err := m.api.UserInfo(ctx, username)
	if err != nil {
		if errors.Is(err, lastfmapi.ErrNotFound) {
			return m.reply(ctx, call, fmt.Sprintf("❌ Last.fm user '%s' not found.", username))
		}
		return m.replyFailure(ctx, call, err)
	}
	if info.Name != "" {
		username = info.Name
	}

	if err := m.accounts.Link(ctx, call.event.Actor.ID, username); err != nil {
		if errors.Is(err, fmgram.ErrUsernameTaken) {
			return m.reply(ctx, call, fmt.Sprintf("❌ Last.fm user '%s' is already linked to someone else.", username))
		}
		return fmt.Errorf("link %s: %w", call.event.Actor.ID, err)
	}

	return m.reply(ctx, call, fmt.Sprintf("✅ Linked %s to Last.fm user %s", call.event.Actor.Label(), username))
}

func (m *Module) handleUnlink(ctx context.Context, call commandCall) error {
	removed, err := m.accounts.Unlink(ctx, call.event.Actor.ID)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", call.event.Actor.ID, err)
	}
	if !removed {
		return m.reply(ctx, call, "ℹ️ You had no Last.fm account linked.")
	}

	return m.reply(ctx, call, "✅ Your Last.fm account was unlinked.")
}

func (m *Module) handleStats(ctx context.Context, call commandCall) error {
	username, ok, err := m.resolveUser(ctx, call, call.arg(0))
	if err != nil || !ok {
		return err
	}

	info, err := m.api.UserInfo(ctx, username)
	if err != nil {
		if errors.Is(err, lastfmapi.ErrNotFound) {
			return m.reply(ctx, call, fmt.Sprintf("❌ Could not find stats for %s.", username))
		}
		return m.replyFailure(ctx, call, err)
	}

	return m.reply(ctx, call, renderStats(m.printer, info))
}

func (m *Module) handleTopArtists(ctx context.Context, call commandCall) error {
	return paginateChart(ctx, m, call, chartCommand[lastfmapi.Artist]{
		title: "Top Artists",
		noun:  "top artists",
		fetch: m.api.TopArtists,
		row: func(m *Module, item lastfmapi.Artist) string {
			return m.printer.Sprintf("%s · %d plays", item.Name, item.PlayCount)
		},
	})
}

func (m *Module) handleTopAlbums(ctx context.Context, call commandCall) error {
	return paginateChart(ctx, m, call, chartCommand[lastfmapi.Album]{
		title: "Top Albums",
		noun:  "top albums",
		fetch: m.api.TopAlbums,
		row: func(m *Module, item lastfmapi.Album) string {
			return m.printer.Sprintf("%s by %s · %d plays", item.Name, item.Artist, item.PlayCount)
		},
	})
}

func (m *Module) handleTopTracks(ctx context.Context, call commandCall) error {
	return paginateChart(ctx, m, call, chartCommand[lastfmapi.Track]{
		title: "Top Tracks",
		noun:  "top tracks",
		fetch: m.api.TopTracks,
		row: func(m *Module, item lastfmapi.Track) string {
			return m.printer.Sprintf("%s by %s · %d plays", item.Name, item.Artist, item.PlayCount)
		},
	})
}

func (m *Module) handleRecent(ctx context.Context, call commandCall) error {
	username, ok, err := m.resolveUser(ctx, call, call.arg(0))
	if err != nil || !ok {
		return err
	}

	first, err := m.api.RecentTracks(ctx, username, m.pageSize, 1)
	if err != nil {
		return m.replyFailure(ctx, call, err)
	}
	if len(first.Items) == 0 {
		return m.reply(ctx, call, fmt.Sprintf("❌ No recent tracks found for %s.", username))
	}

	header := fmt.Sprintf("🎧 Recent Tracks · %s", username)
	return m.paginate(ctx, call, first.TotalPages, func(ctx context.Context, page int) (string, error) {
		chart := first
		if page != 1 {
			var fetchErr error
			if chart, fetchErr = m.api.RecentTracks(ctx, username, m.pageSize, page); fetchErr != nil {
				return "", fetchErr
			}
		}
		return renderRecent(header, chart.Items, m.pageSize, page, m.clampPages(first.TotalPages)), nil
	})
}

// chartCommand describes one paginated period chart.
type chartCommand[T any] struct {
	title string
	noun  string
	fetch func(ctx context.Context, username string, period lastfmapi.Period, limit int, page int) (lastfmapi.Chart[T], error)
	row   func(m *Module, item T) string
}

func paginateChart[T any](ctx context.Context, m *Module, call commandCall, command chartCommand[T]) error {
	period, err := lastfmapi.ParsePeriod(call.arg(0))
	if err != nil {
		return m.reply(ctx, call, invalidPeriodReply(call.arg(0)))
	}
	username, ok, err := m.resolveUser(ctx, call, "")
	if err != nil || !ok {
		return err
	}

	first, err := command.fetch(ctx, username, period, m.pageSize, 1)
	if err != nil {
		return m.replyFailure(ctx, call, err)
	}
	if len(first.Items) == 0 {
		return m.reply(ctx, call, fmt.Sprintf("❌ No %s found for %s (%s).", command.noun, username, period.DisplayName()))
	}

	header := fmt.Sprintf("%s · %s (%s)", command.title, username, period.DisplayName())
	totalPages := m.clampPages(first.TotalPages)
	return m.paginate(ctx, call, first.TotalPages, func(ctx context.Context, page int) (string, error) {
		chart := first
		if page != 1 {
			var fetchErr error
			if chart, fetchErr = command.fetch(ctx, username, period, m.pageSize, page); fetchErr != nil {
				return "", fetchErr
			}
		}
		rows := make([]string, 0, len(chart.Items))
		for _, item := range chart.Items {
			rows = append(rows, command.row(m, item))
		}
		return renderRanked(header, rows, m.pageSize, page, totalPages), nil
	})
}

func (m *Module) paginate(ctx context.Context, call commandCall, totalPages int, produce fmgram.PageProducer) error {
	_, err := m.paginator.Paginate(ctx, fmgram.PaginationRequest{
		Target:           call.target,
		ReplyToMessageID: call.event.SourceMessageID(),
		OwnerID:          call.event.Actor.ID,
		TotalPages:       m.clampPages(totalPages),
		Produce:          produce,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrFetch) {
			return m.replyFailure(ctx, call, err)
		}
		return fmt.Errorf("paginate: %w", err)
	}

	return nil
}

func (m *Module) clampPages(totalPages int) int {
	switch {
	case totalPages < 1:
		return 1
	case totalPages > m.maxPages:
		return m.maxPages
	default:
		return totalPages
	}
}

// resolveUser returns explicit when set, otherwise the caller's linked
// account. ok is false when a not-linked reply was sent instead.
func (m *Module) resolveUser(ctx context.Context, call commandCall, explicit string) (username string, ok bool, err error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, true, nil
	}

	username, found, err := m.accounts.Username(ctx, call.event.Actor.ID)
	if err != nil {
		return "", false, fmt.Errorf("lookup linked account %s: %w", call.event.Actor.ID, err)
	}
	if !found {
		return "", false, m.reply(ctx, call, replyNotLinked)
	}

	return username, true, nil
}

func (m *Module) reply(ctx context.Context, call commandCall, text string) error {
	_, err := m.dispatcher.SendMessage(ctx, fmgram.SendMessageRequest{
		Target:             call.target,
		Text:               text,
		ReplyToMessageID:   call.event.SourceMessageID(),
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	return nil
}

// replyFailure tells the user an upstream call failed. Unreachable upstreams
// get a distinct reply from empty results.
func (m *Module) replyFailure(ctx context.Context, call commandCall, cause error) error {
	m.logger.WarnContext(ctx, "lastfm command failed",
		"command", call.event.Command.Name,
		"conversation", call.target.Conversation.ID,
		"error", cause,
	)
	if errors.Is(cause, gateway.ErrFetch) {
		return m.reply(ctx, call, replyUnreachable)
	}

	return m.reply(ctx, call, "❌ Last.fm returned an unexpected response.")
}

func invalidPeriodReply(raw string) string {
	valid := make([]string, 0, len(lastfmapi.Periods()))
	for _, period := range lastfmapi.Periods() {
		valid = append(valid, string(period))
	}

	return fmt.Sprintf("❌ Invalid period '%s'. Valid options: %s", raw, strings.Join(valid, ", "))
}
