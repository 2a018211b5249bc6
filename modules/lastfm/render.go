package lastfm

import (
	"fmt"
	"strings"

	"golang.org/x/text/message"

	lastfmapi "fmgram/pkg/lastfm"
)

var (
	whoKnowsMedals    = []string{"👑", "🥈", "🥉"}
	leaderboardMedals = []string{"🥇", "🥈", "🥉"}
)

func renderStats(printer *message.Printer, info lastfmapi.UserInfo) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%s's Last.fm Stats:\n", info.Name))
	builder.WriteString(printer.Sprintf("📊 Scrobbles: %d\n", info.PlayCount))
	builder.WriteString(printer.Sprintf("🎤 Artists: %d\n", info.ArtistCount))
	builder.WriteString(printer.Sprintf("🎵 Tracks: %d\n", info.TrackCount))
	builder.WriteString(printer.Sprintf("💿 Albums: %d", info.AlbumCount))

	return builder.String()
}

// renderRanked numbers rows continuing from earlier pages.
func renderRanked(header string, rows []string, pageSize int, page int, totalPages int) string {
	var builder strings.Builder
	builder.WriteString(header)
	builder.WriteString("\n\n")
	offset := (page - 1) * pageSize
	for index, row := range rows {
		builder.WriteString(fmt.Sprintf("%d. %s\n", offset+index+1, row))
	}
	builder.WriteString(pageFooter(page, totalPages))

	return builder.String()
}

func renderRecent(header string, tracks []lastfmapi.Track, pageSize int, page int, totalPages int) string {
	rows := make([]string, 0, len(tracks))
	for _, track := range tracks {
		row := fmt.Sprintf("%s by %s", track.Name, track.Artist)
		if track.NowPlaying {
			row = "▶️ " + row + " (now playing)"
		}
		rows = append(rows, row)
	}

	return renderRanked(header, rows, pageSize, page, totalPages)
}

func renderWhoKnows(printer *message.Printer, header []string, listeners []listenerPlays) string {
	lines := append([]string{}, header...)
	lines = append(lines, "")
	if len(listeners) == 0 {
		lines = append(lines, "No one in this chat has listened yet.")
		return strings.Join(lines, "\n")
	}
	for index, listener := range capListeners(listeners, whoKnowsLimit) {
		lines = append(lines, printer.Sprintf("%s %s · %d", rankMarker(whoKnowsMedals, index), listener.username, listener.plays))
	}

	return strings.Join(lines, "\n")
}

func renderLeaderboard(printer *message.Printer, display string, entries []listenerPlays) string {
	lines := []string{fmt.Sprintf("🏆 Room Leaderboard - %s", display), ""}
	for index, entry := range capListeners(entries, leaderboardLimit) {
		lines = append(lines, printer.Sprintf("%s %s: %d", rankMarker(leaderboardMedals, index), entry.username, entry.plays))
	}

	return strings.Join(lines, "\n")
}

func capListeners(listeners []listenerPlays, limit int) []listenerPlays {
	if len(listeners) > limit {
		return listeners[:limit]
	}

	return listeners
}

func rankMarker(medals []string, index int) string {
	if index < len(medals) {
		return medals[index]
	}

	return fmt.Sprintf("%d.", index+1)
}

func pageFooter(page int, totalPages int) string {
	return fmt.Sprintf("\nPage %d/%d", page, totalPages)
}
