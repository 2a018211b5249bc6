package discogs

import (
	"fmt"
	"strings"

	discogsapi "fmgram/pkg/discogs"
)

func renderProfile(profile discogsapi.Profile) string {
	name := profile.Username
	if profile.Name != "" {
		name = fmt.Sprintf("%s (%s)", profile.Username, profile.Name)
	}

	return fmt.Sprintf(
		"📀 %s\n%s\nCollection: %d releases\nWantlist: %d releases",
		name,
		profile.URL,
		profile.CollectionCount,
		profile.WantlistCount,
	)
}

func renderListing(header string, releases []discogsapi.Release, pageSize int, page int, totalPages int) string {
	var builder strings.Builder
	builder.WriteString(header)
	builder.WriteString("\n\n")
	offset := (page - 1) * pageSize
	for index, release := range releases {
		builder.WriteString(fmt.Sprintf("%d. %s - %s", offset+index+1, release.Artist(), release.Title))
		if release.Year > 0 {
			builder.WriteString(fmt.Sprintf(" (%d)", release.Year))
		}
		builder.WriteString("\n")
	}
	builder.WriteString(fmt.Sprintf("\nPage %d/%d", page, totalPages))

	return builder.String()
}

func renderRelease(release discogsapi.Release) string {
	lines := []string{fmt.Sprintf("💿 %s - %s", release.Artist(), release.Title)}
	if release.Year > 0 {
		lines = append(lines, fmt.Sprintf("Year: %d", release.Year))
	}
	if len(release.Labels) > 0 {
		lines = append(lines, "Label: "+strings.Join(release.Labels, ", "))
	}
	if len(release.Formats) > 0 {
		lines = append(lines, "Format: "+strings.Join(release.Formats, ", "))
	}
	if len(release.Genres) > 0 {
		lines = append(lines, "Genre: "+strings.Join(release.Genres, ", "))
	}
	lines = append(lines, release.URL)

	return strings.Join(lines, "\n")
}

func renderSearch(query string, results []discogsapi.SearchResult) string {
	lines := []string{fmt.Sprintf("🔎 Discogs results for '%s'", query), ""}
	for index, result := range results {
		line := fmt.Sprintf("%d. %s", index+1, result.Title)
		if result.Year != "" {
			line += fmt.Sprintf(" (%s)", result.Year)
		}
		lines = append(lines, fmt.Sprintf("%s [r%d]", line, result.ID))
	}

	return strings.Join(lines, "\n")
}
