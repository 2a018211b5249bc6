// Package discogs answers record-collection commands backed by the Discogs API.
package discogs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	discogsapi "fmgram/pkg/discogs"
	"fmgram/pkg/fmgram"
	"fmgram/pkg/gateway"
)

const (
	commandProfile    = "discogs"
	commandCollection = "collection"
	commandWantlist   = "wantlist"
	commandRelease    = "release"
	commandSearch     = "dsearch"

	defaultPageSize = 10
	defaultMaxPages = 20
	searchLimit     = 10

	replyUnreachable = "❌ Could not reach Discogs right now. Please try again later."
)

// API is the subset of the Discogs client used by the module.
type API interface {
	Collection(ctx context.Context, username string, page int, perPage int) (discogsapi.Listing, error)
	Wantlist(ctx context.Context, username string, page int, perPage int) (discogsapi.Listing, error)
	Search(ctx context.Context, query string, kind string, page int, perPage int) ([]discogsapi.SearchResult, int, error)
	Release(ctx context.Context, id int64) (discogsapi.Release, error)
	Profile(ctx context.Context, username string) (discogsapi.Profile, error)
}

// Module answers Discogs commands.
type Module struct {
	logger     *slog.Logger
	pageSize   int
	maxPages   int
	api        API
	dispatcher fmgram.SinkDispatcher
	paginator  fmgram.Paginator
}

// New creates a Discogs module.
func New() *Module {
	return &Module{
		logger:   slog.Default(),
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
	}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "discogs"
}

// Spec declares the Discogs command handler.
func (m *Module) Spec() fmgram.ModuleSpec {
	commands := commandSpecs()
	names := make([]string, 0, len(commands))
	for _, command := range commands {
		names = append(names, command.Name)
	}

	return fmgram.ModuleSpec{
		Handlers: []fmgram.ModuleHandler{
			{
				Capability: fmgram.Capability{
					Name:        "discogs-command-handler",
					Description: "answers Discogs collection commands",
					Interest: fmgram.InterestSet{
						Kinds:          []fmgram.EventKind{fmgram.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   names,
					},
					RequiredServices: []string{
						fmgram.ServiceSinkDispatcher,
						fmgram.ServiceDiscogs,
						fmgram.ServicePaginator,
					},
				},
				Subscription: fmgram.NewDefaultSubscriptionSpec("discogs-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: commands,
	}
}

func commandSpecs() []fmgram.CommandSpec {
	return []fmgram.CommandSpec{
		{Prefix: fmgram.CommandPrefixOrdinary, Name: commandProfile, Aliases: []string{"dg"}, Usage: "<username>", Description: "show a Discogs profile"},
		{Prefix: fmgram.CommandPrefixOrdinary, Name: commandCollection, Aliases: []string{"col"}, Usage: "<username>", Description: "browse a Discogs collection"},
		{Prefix: fmgram.CommandPrefixOrdinary, Name: commandWantlist, Aliases: []string{"wl"}, Usage: "<username>", Description: "browse a Discogs wantlist"},
		{Prefix: fmgram.CommandPrefixOrdinary, Name: commandRelease, Aliases: []string{"rel"}, Usage: "<release id>", Description: "show a Discogs release"},
		{Prefix: fmgram.CommandPrefixOrdinary, Name: commandSearch, Aliases: []string{"ds"}, Usage: "<query>", Description: "search the Discogs database"},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime fmgram.ModuleRuntime) error {
	logger, err := fmgram.ResolveAs[*slog.Logger](runtime.Services(), fmgram.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, fmgram.ErrServiceNotFound):
	default:
		return fmt.Errorf("discogs resolve logger: %w", err)
	}

	if m.api, err = fmgram.ResolveAs[API](runtime.Services(), fmgram.ServiceDiscogs); err != nil {
		return fmt.Errorf("discogs resolve client: %w", err)
	}
	if m.dispatcher, err = fmgram.ResolveAs[fmgram.SinkDispatcher](runtime.Services(), fmgram.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("discogs resolve outbound dispatcher: %w", err)
	}
	if m.paginator, err = fmgram.ResolveAs[fmgram.Paginator](runtime.Services(), fmgram.ServicePaginator); err != nil {
		return fmt.Errorf("discogs resolve paginator: %w", err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *fmgram.Event) error {
	if event == nil || event.Command == nil || event.Kind != fmgram.EventKindCommandReceived {
		return nil
	}
	target, err := fmgram.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("discogs derive outbound target: %w", err)
	}

	argument := strings.TrimSpace(event.Command.Value)
	switch event.Command.Name {
	case commandProfile:
		err = m.handleProfile(ctx, event, target, argument)
	case commandCollection:
		err = m.handleListing(ctx, event, target, argument, "Collection", m.api.Collection)
	case commandWantlist:
		err = m.handleListing(ctx, event, target, argument, "Wantlist", m.api.Wantlist)
	case commandRelease:
		err = m.handleRelease(ctx, event, target, argument)
	case commandSearch:
		err = m.handleSearch(ctx, event, target, argument)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("discogs /%s: %w", event.Command.Name, err)
	}

	return nil
}

func (m *Module) handleProfile(ctx context.Context, event *fmgram.Event, target fmgram.OutboundTarget, username string) error {
	if username == "" {
		return m.reply(ctx, event, target, "Usage: /discogs <username>")
	}
	profile, err := m.api.Profile(ctx, username)
	if err != nil {
		return m.replyFailure(ctx, event, target, err, fmt.Sprintf("❌ Discogs user '%s' not found.", username))
	}

	return m.reply(ctx, event, target, renderProfile(profile))
}

type listingFetch func(ctx context.Context, username string, page int, perPage int) (discogsapi.Listing, error)

func (m *Module) handleListing(
	ctx context.Context,
	event *fmgram.Event,
	target fmgram.OutboundTarget,
	username string,
	title string,
	fetch listingFetch,
) error {
	if username == "" {
		return m.reply(ctx, event, target, fmt.Sprintf("Usage: /%s <username>", event.Command.Name))
	}

	first, err := fetch(ctx, username, 1, m.pageSize)
	if err != nil {
		return m.replyFailure(ctx, event, target, err, fmt.Sprintf("❌ Discogs user '%s' not found.", username))
	}
	if len(first.Items) == 0 {
		return m.reply(ctx, event, target, fmt.Sprintf("❌ %s's %s is empty.", username, strings.ToLower(title)))
	}

	totalPages := clampPages(first.Pages, m.maxPages)
	header := fmt.Sprintf("💿 %s · %s (%d releases)", title, username, first.Total)
	_, err = m.paginator.Paginate(ctx, fmgram.PaginationRequest{
		Target:           target,
		ReplyToMessageID: event.SourceMessageID(),
		OwnerID:          event.Actor.ID,
		TotalPages:       totalPages,
		Produce: func(ctx context.Context, page int) (string, error) {
			listing := first
			if page != 1 {
				var fetchErr error
				if listing, fetchErr = fetch(ctx, username, page, m.pageSize); fetchErr != nil {
					return "", fetchErr
				}
			}
			return renderListing(header, listing.Items, m.pageSize, page, totalPages), nil
		},
	})
	if err != nil {
		if errors.Is(err, gateway.ErrFetch) {
			return m.replyFailure(ctx, event, target, err, "")
		}
		return fmt.Errorf("paginate: %w", err)
	}

	return nil
}

func (m *Module) handleRelease(ctx context.Context, event *fmgram.Event, target fmgram.OutboundTarget, argument string) error {
	id, err := strconv.ParseInt(strings.TrimPrefix(argument, "r"), 10, 64)
	if err != nil || id <= 0 {
		return m.reply(ctx, event, target, "Usage: /release <release id>")
	}
	release, err := m.api.Release(ctx, id)
	if err != nil {
		return m.replyFailure(ctx, event, target, err, fmt.Sprintf("❌ Release %d not found.", id))
	}

	return m.reply(ctx, event, target, renderRelease(release))
}

func (m *Module) handleSearch(ctx context.Context, event *fmgram.Event, target fmgram.OutboundTarget, query string) error {
	if query == "" {
		return m.reply(ctx, event, target, "Usage: /dsearch <query>")
	}
	results, _, err := m.api.Search(ctx, query, "release", 1, searchLimit)
	if err != nil {
		return m.replyFailure(ctx, event, target, err, "")
	}
	if len(results) == 0 {
		return m.reply(ctx, event, target, fmt.Sprintf("❌ No releases found matching '%s'", query))
	}

	return m.reply(ctx, event, target, renderSearch(query, results))
}

func (m *Module) reply(ctx context.Context, event *fmgram.Event, target fmgram.OutboundTarget, text string) error {
	_, err := m.dispatcher.SendMessage(ctx, fmgram.SendMessageRequest{
		Target:             target,
		Text:               text,
		ReplyToMessageID:   event.SourceMessageID(),
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	return nil
}

// replyFailure maps a client error to a user-facing reply. notFound is used
// for ErrNotFound when non-empty.
func (m *Module) replyFailure(ctx context.Context, event *fmgram.Event, target fmgram.OutboundTarget, cause error, notFound string) error {
	if notFound != "" && errors.Is(cause, discogsapi.ErrNotFound) {
		return m.reply(ctx, event, target, notFound)
	}
	m.logger.WarnContext(ctx, "discogs command failed",
		"command", event.Command.Name,
		"conversation", target.Conversation.ID,
		"error", cause,
	)

	return m.reply(ctx, event, target, replyUnreachable)
}

func clampPages(pages int, maxPages int) int {
	if pages < 1 {
		return 1
	}
	if pages > maxPages {
		return maxPages
	}

	return pages
}

var (
	_ fmgram.Module          = (*Module)(nil)
	_ fmgram.ModuleRegistrar = (*Module)(nil)
	_ API                    = (*discogsapi.Client)(nil)
)
