package lastfm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"fmgram/pkg/fmgram"
	lastfmapi "fmgram/pkg/lastfm"
)

const (
	defaultPageSize = 10
	defaultMaxPages = 50
	defaultFanOut   = 4
)

// API is the subset of the Last.fm client used by the module.
type API interface {
	UserInfo(ctx context.Context, username string) (lastfmapi.UserInfo, error)
	TopArtists(ctx context.Context, username string, period lastfmapi.Period, limit int, page int) (lastfmapi.Chart[lastfmapi.Artist], error)
	TopAlbums(ctx context.Context, username string, period lastfmapi.Period, limit int, page int) (lastfmapi.Chart[lastfmapi.Album], error)
	TopTracks(ctx context.Context, username string, period lastfmapi.Period, limit int, page int) (lastfmapi.Chart[lastfmapi.Track], error)
	RecentTracks(ctx context.Context, username string, limit int, page int) (lastfmapi.Chart[lastfmapi.Track], error)
	SearchArtist(ctx context.Context, query string, limit int) ([]lastfmapi.Artist, error)
	SearchTrack(ctx context.Context, query string, limit int) ([]lastfmapi.Track, error)
	SearchAlbum(ctx context.Context, query string, limit int) ([]lastfmapi.Album, error)
	ArtistInfo(ctx context.Context, artist string, username string) (lastfmapi.ArtistInfo, error)
	TrackInfo(ctx context.Context, artist string, track string, username string) (lastfmapi.TrackInfo, error)
	AlbumInfo(ctx context.Context, artist string, album string, username string) (lastfmapi.AlbumInfo, error)
}

// Option mutates module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithClock overrides the time source used for member activity.
func WithClock(now func() time.Time) Option {
	return func(module *Module) {
		if now != nil {
			module.now = now
		}
	}
}

// WithMaxPages caps how many pages a chart reply offers.
func WithMaxPages(maxPages int) Option {
	return func(module *Module) {
		if maxPages > 0 {
			module.maxPages = maxPages
		}
	}
}

// WithFanOut bounds concurrent per-member lookups in whoknows and leaderboard.
func WithFanOut(limit int) Option {
	return func(module *Module) {
		if limit > 0 {
			module.fanOut = limit
		}
	}
}

// Module answers Last.fm listening-statistics commands and records which
// users are active in each conversation.
type Module struct {
	logger     *slog.Logger
	now        func() time.Time
	printer    *message.Printer
	pageSize   int
	maxPages   int
	fanOut     int
	api        API
	accounts   fmgram.AccountLinkStore
	dispatcher fmgram.SinkDispatcher
	paginator  fmgram.Paginator

	handlers map[string]commandHandler
}

// New creates a Last.fm module.
func New(options ...Option) *Module {
	module := &Module{
		logger:   slog.Default(),
		now:      time.Now,
		printer:  message.NewPrinter(language.English),
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
		fanOut:   defaultFanOut,
	}
	for _, option := range options {
		option(module)
	}
	module.handlers = map[string]commandHandler{
		commandLink:          module.handleLink,
		commandUnlink:        module.handleUnlink,
		commandStats:         module.handleStats,
		commandTopArtists:    module.handleTopArtists,
		commandTopAlbums:     module.handleTopAlbums,
		commandTopTracks:     module.handleTopTracks,
		commandRecent:        module.handleRecent,
		commandWhoKnows:      module.handleWhoKnows,
		commandWhoKnowsTrack: module.handleWhoKnowsTrack,
		commandWhoKnowsAlbum: module.handleWhoKnowsAlbum,
		commandLeaderboard:   module.handleLeaderboard,
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "lastfm"
}

// Spec declares the command handler and the member activity tracker.
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
					Name:        "lastfm-command-handler",
					Description: "answers Last.fm statistics commands",
					Interest: fmgram.InterestSet{
						Kinds:          []fmgram.EventKind{fmgram.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   names,
					},
					RequiredServices: []string{
						fmgram.ServiceSinkDispatcher,
						fmgram.ServiceAccountLinks,
						fmgram.ServiceLastFM,
						fmgram.ServicePaginator,
					},
				},
				Subscription: fmgram.NewDefaultSubscriptionSpec("lastfm-commands"),
				Handler:      m.handleCommand,
			},
			{
				Capability: fmgram.Capability{
					Name:        "lastfm-member-tracker",
					Description: "records active users per conversation for whoknows and leaderboard",
					Interest: fmgram.InterestSet{
						Kinds:          []fmgram.EventKind{fmgram.EventKindMessageCreated},
						RequireMessage: true,
					},
					RequiredServices: []string{fmgram.ServiceAccountLinks},
				},
				Subscription: fmgram.NewDefaultSubscriptionSpec("lastfm-members"),
				Handler:      m.handleMessage,
			},
		},
		Commands: commands,
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
		return fmt.Errorf("lastfm resolve logger: %w", err)
	}

	if m.api, err = fmgram.ResolveAs[API](runtime.Services(), fmgram.ServiceLastFM); err != nil {
		return fmt.Errorf("lastfm resolve client: %w", err)
	}
	if m.accounts, err = fmgram.ResolveAs[fmgram.AccountLinkStore](runtime.Services(), fmgram.ServiceAccountLinks); err != nil {
		return fmt.Errorf("lastfm resolve account links: %w", err)
	}
	if m.dispatcher, err = fmgram.ResolveAs[fmgram.SinkDispatcher](runtime.Services(), fmgram.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("lastfm resolve outbound dispatcher: %w", err)
	}
	if m.paginator, err = fmgram.ResolveAs[fmgram.Paginator](runtime.Services(), fmgram.ServicePaginator); err != nil {
		return fmt.Errorf("lastfm resolve paginator: %w", err)
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

func (m *Module) handleMessage(ctx context.Context, event *fmgram.Event) error {
	if event == nil || event.Message == nil || event.Actor.IsBot || event.Actor.ID == "" {
		return nil
	}
	if err := m.accounts.TouchMember(ctx, event.Conversation.ID, event.Actor.ID, m.now()); err != nil {
		return fmt.Errorf("lastfm touch member %s in %s: %w", event.Actor.ID, event.Conversation.ID, err)
	}

	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *fmgram.Event) error {
	if event == nil || event.Command == nil || event.Kind != fmgram.EventKindCommandReceived {
		return nil
	}
	handler, ok := m.handlers[event.Command.Name]
	if !ok {
		return nil
	}
	target, err := fmgram.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("lastfm derive outbound target: %w", err)
	}

	call := commandCall{
		event:  event,
		target: target,
		args:   event.Command.Args(),
		value:  event.Command.Value,
	}
	if err := handler(ctx, call); err != nil {
		return fmt.Errorf("lastfm /%s: %w", event.Command.Name, err)
	}

	return nil
}

var (
	_ fmgram.Module          = (*Module)(nil)
	_ fmgram.ModuleRegistrar = (*Module)(nil)
	_ API                    = (*lastfmapi.Client)(nil)
)
