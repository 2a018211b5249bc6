// Package pagination wires the reaction-driven page navigator into the
// kernel. It must be registered before any module that paginates replies.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fmgram/pkg/fmgram"
	paging "fmgram/pkg/pagination"
)

const defaultHandlerTimeout = 30 * time.Second

// Config controls navigation state retention.
type Config struct {
	// RegistrySize bounds how many paginated messages stay navigable.
	RegistrySize int
	// RegistryTTL forgets a message that has not changed page for this long.
	RegistryTTL time.Duration
}

// Module owns the pagination router. It publishes the router as the
// Paginator service and feeds it every added reaction in order.
type Module struct {
	cfg    Config
	logger *slog.Logger
	router *paging.Router
}

// New creates a pagination module.
func New(cfg Config) *Module {
	return &Module{cfg: cfg, logger: slog.Default()}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "pagination"
}

// Spec declares a serial reaction subscription so that navigation on one
// message is applied in arrival order.
func (m *Module) Spec() fmgram.ModuleSpec {
	return fmgram.ModuleSpec{
		Handlers: []fmgram.ModuleHandler{
			{
				Capability: fmgram.Capability{
					Name:        "pagination-navigator",
					Description: "turns navigation reactions into page transitions",
					Interest: fmgram.InterestSet{
						Kinds:           []fmgram.EventKind{fmgram.EventKindReactionAdded},
						RequireReaction: true,
					},
					RequiredServices: []string{fmgram.ServiceSinkDispatcher},
				},
				Subscription: fmgram.NewSerialSubscriptionSpec("pagination-reactions", defaultHandlerTimeout),
				Handler:      m.handleReaction,
			},
		},
	}
}

// OnRegister builds the router and registers it as the Paginator service.
func (m *Module) OnRegister(_ context.Context, runtime fmgram.ModuleRuntime) error {
	logger, err := fmgram.ResolveAs[*slog.Logger](runtime.Services(), fmgram.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, fmgram.ErrServiceNotFound):
	default:
		return fmt.Errorf("pagination resolve logger: %w", err)
	}

	dispatcher, err := fmgram.ResolveAs[fmgram.SinkDispatcher](runtime.Services(), fmgram.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("pagination resolve outbound dispatcher: %w", err)
	}

	router, err := paging.NewRouter(
		paging.NewRegistry(m.cfg.RegistrySize, m.cfg.RegistryTTL),
		dispatcher,
		paging.WithRouterLogger(m.logger.With("component", "pagination")),
	)
	if err != nil {
		return fmt.Errorf("pagination new router: %w", err)
	}
	if err := runtime.Services().Register(fmgram.ServicePaginator, router); err != nil {
		return fmt.Errorf("pagination register paginator: %w", err)
	}
	m.router = router

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

func (m *Module) handleReaction(ctx context.Context, event *fmgram.Event) error {
	if event == nil || event.Reaction == nil || event.Actor.IsBot {
		return nil
	}
	if event.Reaction.Action != "" && event.Reaction.Action != fmgram.ReactionActionAdd {
		return nil
	}

	if err := m.router.Handle(ctx, paging.Reaction{
		EventID:        event.ID,
		ActorID:        event.Actor.ID,
		ConversationID: event.Conversation.ID,
		MessageID:      event.Reaction.MessageID,
		Symbol:         event.Reaction.Emoji,
	}); err != nil {
		return fmt.Errorf("pagination handle reaction on %s: %w", event.Reaction.MessageID, err)
	}

	return nil
}

var (
	_ fmgram.Module          = (*Module)(nil)
	_ fmgram.ModuleRegistrar = (*Module)(nil)
)
