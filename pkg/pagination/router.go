package pagination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"fmgram/pkg/fmgram"
)

const (
	// SymbolPrevious steps one page back.
	SymbolPrevious = "◀️"
	// SymbolNext steps one page forward.
	SymbolNext = "▶️"

	defaultSeenEvents = 4096
	defaultSeenTTL    = time.Hour
)

// Reaction is one inbound reaction as seen by the router.
type Reaction struct {
	// EventID identifies the delivery. Repeated IDs are ignored.
	EventID string
	ActorID string
	// ConversationID scopes MessageID, which is only unique per conversation.
	ConversationID string
	MessageID      string
	Symbol         string
}

// Router validates reactions against the registry and drives page
// transitions by replacing the rendered message. It also starts paginated
// replies for command modules.
//
// All calls are serialized, so two reactions on the same message never
// interleave.
type Router struct {
	registry   *Registry
	dispatcher fmgram.SinkDispatcher
	logger     *slog.Logger

	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger configures router logging.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a router over registry that delivers through dispatcher.
func NewRouter(registry *Registry, dispatcher fmgram.SinkDispatcher, options ...RouterOption) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("new router: nil registry")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("new router: nil dispatcher")
	}

	router := &Router{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		seen:       expirable.NewLRU[string, struct{}](defaultSeenEvents, nil, defaultSeenTTL),
	}
	for _, option := range options {
		option(router)
	}

	return router, nil
}

// Paginate sends the first page of a reply. When more than one page exists
// it registers navigation state owned by request.OwnerID and attaches the
// previous and next controls.
func (r *Router) Paginate(ctx context.Context, request fmgram.PaginationRequest) (*fmgram.OutboundMessage, error) {
	if request.Produce == nil {
		return nil, fmt.Errorf("paginate: nil content producer")
	}
	if request.TotalPages < 1 {
		return nil, fmt.Errorf("paginate: %w", ErrInvalidTotalPages)
	}
	page := request.FirstPage
	if page == 0 {
		page = 1
	}
	if page < 1 || page > request.TotalPages {
		return nil, fmt.Errorf("paginate page %d of %d: %w", page, request.TotalPages, ErrInvalidPage)
	}

	content, err := request.Produce(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("paginate render page %d: %w", page, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	message, err := r.dispatcher.SendMessage(ctx, fmgram.SendMessageRequest{
		Target:             request.Target,
		Text:               content,
		ReplyToMessageID:   request.ReplyToMessageID,
		DisableLinkPreview: true,
	})
	if err != nil {
		return nil, fmt.Errorf("paginate send page %d: %w", page, err)
	}
	if request.TotalPages == 1 {
		return message, nil
	}

	if err := r.registry.Register(State{
		MessageID:        message.ID,
		OwnerID:          request.OwnerID,
		CurrentPage:      page,
		TotalPages:       request.TotalPages,
		Produce:          request.Produce,
		Target:           request.Target,
		ReplyToMessageID: request.ReplyToMessageID,
	}); err != nil {
		return message, fmt.Errorf("paginate register %s: %w", message.ID, err)
	}
	r.attachControls(ctx, request.Target, message.ID)

	return message, nil
}

// Handle applies one reaction. Reactions that are not navigation symbols,
// target unknown messages, come from someone other than the owner, or would
// leave the page range are ignored without error.
func (r *Router) Handle(ctx context.Context, reaction Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reaction.EventID != "" {
		if r.seen.Contains(reaction.EventID) {
			return nil
		}
		r.seen.Add(reaction.EventID, struct{}{})
	}

	direction, ok := directionForSymbol(reaction.Symbol)
	if !ok {
		return nil
	}
	state, found := r.registry.Get(MessageRef{ConversationID: reaction.ConversationID, MessageID: reaction.MessageID})
	if !found {
		return nil
	}
	if reaction.ActorID != state.OwnerID {
		return nil
	}

	content, page, moved, err := r.registry.Advance(ctx, state.Ref(), direction)
	if err != nil {
		return fmt.Errorf("handle reaction on %s: %w", state.MessageID, err)
	}
	if !moved {
		return nil
	}

	deleted := true
	if err := r.dispatcher.DeleteMessage(ctx, fmgram.DeleteMessageRequest{
		Target:    state.Target,
		MessageID: state.MessageID,
		Revoke:    true,
	}); err != nil {
		deleted = false
		r.logger.WarnContext(ctx, "pagination delete previous page failed",
			"conversation_id", state.Target.Conversation.ID,
			"message_id", state.MessageID,
			"error", err,
		)
	}

	message, err := r.dispatcher.SendMessage(ctx, fmgram.SendMessageRequest{
		Target:             state.Target,
		Text:               content,
		ReplyToMessageID:   state.ReplyToMessageID,
		DisableLinkPreview: true,
	})
	if err != nil {
		if deleted {
			r.registry.Remove(state.Ref())
		}
		return fmt.Errorf("handle reaction send page %d: %w", page, err)
	}
	// The surviving old page keeps its controls until a replacement exists.
	if !deleted {
		r.retractControls(ctx, state)
	}

	if err := r.registry.Rebind(state.Ref(), message.ID, page); err != nil {
		return fmt.Errorf("handle reaction rebind %s: %w", state.MessageID, err)
	}
	r.attachControls(ctx, state.Target, message.ID)

	return nil
}

// attachControls arms navigation on messageID and records the control IDs.
// Failures leave the page readable and are only logged.
func (r *Router) attachControls(ctx context.Context, target fmgram.OutboundTarget, messageID string) {
	controlIDs, err := r.dispatcher.AnnotateMessage(ctx, fmgram.AnnotateMessageRequest{
		Target:    target,
		MessageID: messageID,
		Symbols:   []string{SymbolPrevious, SymbolNext},
	})
	if err != nil {
		r.logger.WarnContext(ctx, "pagination attach controls failed", "message_id", messageID, "error", err)
		return
	}
	ref := MessageRef{ConversationID: target.Conversation.ID, MessageID: messageID}
	if err := r.registry.SetControls(ref, controlIDs); err != nil {
		r.logger.WarnContext(ctx, "pagination record controls failed", "message_id", messageID, "error", err)
	}
}

// retractControls disarms an old page that could not be deleted once its
// replacement has been sent.
func (r *Router) retractControls(ctx context.Context, state State) {
	if len(state.ControlIDs) == 0 {
		return
	}
	if err := r.dispatcher.RetractAnnotations(ctx, fmgram.RetractAnnotationsRequest{
		Target:     state.Target,
		MessageID:  state.MessageID,
		ControlIDs: state.ControlIDs,
	}); err != nil {
		r.logger.WarnContext(ctx, "pagination retract controls failed", "message_id", state.MessageID, "error", err)
	}
}

func directionForSymbol(symbol string) (int, bool) {
	switch symbol {
	case SymbolPrevious:
		return -1, true
	case SymbolNext:
		return 1, true
	default:
		return 0, false
	}
}

var _ fmgram.Paginator = (*Router)(nil)
