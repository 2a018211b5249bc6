package pagination

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fmgram/pkg/fmgram"
	paging "fmgram/pkg/pagination"
)

func TestModuleOnRegisterPublishesPaginator(t *testing.T) {
	t.Parallel()

	registry := newServiceRegistryStub(map[string]any{fmgram.ServiceSinkDispatcher: &recordingDispatcher{}})
	module := New(Config{RegistrySize: 8, RegistryTTL: time.Minute})
	if err := module.OnRegister(context.Background(), moduleRuntimeStub{registry: registry}); err != nil {
		t.Fatalf("OnRegister failed: %v", err)
	}

	paginator, err := fmgram.ResolveAs[fmgram.Paginator](registry, fmgram.ServicePaginator)
	if err != nil {
		t.Fatalf("resolve paginator: %v", err)
	}
	if paginator != fmgram.Paginator(module.router) {
		t.Fatal("registered paginator is not the module router")
	}
}

func TestModuleOnRegisterRequiresDispatcher(t *testing.T) {
	t.Parallel()

	module := New(Config{})
	err := module.OnRegister(context.Background(), moduleRuntimeStub{registry: newServiceRegistryStub(nil)})
	if err == nil || !strings.Contains(err.Error(), "pagination resolve outbound dispatcher") {
		t.Fatalf("error = %v, want dispatcher resolution failure", err)
	}
}

func TestModuleHandleReactionNavigates(t *testing.T) {
	tests := []struct {
		name      string
		actor     fmgram.Actor
		emoji     string
		action    fmgram.ReactionAction
		wantTexts []string
	}{
		{
			name:      "owner next advances",
			actor:     fmgram.Actor{ID: "7"},
			emoji:     paging.SymbolNext,
			action:    fmgram.ReactionActionAdd,
			wantTexts: []string{"page 1", "page 2"},
		},
		{
			name:      "owner previous on first page ignored",
			actor:     fmgram.Actor{ID: "7"},
			emoji:     paging.SymbolPrevious,
			action:    fmgram.ReactionActionAdd,
			wantTexts: []string{"page 1"},
		},
		{
			name:      "other actor ignored",
			actor:     fmgram.Actor{ID: "8"},
			emoji:     paging.SymbolNext,
			action:    fmgram.ReactionActionAdd,
			wantTexts: []string{"page 1"},
		},
		{
			name:      "bot ignored",
			actor:     fmgram.Actor{ID: "7", IsBot: true},
			emoji:     paging.SymbolNext,
			action:    fmgram.ReactionActionAdd,
			wantTexts: []string{"page 1"},
		},
		{
			name:      "removal ignored",
			actor:     fmgram.Actor{ID: "7"},
			emoji:     paging.SymbolNext,
			action:    fmgram.ReactionActionRemove,
			wantTexts: []string{"page 1"},
		},
		{
			name:      "unrelated emoji ignored",
			actor:     fmgram.Actor{ID: "7"},
			emoji:     "👍",
			action:    fmgram.ReactionActionAdd,
			wantTexts: []string{"page 1"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			dispatcher := &recordingDispatcher{}
			registry := newServiceRegistryStub(map[string]any{fmgram.ServiceSinkDispatcher: dispatcher})
			module := New(Config{})
			if err := module.OnRegister(context.Background(), moduleRuntimeStub{registry: registry}); err != nil {
				t.Fatalf("OnRegister failed: %v", err)
			}

			first, err := module.router.Paginate(context.Background(), fmgram.PaginationRequest{
				Target:     fmgram.OutboundTarget{Conversation: fmgram.Conversation{ID: "-100", Type: fmgram.ConversationTypeGroup}},
				OwnerID:    "7",
				TotalPages: 3,
				Produce: func(_ context.Context, page int) (string, error) {
					return fmt.Sprintf("page %d", page), nil
				},
			})
			if err != nil {
				t.Fatalf("Paginate failed: %v", err)
			}

			event := &fmgram.Event{
				ID:           "reaction-1",
				Kind:         fmgram.EventKindReactionAdded,
				OccurredAt:   time.Unix(10, 0).UTC(),
				Conversation: fmgram.Conversation{ID: "-100", Type: fmgram.ConversationTypeGroup},
				Actor:        testCase.actor,
				Reaction: &fmgram.Reaction{
					MessageID: first.ID,
					Emoji:     testCase.emoji,
					Action:    testCase.action,
				},
			}
			if err := module.handleReaction(context.Background(), event); err != nil {
				t.Fatalf("handleReaction failed: %v", err)
			}
			// Redelivery of the same event must not move twice.
			if err := module.handleReaction(context.Background(), event); err != nil {
				t.Fatalf("handleReaction redelivery failed: %v", err)
			}

			if diff := cmp.Diff(testCase.wantTexts, dispatcher.sentTexts()); diff != "" {
				t.Fatalf("sent pages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestModuleSpecIsSerial(t *testing.T) {
	t.Parallel()

	spec := New(Config{}).Spec()
	if len(spec.Handlers) != 1 {
		t.Fatalf("handler count = %d, want 1", len(spec.Handlers))
	}
	subscription := spec.Handlers[0].Subscription
	if subscription.Workers != 1 || subscription.Backpressure != fmgram.BackpressureBlock {
		t.Fatalf("subscription = %+v, want serial blocking delivery", subscription)
	}
	if !spec.Handlers[0].Capability.Interest.RequireReaction {
		t.Fatal("expected RequireReaction to be true")
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	nextID int
	texts  []string
}

func (d *recordingDispatcher) sentTexts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.texts...)
}

func (d *recordingDispatcher) SendMessage(_ context.Context, request fmgram.SendMessageRequest) (*fmgram.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.texts = append(d.texts, request.Text)

	return &fmgram.OutboundMessage{ID: fmt.Sprintf("m%d", d.nextID), Target: request.Target}, nil
}

func (*recordingDispatcher) EditMessage(context.Context, fmgram.EditMessageRequest) error {
	return nil
}

func (*recordingDispatcher) DeleteMessage(context.Context, fmgram.DeleteMessageRequest) error {
	return nil
}

func (*recordingDispatcher) AnnotateMessage(_ context.Context, request fmgram.AnnotateMessageRequest) ([]string, error) {
	return append([]string(nil), request.Symbols...), nil
}

func (*recordingDispatcher) RetractAnnotations(context.Context, fmgram.RetractAnnotationsRequest) error {
	return nil
}

type moduleRuntimeStub struct {
	registry fmgram.ServiceRegistry
}

func (s moduleRuntimeStub) Services() fmgram.ServiceRegistry {
	return s.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	fmgram.InterestSet,
	fmgram.SubscriptionSpec,
	fmgram.EventHandler,
) (fmgram.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	mu     sync.Mutex
	values map[string]any
}

func newServiceRegistryStub(values map[string]any) *serviceRegistryStub {
	copied := make(map[string]any, len(values))
	for name, value := range values {
		copied[name] = value
	}

	return &serviceRegistryStub{values: copied}
}

func (s *serviceRegistryStub) Register(name string, service any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[name]; exists {
		return fmgram.ErrServiceAlreadyRegistered
	}
	s.values[name] = service

	return nil
}

func (s *serviceRegistryStub) Resolve(name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[name]
	if !ok {
		return nil, fmgram.ErrServiceNotFound
	}

	return value, nil
}
