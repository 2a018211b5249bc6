// Package pagination keeps navigation state for multi-page replies and turns
// owner reactions into page transitions.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"fmgram/pkg/fmgram"
)

const (
	defaultRegistrySize = 1024
	defaultRegistryTTL  = 24 * time.Hour
)

var (
	// ErrInvalidTotalPages rejects registrations with fewer than one page.
	ErrInvalidTotalPages = errors.New("pagination: total pages must be at least 1")
	// ErrInvalidPage rejects a current page outside [1, total].
	ErrInvalidPage = errors.New("pagination: page out of range")
	// ErrNotRegistered reports a lookup for a message with no navigation state.
	ErrNotRegistered = errors.New("pagination: message not registered")
	// ErrInvalidDirection rejects directions other than -1 and +1.
	ErrInvalidDirection = errors.New("pagination: direction must be -1 or +1")
)

// State is the navigation state of one rendered multi-page message.
type State struct {
	MessageID string
	// OwnerID is the only actor allowed to navigate.
	OwnerID     string
	CurrentPage int
	TotalPages  int
	Produce     fmgram.PageProducer
	// ControlIDs lists the navigation controls currently attached to MessageID.
	ControlIDs       []string
	Target           fmgram.OutboundTarget
	ReplyToMessageID string
}

// Ref returns the registry key of the message showing this state.
func (s State) Ref() MessageRef {
	return MessageRef{ConversationID: s.Target.Conversation.ID, MessageID: s.MessageID}
}

func (s State) clone() State {
	s.ControlIDs = append([]string(nil), s.ControlIDs...)
	return s
}

// MessageRef identifies one rendered message. Message IDs are only unique
// within their conversation.
type MessageRef struct {
	ConversationID string
	MessageID      string
}

func (r MessageRef) String() string {
	return r.ConversationID + "/" + r.MessageID
}

// Registry maps messages to navigation state. Entries are evicted when the
// registry is full or when a message has not changed page within the TTL.
type Registry struct {
	mu      sync.Mutex
	entries *expirable.LRU[MessageRef, State]
}

// NewRegistry creates a registry holding at most size entries for ttl each.
// Non-positive arguments select the defaults.
func NewRegistry(size int, ttl time.Duration) *Registry {
	if size <= 0 {
		size = defaultRegistrySize
	}
	if ttl <= 0 {
		ttl = defaultRegistryTTL
	}

	return &Registry{entries: expirable.NewLRU[MessageRef, State](size, nil, ttl)}
}

// Register stores state under its conversation and message ID, replacing any
// previous entry for that message.
func (r *Registry) Register(state State) error {
	if state.TotalPages < 1 {
		return fmt.Errorf("register %s: %w", state.MessageID, ErrInvalidTotalPages)
	}
	if state.CurrentPage == 0 {
		state.CurrentPage = 1
	}
	if state.CurrentPage < 1 || state.CurrentPage > state.TotalPages {
		return fmt.Errorf("register %s page %d of %d: %w", state.MessageID, state.CurrentPage, state.TotalPages, ErrInvalidPage)
	}
	if state.MessageID == "" {
		return fmt.Errorf("register: missing message id")
	}
	if state.Produce == nil {
		return fmt.Errorf("register %s: nil content producer", state.MessageID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Add(state.Ref(), state.clone())

	return nil
}

// Get returns a copy of the state registered for ref.
func (r *Registry) Get(ref MessageRef) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, found := r.entries.Peek(ref)
	if !found {
		return State{}, false
	}

	return state.clone(), true
}

// Advance renders the page one step in direction from the current page.
//
// When the target page is out of range moved is false and the producer is not
// called. Advance never mutates the entry; Rebind commits the new page
// together with the message that shows it.
func (r *Registry) Advance(ctx context.Context, ref MessageRef, direction int) (content string, page int, moved bool, err error) {
	if direction != -1 && direction != 1 {
		return "", 0, false, ErrInvalidDirection
	}

	state, found := r.Get(ref)
	if !found {
		return "", 0, false, fmt.Errorf("advance %s: %w", ref, ErrNotRegistered)
	}

	page = state.CurrentPage + direction
	if page < 1 || page > state.TotalPages {
		return "", state.CurrentPage, false, nil
	}

	content, err = state.Produce(ctx, page)
	if err != nil {
		return "", state.CurrentPage, false, fmt.Errorf("advance %s to page %d: %w", ref, page, err)
	}

	return content, page, true, nil
}

// Rebind moves the entry for old to newID in the same conversation, sets its
// page, and clears its controls. The old key stops resolving.
func (r *Registry) Rebind(old MessageRef, newID string, page int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, found := r.entries.Peek(old)
	if !found {
		return fmt.Errorf("rebind %s: %w", old, ErrNotRegistered)
	}
	if page < 1 || page > state.TotalPages {
		return fmt.Errorf("rebind %s page %d of %d: %w", old, page, state.TotalPages, ErrInvalidPage)
	}

	r.entries.Remove(old)
	state.MessageID = newID
	state.CurrentPage = page
	state.ControlIDs = nil
	r.entries.Add(state.Ref(), state)

	return nil
}

// SetControls records the controls currently attached to ref.
func (r *Registry) SetControls(ref MessageRef, controlIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, found := r.entries.Peek(ref)
	if !found {
		return fmt.Errorf("set controls %s: %w", ref, ErrNotRegistered)
	}
	state.ControlIDs = append([]string(nil), controlIDs...)
	r.entries.Add(ref, state)

	return nil
}

// Remove drops the entry for ref.
func (r *Registry) Remove(ref MessageRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Remove(ref)
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}
