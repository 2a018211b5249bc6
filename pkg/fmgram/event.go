package fmgram

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral domain event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindMessageEdited is emitted when an existing message is edited.
	EventKindMessageEdited EventKind = "message.edited"
	// EventKindMessageRetracted is emitted when a message is deleted.
	EventKindMessageRetracted EventKind = "message.retracted"
	// EventKindReactionAdded is emitted when a reaction or control press lands on a message.
	EventKindReactionAdded EventKind = "reaction.added"
	// EventKindReactionRemoved is emitted when a reaction is removed from a message.
	EventKindReactionRemoved EventKind = "reaction.removed"
	// EventKindCommandReceived is derived by the kernel from `/name` messages.
	EventKindCommandReceived EventKind = "command.received"
	// EventKindSystemCommandReceived is derived by the kernel from `~name` messages.
	EventKindSystemCommandReceived EventKind = "system_command.received"
)

// Platform identifies an external chat platform.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct conversation with the bot.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a group conversation.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeChannel is a broadcast channel.
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource identifies which configured driver instance produced an event.
type EventSource struct {
	Platform Platform
	ID       string
}

// EventSink identifies which configured driver instance should deliver an outbound operation.
type EventSink struct {
	Platform Platform
	ID       string
}

// Event is the neutral envelope that drivers publish and modules consume.
//
// Message, Mutation, Reaction and Command are payload branches selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance. Drivers must reuse the
	// same ID when a platform redelivers the same update.
	ID         string
	Kind       EventKind
	OccurredAt time.Time
	Source     EventSource
	// Platform is kept for events built without a Source.
	Platform     Platform
	Conversation Conversation
	Actor        Actor
	Message      *Message
	Mutation     *Mutation
	Reaction     *Reaction
	Command      *CommandInvocation
	Metadata     map[string]string
}

// Conversation identifies where an event happened.
type Conversation struct {
	ID    string
	Type  ConversationType
	Title string
}

// Actor identifies the account that initiated an event.
type Actor struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// Label returns the most human-friendly name known for the actor.
func (a Actor) Label() string {
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.Username != "":
		return a.Username
	default:
		return a.ID
	}
}

// Message holds neutral message content.
type Message struct {
	ID        string
	ReplyToID string
	Text      string
}

// MutationType identifies message mutation kind.
type MutationType string

const (
	// MutationTypeEdit indicates message edit.
	MutationTypeEdit MutationType = "edit"
	// MutationTypeRetraction indicates message deletion.
	MutationTypeRetraction MutationType = "retraction"
)

// Mutation holds message edit or retraction context.
type Mutation struct {
	Type            MutationType
	TargetMessageID string
	// After is the post-edit text, empty for retractions.
	After string
}

// ReactionAction identifies whether a reaction is being added or removed.
type ReactionAction string

const (
	// ReactionActionAdd indicates a reaction was added.
	ReactionActionAdd ReactionAction = "add"
	// ReactionActionRemove indicates a reaction was removed.
	ReactionActionRemove ReactionAction = "remove"
)

// Reaction holds the symbol an actor attached to a message.
//
// Drivers that render navigation as buttons report a button press as a reaction
// whose Emoji is the button symbol.
type Reaction struct {
	MessageID string
	Emoji     string
	Action    ReactionAction
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
	case EventKindMessageEdited, EventKindMessageRetracted:
		if e.Mutation == nil {
			return fmt.Errorf("%w: mutation event requires mutation payload", ErrInvalidEvent)
		}
	case EventKindReactionAdded, EventKindReactionRemoved:
		if e.Reaction == nil {
			return fmt.Errorf("%w: reaction event requires reaction payload", ErrInvalidEvent)
		}
		if e.Reaction.MessageID == "" {
			return fmt.Errorf("%w: reaction event requires message id", ErrInvalidEvent)
		}
	case EventKindCommandReceived, EventKindSystemCommandReceived:
		if e.Command == nil {
			return fmt.Errorf("%w: command event requires command payload", ErrInvalidEvent)
		}
		if err := e.Command.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// SourceMessageID returns the message that triggered this event, if any.
func (e *Event) SourceMessageID() string {
	if e == nil {
		return ""
	}
	if e.Message != nil && e.Message.ID != "" {
		return e.Message.ID
	}
	if e.Mutation != nil {
		return e.Mutation.TargetMessageID
	}

	return ""
}
