package telegram

import (
	"context"
	"fmt"
	"time"

	"fmgram/pkg/fmgram"
)

// Decoder converts Telegram update DTOs into neutral events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*fmgram.Event, error)
}

// DefaultDecoder provides the default Telegram-to-fmgram mappings.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event.
//
// Callback presses decode to reaction.added so that inline keyboard controls
// and native reactions drive the same consumers.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*fmgram.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeMessage:
		if update.Message == nil {
			return nil, fmt.Errorf("decode message: missing payload")
		}
		event.Kind = fmgram.EventKindMessageCreated
		event.Message = &fmgram.Message{
			ID:        update.Message.ID,
			ReplyToID: update.Message.ReplyToID,
			Text:      update.Message.Text,
		}
	case UpdateTypeEdit:
		if update.Edit == nil {
			return nil, fmt.Errorf("decode edit: missing payload")
		}
		event.Kind = fmgram.EventKindMessageEdited
		event.Mutation = &fmgram.Mutation{
			Type:            fmgram.MutationTypeEdit,
			TargetMessageID: update.Edit.MessageID,
			After:           update.Edit.Text,
		}
	case UpdateTypeDelete:
		if update.Delete == nil {
			return nil, fmt.Errorf("decode delete: missing payload")
		}
		event.Kind = fmgram.EventKindMessageRetracted
		event.Mutation = &fmgram.Mutation{
			Type:            fmgram.MutationTypeRetraction,
			TargetMessageID: update.Delete.MessageID,
		}
	case UpdateTypeReactionAdd, UpdateTypeReactionRemove:
		if update.Reaction == nil {
			return nil, fmt.Errorf("decode reaction: missing payload")
		}
		event.Kind = fmgram.EventKindReactionAdded
		action := fmgram.ReactionActionAdd
		if update.Type == UpdateTypeReactionRemove {
			event.Kind = fmgram.EventKindReactionRemoved
			action = fmgram.ReactionActionRemove
		}
		event.Reaction = &fmgram.Reaction{
			MessageID: update.Reaction.MessageID,
			Emoji:     update.Reaction.Emoji,
			Action:    action,
		}
	case UpdateTypeCallback:
		if update.Callback == nil {
			return nil, fmt.Errorf("decode callback: missing payload")
		}
		event.Kind = fmgram.EventKindReactionAdded
		event.Reaction = &fmgram.Reaction{
			MessageID: update.Callback.MessageID,
			Emoji:     update.Callback.Data,
			Action:    fmgram.ReactionActionAdd,
		}
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

func newBaseEvent(update Update) *fmgram.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &fmgram.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Platform:   fmgram.PlatformTelegram,
		Conversation: fmgram.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: fmgram.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
		},
		Metadata: update.Metadata,
	}
}
