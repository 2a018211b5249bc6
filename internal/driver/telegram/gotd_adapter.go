package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUpdateChannel bridges gotd's push-style update handler into a pull
// stream consumed by GotdBotSource.
type GotdUpdateChannel struct {
	updates chan gotdUpdateEnvelope
}

// NewGotdUpdateChannel creates an update bridge with the given buffer.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan gotdUpdateEnvelope, buffer)}
}

// Updates returns the stream of flattened update envelopes.
func (s *GotdUpdateChannel) Updates() <-chan gotdUpdateEnvelope {
	return s.updates
}

// Handle flattens gotd update containers and forwards each unit to the stream.
// It blocks while the stream is full, which applies backpressure to gotd.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates publish: %w", ctx.Err())
		case s.updates <- item:
		}
	}

	return nil
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return flattenSingleGotdUpdate(typed.Update, intToTimeUTC(typed.Date), nil, nil), nil
	case *tg.UpdateShortMessage:
		message := &tg.Message{
			ID:      typed.ID,
			PeerID:  &tg.PeerUser{UserID: typed.UserID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.UserID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		return shortMessageEnvelope(message, typed.TypeName()), nil
	case *tg.UpdateShortChatMessage:
		message := &tg.Message{
			ID:      typed.ID,
			PeerID:  &tg.PeerChat{ChatID: typed.ChatID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.FromID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		return shortMessageEnvelope(message, typed.TypeName()), nil
	case *tg.UpdatesTooLong, *tg.UpdateShortSentMessage:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func shortMessageEnvelope(message *tg.Message, class string) []gotdUpdateEnvelope {
	return []gotdUpdateEnvelope{{
		update:      &tg.UpdateNewMessage{Message: message},
		occurredAt:  intToTimeUTC(message.Date),
		updateClass: class,
	}}
}

func flattenGotdBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []gotdUpdateEnvelope {
	occurredAt := intToTimeUTC(date)
	usersByID := indexGotdUsers(users)
	chatsByID := indexGotdChats(chats)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		batch = append(batch, flattenSingleGotdUpdate(update, occurredAt, usersByID, chatsByID)...)
	}

	return batch
}

func flattenSingleGotdUpdate(
	update tg.UpdateClass,
	occurredAt time.Time,
	usersByID map[int64]*tg.User,
	chatsByID map[int64]gotdChatInfo,
) []gotdUpdateEnvelope {
	if update == nil {
		return nil
	}
	envelope := gotdUpdateEnvelope{
		update:      update,
		occurredAt:  occurredAt,
		usersByID:   usersByID,
		chatsByID:   chatsByID,
		updateClass: update.TypeName(),
	}

	switch typed := update.(type) {
	case *tg.UpdateDeleteMessages:
		items := make([]gotdUpdateEnvelope, 0, len(typed.Messages))
		for _, messageID := range typed.Messages {
			clone := *typed
			clone.Messages = []int{messageID}
			item := envelope
			item.update = &clone
			items = append(items, item)
		}
		return items
	case *tg.UpdateDeleteChannelMessages:
		items := make([]gotdUpdateEnvelope, 0, len(typed.Messages))
		for _, messageID := range typed.Messages {
			clone := *typed
			clone.Messages = []int{messageID}
			item := envelope
			item.update = &clone
			items = append(items, item)
		}
		return items
	case *tg.UpdateBotMessageReaction:
		return flattenBotReactionUpdate(typed, envelope)
	default:
		return []gotdUpdateEnvelope{envelope}
	}
}

// flattenBotReactionUpdate turns an old/new reaction set pair into one
// envelope per added or removed emoji.
func flattenBotReactionUpdate(update *tg.UpdateBotMessageReaction, base gotdUpdateEnvelope) []gotdUpdateEnvelope {
	oldSet := mapReactionsToSet(update.OldReactions)
	newSet := mapReactionsToSet(update.NewReactions)
	if occurredAt := intToTimeUTC(update.Date); !occurredAt.IsZero() {
		base.occurredAt = occurredAt
	}

	items := make([]gotdUpdateEnvelope, 0, len(oldSet)+len(newSet))
	appendDelta := func(action UpdateType, emoji string) {
		item := base
		item.reaction = &gotdReactionDelta{
			action:    action,
			messageID: update.MsgID,
			emoji:     emoji,
			actor:     update.Actor,
			peer:      update.Peer,
		}
		items = append(items, item)
	}
	for _, reaction := range update.NewReactions {
		emoji := reactionToEmoji(reaction)
		if _, existed := oldSet[emoji]; emoji != "" && !existed {
			appendDelta(UpdateTypeReactionAdd, emoji)
		}
	}
	for _, reaction := range update.OldReactions {
		emoji := reactionToEmoji(reaction)
		if _, kept := newSet[emoji]; emoji != "" && !kept {
			appendDelta(UpdateTypeReactionRemove, emoji)
		}
	}

	return items
}

func mapReactionsToSet(reactions []tg.ReactionClass) map[string]struct{} {
	out := make(map[string]struct{}, len(reactions))
	for _, reaction := range reactions {
		if emoji := reactionToEmoji(reaction); emoji != "" {
			out[emoji] = struct{}{}
		}
	}

	return out
}
