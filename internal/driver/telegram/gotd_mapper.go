package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fmgram/pkg/fmgram"

	"github.com/gotd/td/tg"
)

const (
	gotdUnknownConversationID = "unknown"
	gotdUnknownActorID        = "unknown"
)

// GotdUpdateMapper maps flattened gotd envelopes into adapter updates.
type GotdUpdateMapper interface {
	// Map converts one envelope. accepted is false for update classes the
	// adapter does not surface.
	Map(ctx context.Context, envelope gotdUpdateEnvelope) (update Update, accepted bool, err error)
}

// DefaultGotdUpdateMapper maps gotd updates into adapter DTO updates.
type DefaultGotdUpdateMapper struct {
	peerCache *PeerCache
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache records entity-derived peers for outbound dispatch.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peerCache = cache
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd envelope into an adapter update.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, envelope gotdUpdateEnvelope) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update context: %w", err)
	}
	if envelope.update == nil {
		return Update{}, false, fmt.Errorf("map gotd update: nil update")
	}
	m.peerCache.RememberEnvelope(envelope)

	if envelope.reaction != nil {
		return m.mapReactionDelta(envelope)
	}

	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapMessage(update.Message, envelope, UpdateTypeMessage)
	case *tg.UpdateNewChannelMessage:
		return m.mapMessage(update.Message, envelope, UpdateTypeMessage)
	case *tg.UpdateEditMessage:
		return m.mapMessage(update.Message, envelope, UpdateTypeEdit)
	case *tg.UpdateEditChannelMessage:
		return m.mapMessage(update.Message, envelope, UpdateTypeEdit)
	case *tg.UpdateDeleteMessages:
		if len(update.Messages) == 0 {
			return Update{}, false, nil
		}
		// Private and basic group deletions do not name their chat.
		chat := ChatRef{ID: gotdUnknownConversationID, Type: fmgram.ConversationTypePrivate}
		return m.mapDelete(chat, update.Messages[0], envelope), true, nil
	case *tg.UpdateDeleteChannelMessages:
		if len(update.Messages) == 0 {
			return Update{}, false, nil
		}
		return m.mapDelete(resolveChatByChannelID(update.ChannelID, envelope), update.Messages[0], envelope), true, nil
	case *tg.UpdateBotCallbackQuery:
		return m.mapCallbackQuery(update, envelope)
	default:
		return Update{}, false, nil
	}
}

func (m DefaultGotdUpdateMapper) mapMessage(
	raw tg.MessageClass,
	envelope gotdUpdateEnvelope,
	updateType UpdateType,
) (Update, bool, error) {
	message, ok := raw.(*tg.Message)
	if !ok || message.Out {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(message.PeerID, envelope)
	actor := resolveActorFromPeer(message.FromID, envelope)
	if actor.ID == gotdUnknownActorID {
		actor = resolveActorFromPeer(message.PeerID, envelope)
	}
	m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(message.PeerID, envelope))

	messageID := strconv.Itoa(message.ID)
	occurredAt := intToTimeUTC(message.Date)
	if updateType == UpdateTypeEdit {
		if editedAt, ok := message.GetEditDate(); ok {
			occurredAt = intToTimeUTC(editedAt)
		}
	}
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}

	update := Update{
		ID:         composeUpdateID(updateType, chat.ID, messageID, occurredAt),
		Type:       updateType,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Metadata:   newGotdMetadata(envelope),
	}
	if updateType == UpdateTypeEdit {
		update.Edit = &EditPayload{MessageID: messageID, Text: message.Message}
		return update, true, nil
	}

	update.Message = &MessagePayload{ID: messageID, Text: message.Message}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToID, ok := header.GetReplyToMsgID(); ok {
				update.Message.ReplyToID = strconv.Itoa(replyToID)
			}
		}
	}

	return update, true, nil
}

func (m DefaultGotdUpdateMapper) mapDelete(chat ChatRef, messageID int, envelope gotdUpdateEnvelope) Update {
	occurredAt := envelope.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	id := strconv.Itoa(messageID)

	return Update{
		ID:         composeUpdateID(UpdateTypeDelete, chat.ID, id, occurredAt),
		Type:       UpdateTypeDelete,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      ActorRef{ID: gotdUnknownActorID},
		Delete:     &DeletePayload{MessageID: id},
		Metadata:   newGotdMetadata(envelope),
	}
}

func (m DefaultGotdUpdateMapper) mapReactionDelta(envelope gotdUpdateEnvelope) (Update, bool, error) {
	delta := envelope.reaction
	if delta.emoji == "" {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(delta.peer, envelope)
	actor := resolveActorFromPeer(delta.actor, envelope)
	occurredAt := envelope.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(delta.peer, envelope))
	messageID := strconv.Itoa(delta.messageID)

	return Update{
		ID:         composeUpdateID(delta.action, chat.ID, messageID, delta.emoji, occurredAt),
		Type:       delta.action,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Reaction:   &ReactionPayload{MessageID: messageID, Emoji: delta.emoji},
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

func (m DefaultGotdUpdateMapper) mapCallbackQuery(
	query *tg.UpdateBotCallbackQuery,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	data, ok := query.GetData()
	if !ok || len(data) == 0 {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(query.Peer, envelope)
	m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(query.Peer, envelope))
	occurredAt := envelope.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	queryID := strconv.FormatInt(query.QueryID, 10)

	return Update{
		// Query IDs are unique per press, so a redelivered press keeps its ID.
		ID:         composeUpdateID(UpdateTypeCallback, chat.ID, queryID),
		Type:       UpdateTypeCallback,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      resolveActorByUserID(query.UserID, envelope),
		Callback: &CallbackPayload{
			QueryID:   query.QueryID,
			MessageID: strconv.Itoa(query.MsgID),
			Data:      string(data),
		},
		Metadata: newGotdMetadata(envelope),
	}, true, nil
}

type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
	reaction    *gotdReactionDelta
}

type gotdReactionDelta struct {
	action    UpdateType
	messageID int
	emoji     string
	actor     tg.PeerClass
	peer      tg.PeerClass
}

type gotdChatInfo struct {
	title     string
	kind      fmgram.ConversationType
	inputPeer tg.InputPeerClass
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if notEmpty, ok := user.AsNotEmpty(); ok && notEmpty != nil {
			out[notEmpty.ID] = notEmpty
		}
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      fmgram.ConversationTypeGroup,
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.ChatForbidden:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      fmgram.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      channelKind(typed.Megagroup),
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.ChannelForbidden:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      channelKind(typed.Megagroup),
				inputPeer: &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
			}
		}
	}

	return out
}

// channelKind reports supergroups as groups; only broadcast channels are channels.
func channelKind(megagroup bool) fmgram.ConversationType {
	if megagroup {
		return fmgram.ConversationTypeGroup
	}

	return fmgram.ConversationTypeChannel
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{ID: actor.ID, Type: fmgram.ConversationTypePrivate, Title: actor.DisplayName}
	case *tg.PeerChat:
		return resolveChatByID(typed.ChatID, fmgram.ConversationTypeGroup, envelope)
	case *tg.PeerChannel:
		return resolveChatByChannelID(typed.ChannelID, envelope)
	default:
		return ChatRef{ID: gotdUnknownConversationID, Type: fmgram.ConversationTypePrivate}
	}
}

func resolveChatByChannelID(channelID int64, envelope gotdUpdateEnvelope) ChatRef {
	return resolveChatByID(channelID, fmgram.ConversationTypeChannel, envelope)
}

func resolveChatByID(id int64, fallback fmgram.ConversationType, envelope gotdUpdateEnvelope) ChatRef {
	ref := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if info, ok := envelope.chatsByID[id]; ok {
		ref.Title = info.title
		ref.Type = info.kind
	}

	return ref
}

func resolveActorFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return resolveActorByUserID(typed.UserID, envelope)
	case *tg.PeerChat:
		return ActorRef{ID: strconv.FormatInt(typed.ChatID, 10), DisplayName: envelope.chatsByID[typed.ChatID].title}
	case *tg.PeerChannel:
		return ActorRef{ID: strconv.FormatInt(typed.ChannelID, 10), DisplayName: envelope.chatsByID[typed.ChannelID].title}
	default:
		return ActorRef{ID: gotdUnknownActorID}
	}
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{ID: gotdUnknownActorID}
	}
	id := strconv.FormatInt(userID, 10)

	user, ok := envelope.usersByID[userID]
	if !ok || user == nil {
		return ActorRef{ID: id}
	}

	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()
	displayName := strings.TrimSpace(firstName + " " + lastName)
	if displayName == "" {
		displayName = username
	}

	return ActorRef{ID: id, Username: username, DisplayName: displayName, IsBot: user.Bot}
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user, ok := envelope.usersByID[typed.UserID]; ok && user != nil {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		if typed.ChatID != 0 {
			return &tg.InputPeerChat{ChatID: typed.ChatID}
		}
	case *tg.PeerChannel:
		if info, ok := envelope.chatsByID[typed.ChannelID]; ok && info.inputPeer != nil {
			return cloneInputPeer(info.inputPeer)
		}
	}

	return nil
}

func reactionToEmoji(reaction tg.ReactionClass) string {
	switch typed := reaction.(type) {
	case *tg.ReactionEmoji:
		return typed.Emoticon
	case *tg.ReactionCustomEmoji:
		return "custom:" + strconv.FormatInt(typed.DocumentID, 10)
	default:
		return ""
	}
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}

// composeUpdateID builds a deterministic event ID so that redelivered
// updates de-duplicate downstream.
func composeUpdateID(updateType UpdateType, chatID string, parts ...any) string {
	values := []string{"tg", string(updateType)}
	if chatID != "" {
		values = append(values, chatID)
	}
	for _, part := range parts {
		switch typed := part.(type) {
		case string:
			if typed != "" {
				values = append(values, typed)
			}
		case time.Time:
			if !typed.IsZero() {
				values = append(values, strconv.FormatInt(typed.Unix(), 10))
			}
		default:
			values = append(values, fmt.Sprint(part))
		}
	}

	return strings.Join(values, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
