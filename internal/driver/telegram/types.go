package telegram

import (
	"time"

	"fmgram/pkg/fmgram"
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new message updates.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeEdit identifies edited message updates.
	UpdateTypeEdit UpdateType = "edit"
	// UpdateTypeDelete identifies deleted message updates.
	UpdateTypeDelete UpdateType = "delete"
	// UpdateTypeReactionAdd identifies reaction add updates.
	UpdateTypeReactionAdd UpdateType = "reaction_add"
	// UpdateTypeReactionRemove identifies reaction remove updates.
	UpdateTypeReactionRemove UpdateType = "reaction_remove"
	// UpdateTypeCallback identifies inline keyboard button presses.
	UpdateTypeCallback UpdateType = "callback"
)

// Update is the adapter's internal DTO before neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Edit       *EditPayload
	Delete     *DeletePayload
	Reaction   *ReactionPayload
	Callback   *CallbackPayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
type ChatRef struct {
	ID    string
	Title string
	Type  fmgram.ConversationType
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload is a Telegram text message projection.
type MessagePayload struct {
	ID        string
	ReplyToID string
	Text      string
}

// EditPayload carries the post-edit text of a message.
type EditPayload struct {
	MessageID string
	Text      string
}

// DeletePayload identifies a deleted message.
type DeletePayload struct {
	MessageID string
}

// ReactionPayload captures emoji reaction metadata.
type ReactionPayload struct {
	MessageID string
	Emoji     string
}

// CallbackPayload captures one inline keyboard button press.
type CallbackPayload struct {
	// QueryID must be answered so the client stops its progress indicator.
	QueryID   int64
	MessageID string
	// Data is the button payload, which is the control symbol for buttons
	// attached by AnnotateMessage.
	Data string
}
