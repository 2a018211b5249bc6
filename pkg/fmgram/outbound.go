package fmgram

import (
	"context"
	"fmt"
)

// SinkDispatcher sends neutral outbound operations to a platform sink.
type SinkDispatcher interface {
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	EditMessage(ctx context.Context, request EditMessageRequest) error
	// DeleteMessage removes a message. Callers treat failures as best-effort.
	DeleteMessage(ctx context.Context, request DeleteMessageRequest) error
	// AnnotateMessage attaches interactive controls, one per symbol, and
	// returns an identifier for each attached control in symbol order.
	AnnotateMessage(ctx context.Context, request AnnotateMessageRequest) ([]string, error)
	// RetractAnnotations removes previously attached controls.
	RetractAnnotations(ctx context.Context, request RetractAnnotationsRequest) error
}

// EventSinkCatalog lists active sink identities.
type EventSinkCatalog interface {
	ListSinks(ctx context.Context) ([]EventSink, error)
	ListSinksByPlatform(ctx context.Context, platform Platform) ([]EventSink, error)
}

// OutboundTarget identifies where an outbound operation should be delivered.
type OutboundTarget struct {
	Conversation Conversation
	// Sink overrides runtime-configured sink routing when set.
	Sink *EventSink
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Conversation.Type == "" {
		return fmt.Errorf("%w: missing conversation type", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil && t.Sink.Platform == "" && t.Sink.ID == "" {
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a reply destination from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	platform := event.Source.Platform
	if platform == "" {
		platform = event.Platform
	}
	target := OutboundTarget{Conversation: event.Conversation}
	if platform != "" || event.Source.ID != "" {
		target.Sink = &EventSink{Platform: platform, ID: event.Source.ID}
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage identifies a message emitted by the dispatcher.
type OutboundMessage struct {
	ID     string
	Target OutboundTarget
}

// SendMessageRequest describes a new outbound text message.
type SendMessageRequest struct {
	Target             OutboundTarget
	Text               string
	ReplyToMessageID   string
	DisableLinkPreview bool
	Silent             bool
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}

// EditMessageRequest describes a text edit for an existing message.
type EditMessageRequest struct {
	Target             OutboundTarget
	MessageID          string
	Text               string
	DisableLinkPreview bool
}

// Validate checks the request envelope before dispatch.
func (r EditMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate edit message target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}

// DeleteMessageRequest describes message deletion.
type DeleteMessageRequest struct {
	Target    OutboundTarget
	MessageID string
	// Revoke deletes for all participants when supported.
	Revoke bool
}

// Validate checks the request envelope before dispatch.
func (r DeleteMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate delete message target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}

	return nil
}

// AnnotateMessageRequest attaches one control per symbol to a message.
type AnnotateMessageRequest struct {
	Target    OutboundTarget
	MessageID string
	Symbols   []string
}

// Validate checks the request envelope before dispatch.
func (r AnnotateMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate annotate message target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}
	if len(r.Symbols) == 0 {
		return fmt.Errorf("%w: missing annotation symbols", ErrInvalidOutboundRequest)
	}
	for index, symbol := range r.Symbols {
		if symbol == "" {
			return fmt.Errorf("%w: empty annotation symbol at %d", ErrInvalidOutboundRequest, index)
		}
	}

	return nil
}

// RetractAnnotationsRequest removes previously attached controls.
type RetractAnnotationsRequest struct {
	Target     OutboundTarget
	MessageID  string
	ControlIDs []string
}

// Validate checks the request envelope before dispatch.
func (r RetractAnnotationsRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate retract annotations target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}

	return nil
}
