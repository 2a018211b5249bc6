package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"fmgram/pkg/fmgram"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultOutboundTimeout = 3 * time.Second
	// Keyboards are tracked for as long as pagination state can stay live.
	defaultKeyboardLedgerSize = 4096
	defaultKeyboardLedgerTTL  = 48 * time.Hour
)

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout bounds each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithSinkRef configures the sink identity stamped on outbound errors.
func WithSinkRef(ref fmgram.EventSink) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.sink = ref
		if cfg.sink.Platform == "" {
			cfg.sink.Platform = DriverPlatform
		}
	}
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	sink       fmgram.EventSink
}

// SinkDispatcher adapts neutral outbound operations to Telegram bot RPC calls.
//
// Annotations are rendered as a single-row inline keyboard whose callback
// data is the symbol itself, so a press decodes back to a reaction with the
// same symbol. Control IDs are the symbols.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC

	// keyboardMu serializes read-modify-write of keyboards.
	keyboardMu sync.Mutex
	keyboards  *expirable.LRU[string, []string]
}

// NewOutboundDispatcher creates a dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		sink:       fmgram.EventSink{Platform: DriverPlatform},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{
		cfg:       cfg,
		peers:     peers,
		telegram:  rpc,
		keyboards: expirable.NewLRU[string, []string](defaultKeyboardLedgerSize, nil, defaultKeyboardLedgerTTL),
	}, nil
}

// SendMessage publishes a text message to a Telegram conversation.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request fmgram.SendMessageRequest,
) (*fmgram.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}
	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message resolve peer: %w", err)
	}
	var replyTo int
	if request.ReplyToMessageID != "" {
		if replyTo, err = parseMessageID(request.ReplyToMessageID); err != nil {
			return nil, fmt.Errorf("send message parse reply id: %w", err)
		}
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	id, err := d.telegram.SendText(rpcCtx, peer, replyTo, request)
	if err != nil {
		return nil, fmt.Errorf(
			"send message to %s: %w",
			request.Target.Conversation.ID,
			mapTelegramOutboundError(fmgram.OutboundOperationSendMessage, d.cfg.sink, err),
		)
	}

	d.logOutbound(ctx, fmgram.OutboundOperationSendMessage, request.Target,
		"message_id", id,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &fmgram.OutboundMessage{ID: strconv.Itoa(id), Target: request.Target}, nil
}

// EditMessage updates text for an existing Telegram message.
func (d *SinkDispatcher) EditMessage(ctx context.Context, request fmgram.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}
	peer, messageID, err := d.resolveMessage(request.Target, request.MessageID)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.telegram.EditText(rpcCtx, peer, messageID, request); err != nil && !tgerr.Is(err, rpcMessageNotModified) {
		return fmt.Errorf(
			"edit message %s: %w",
			request.MessageID,
			mapTelegramOutboundError(fmgram.OutboundOperationEditMessage, d.cfg.sink, err),
		)
	}

	d.logOutbound(ctx, fmgram.OutboundOperationEditMessage, request.Target, "message_id", request.MessageID)

	return nil
}

// DeleteMessage removes an existing Telegram message.
func (d *SinkDispatcher) DeleteMessage(ctx context.Context, request fmgram.DeleteMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("delete message validate: %w", err)
	}
	peer, messageID, err := d.resolveMessage(request.Target, request.MessageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.telegram.DeleteMessage(rpcCtx, peer, messageID, request.Revoke); err != nil {
		return fmt.Errorf(
			"delete message %s: %w",
			request.MessageID,
			mapTelegramOutboundError(fmgram.OutboundOperationDeleteMessage, d.cfg.sink, err),
		)
	}
	d.keyboards.Remove(keyboardKey(request.Target, messageID))

	d.logOutbound(ctx, fmgram.OutboundOperationDeleteMessage, request.Target,
		"message_id", request.MessageID,
		"revoke", request.Revoke,
	)

	return nil
}

// AnnotateMessage adds one inline button per symbol, keeping buttons that are
// already attached. It returns the symbols as control IDs.
func (d *SinkDispatcher) AnnotateMessage(
	ctx context.Context,
	request fmgram.AnnotateMessageRequest,
) ([]string, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("annotate message validate: %w", err)
	}
	peer, messageID, err := d.resolveMessage(request.Target, request.MessageID)
	if err != nil {
		return nil, fmt.Errorf("annotate message: %w", err)
	}

	d.keyboardMu.Lock()
	defer d.keyboardMu.Unlock()

	key := keyboardKey(request.Target, messageID)
	current, _ := d.keyboards.Get(key)
	next := slices.Clone(current)
	for _, symbol := range request.Symbols {
		if !slices.Contains(next, symbol) {
			next = append(next, symbol)
		}
	}

	if err := d.setKeyboard(ctx, peer, messageID, next); err != nil {
		return nil, fmt.Errorf(
			"annotate message %s: %w",
			request.MessageID,
			mapTelegramOutboundError(fmgram.OutboundOperationAnnotateMessage, d.cfg.sink, err),
		)
	}
	d.keyboards.Add(key, next)

	d.logOutbound(ctx, fmgram.OutboundOperationAnnotateMessage, request.Target,
		"message_id", request.MessageID,
		"controls", strings.Join(next, " "),
	)

	return slices.Clone(request.Symbols), nil
}

// RetractAnnotations removes the named controls, or every control when none
// are named. Unknown messages have their keyboard cleared.
func (d *SinkDispatcher) RetractAnnotations(ctx context.Context, request fmgram.RetractAnnotationsRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("retract annotations validate: %w", err)
	}
	peer, messageID, err := d.resolveMessage(request.Target, request.MessageID)
	if err != nil {
		return fmt.Errorf("retract annotations: %w", err)
	}

	d.keyboardMu.Lock()
	defer d.keyboardMu.Unlock()

	key := keyboardKey(request.Target, messageID)
	var remaining []string
	if current, ok := d.keyboards.Get(key); ok && len(request.ControlIDs) > 0 {
		remaining = slices.DeleteFunc(slices.Clone(current), func(symbol string) bool {
			return slices.Contains(request.ControlIDs, symbol)
		})
	}

	if err := d.setKeyboard(ctx, peer, messageID, remaining); err != nil {
		return fmt.Errorf(
			"retract annotations %s: %w",
			request.MessageID,
			mapTelegramOutboundError(fmgram.OutboundOperationRetractAnnotations, d.cfg.sink, err),
		)
	}
	if len(remaining) == 0 {
		d.keyboards.Remove(key)
	} else {
		d.keyboards.Add(key, remaining)
	}

	d.logOutbound(ctx, fmgram.OutboundOperationRetractAnnotations, request.Target,
		"message_id", request.MessageID,
		"controls", strings.Join(remaining, " "),
	)

	return nil
}

func (d *SinkDispatcher) setKeyboard(ctx context.Context, peer tg.InputPeerClass, messageID int, symbols []string) error {
	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	err := d.telegram.SetKeyboard(rpcCtx, peer, messageID, symbols)
	if err != nil && !tgerr.Is(err, rpcMessageNotModified) {
		return err
	}

	return nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

func (d *SinkDispatcher) resolvePeer(target fmgram.OutboundTarget) (tg.InputPeerClass, error) {
	if target.Sink != nil && target.Sink.Platform != "" && target.Sink.Platform != DriverPlatform {
		return nil, fmt.Errorf("%w: platform %s", fmgram.ErrOutboundUnsupported, target.Sink.Platform)
	}

	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fmgram.ErrOutboundUnsupported, err)
	}

	return peer, nil
}

func (d *SinkDispatcher) resolveMessage(target fmgram.OutboundTarget, rawID string) (tg.InputPeerClass, int, error) {
	peer, err := d.resolvePeer(target)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve peer: %w", err)
	}
	messageID, err := parseMessageID(rawID)
	if err != nil {
		return nil, 0, fmt.Errorf("parse id %s: %w", rawID, err)
	}

	return peer, messageID, nil
}

func (d *SinkDispatcher) logOutbound(
	ctx context.Context,
	operation fmgram.OutboundOperation,
	target fmgram.OutboundTarget,
	attrs ...any,
) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 8+len(attrs))
	values = append(values,
		"operation", operation,
		"sink_id", d.cfg.sink.ID,
		"conversation", target.Conversation.ID,
		"conversation_type", target.Conversation.Type,
	)
	d.cfg.logger.InfoContext(ctx, "telegram outbound operation", append(values, attrs...)...)
}

func keyboardKey(target fmgram.OutboundTarget, messageID int) string {
	return conversationKey(target.Conversation.Type, target.Conversation.ID) + ":" + strconv.Itoa(messageID)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", fmgram.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", fmgram.ErrInvalidOutboundRequest)
	}

	return value, nil
}

func inlineKeyboard(symbols []string) *tg.ReplyInlineMarkup {
	buttons := make([]tg.KeyboardButtonClass, 0, len(symbols))
	for _, symbol := range symbols {
		buttons = append(buttons, &tg.KeyboardButtonCallback{Text: symbol, Data: []byte(symbol)})
	}
	if len(buttons) == 0 {
		return &tg.ReplyInlineMarkup{}
	}

	return &tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{{Buttons: buttons}}}
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, replyTo int, request fmgram.SendMessageRequest) (int, error)
	EditText(ctx context.Context, peer tg.InputPeerClass, messageID int, request fmgram.EditMessageRequest) error
	DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int, revoke bool) error
	// SetKeyboard replaces the inline keyboard; an empty symbol list removes it.
	SetKeyboard(ctx context.Context, peer tg.InputPeerClass, messageID int, symbols []string) error
}

type gotdOutboundRPC struct {
	raw    *tg.Client
	rand   io.Reader
	sender *message.Sender
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	raw := client.API()

	return gotdOutboundRPC{
		raw:    raw,
		rand:   crypto.DefaultRand(),
		sender: message.NewSender(raw),
	}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	replyTo int,
	request fmgram.SendMessageRequest,
) (int, error) {
	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}

	sendRequest := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   request.Text,
		NoWebpage: request.DisableLinkPreview,
		Silent:    request.Silent,
		RandomID:  randomID,
	}
	if replyTo > 0 {
		sendRequest.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	updates, err := r.raw.MessagesSendMessage(ctx, sendRequest)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditText(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	request fmgram.EditMessageRequest,
) error {
	if _, err := r.raw.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:      peer,
		ID:        messageID,
		Message:   request.Text,
		NoWebpage: request.DisableLinkPreview,
	}); err != nil {
		return fmt.Errorf("edit text: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int, revoke bool) error {
	// Channel deletions always apply to everyone.
	if _, isChannel := peer.(*tg.InputPeerChannel); revoke || isChannel {
		if _, err := r.sender.To(peer).Revoke().Messages(ctx, messageID); err != nil {
			return fmt.Errorf("revoke delete message: %w", err)
		}

		return nil
	}
	if _, err := r.sender.Delete().Messages(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) SetKeyboard(ctx context.Context, peer tg.InputPeerClass, messageID int, symbols []string) error {
	if _, err := r.raw.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:        peer,
		ID:          messageID,
		ReplyMarkup: inlineKeyboard(symbols),
	}); err != nil {
		return fmt.Errorf("edit reply markup: %w", err)
	}

	return nil
}

var (
	_ fmgram.SinkDispatcher = (*SinkDispatcher)(nil)
	_ outboundRPC           = gotdOutboundRPC{}
)
