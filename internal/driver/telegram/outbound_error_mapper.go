package telegram

import (
	"context"
	"errors"
	"strings"

	"fmgram/pkg/fmgram"

	"github.com/gotd/td/tgerr"
)

// rpcMessageNotModified is returned when an edit would leave a message unchanged.
const rpcMessageNotModified = "MESSAGE_NOT_MODIFIED"

// mapTelegramOutboundError classifies an RPC failure into fmgram.OutboundError.
// Request validation and routing errors pass through unchanged.
func mapTelegramOutboundError(operation fmgram.OutboundOperation, sink fmgram.EventSink, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fmgram.ErrInvalidOutboundRequest) || errors.Is(err, fmgram.ErrOutboundUnsupported) {
		return err
	}

	outboundErr := &fmgram.OutboundError{
		Operation: operation,
		Kind:      fmgram.OutboundErrorKindUnknown,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}
	if rpcErr, ok := tgerr.As(err); ok {
		outboundErr.Code = rpcErr.Code
		outboundErr.Type = rpcErr.Type
		outboundErr.Kind = classifyTelegramRPCError(rpcErr)
	}
	switch retryAfter, isFlood := tgerr.AsFloodWait(err); {
	case isFlood:
		outboundErr.Kind = fmgram.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
	case errors.Is(err, context.DeadlineExceeded):
		outboundErr.Kind = fmgram.OutboundErrorKindTemporary
	}

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) fmgram.OutboundErrorKind {
	errorType := strings.ToUpper(rpcErr.Type)
	switch {
	case rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD"):
		return fmgram.OutboundErrorKindRateLimited
	case rpcErr.Code == 303 || rpcErr.Code >= 500:
		return fmgram.OutboundErrorKindTemporary
	case rpcErr.Code >= 400 && rpcErr.Code <= 406:
		return fmgram.OutboundErrorKindPermanent
	default:
		return fmgram.OutboundErrorKindUnknown
	}
}
