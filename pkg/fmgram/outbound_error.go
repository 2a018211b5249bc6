package fmgram

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	OutboundOperationSendMessage        OutboundOperation = "send_message"
	OutboundOperationEditMessage        OutboundOperation = "edit_message"
	OutboundOperationDeleteMessage      OutboundOperation = "delete_message"
	OutboundOperationAnnotateMessage    OutboundOperation = "annotate_message"
	OutboundOperationRetractAnnotations OutboundOperation = "retract_annotations"
)

// OutboundErrorKind describes coarse-grained outbound failure classification.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited indicates platform-side rate limiting.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindTemporary indicates a retryable transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates a non-retryable failure.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindUnknown indicates an unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one outbound operation failure.
type OutboundError struct {
	Operation  OutboundOperation
	Kind       OutboundErrorKind
	Platform   Platform
	SinkID     string
	RetryAfter time.Duration
	// Code and Type carry the platform RPC status when known.
	Code  int
	Type  string
	Cause error
}

// Error returns an operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var fields []string
	appendField := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fields = append(fields, key+"="+value)
		}
	}
	appendField("operation", string(e.Operation))
	appendField("kind", string(e.Kind))
	appendField("platform", string(e.Platform))
	appendField("sink_id", e.SinkID)
	if e.RetryAfter > 0 {
		appendField("retry_after", e.RetryAfter.String())
	}
	if e.Code != 0 {
		appendField("code", fmt.Sprint(e.Code))
	}
	appendField("type", e.Type)

	message := "outbound error"
	if len(fields) > 0 {
		message += ": " + strings.Join(fields, " ")
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}

	return message
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	var outboundErr *OutboundError
	if err != nil && errors.As(err, &outboundErr) {
		return outboundErr, true
	}

	return nil, false
}

// AsOutboundRateLimit extracts the retry delay from a rate-limit error.
//
// It returns (0, true) when rate-limited without a retry-after hint.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}
