package fmgram

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("fmgram: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("fmgram: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("fmgram: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("fmgram: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("fmgram: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("fmgram: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("fmgram: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("fmgram: driver already registered")
	// ErrInvalidOutboundRequest indicates a malformed outbound request.
	ErrInvalidOutboundRequest = errors.New("fmgram: invalid outbound request")
	// ErrOutboundUnsupported indicates the sink cannot perform the operation.
	ErrOutboundUnsupported = errors.New("fmgram: outbound operation unsupported")
	// ErrUsernameTaken indicates that an external account is already linked to another user.
	ErrUsernameTaken = errors.New("fmgram: username already linked")
)
