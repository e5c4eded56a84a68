package npa

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("npa: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("npa: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("npa: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("npa: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("npa: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("npa: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("npa: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("npa: driver already registered")
	// ErrInvalidOutboundRequest indicates a malformed outbound request.
	ErrInvalidOutboundRequest = errors.New("npa: invalid outbound request")
	// ErrOutboundUnsupported indicates an outbound operation the sink cannot perform.
	ErrOutboundUnsupported = errors.New("npa: outbound operation unsupported")
	// ErrRecipientSkipped indicates delivery to one recipient was abandoned after a rate-limited resend.
	ErrRecipientSkipped = errors.New("npa: recipient skipped")
	// ErrUnknownTopic indicates a topic code outside the closed topic set.
	ErrUnknownTopic = errors.New("npa: unknown topic")
	// ErrUserNotFound indicates a lookup of an unregistered user.
	ErrUserNotFound = errors.New("npa: user not found")
	// ErrUnknownRole indicates a role code outside the supported role set.
	ErrUnknownRole = errors.New("npa: unknown role")
)
