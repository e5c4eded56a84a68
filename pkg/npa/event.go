package npa

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral inbound event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a user posts a text message to the bot.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindCommandReceived is derived by the kernel from a message that invokes a registered command.
	EventKindCommandReceived EventKind = "command.received"
	// EventKindCallbackReceived is emitted when a user presses an inline keyboard button.
	EventKindCallbackReceived EventKind = "callback.received"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct conversation with one user.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a group conversation.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeChannel is a channel-style conversation.
	ConversationTypeChannel ConversationType = "channel"
)

// Event is the neutral protocol envelope that drivers publish and modules consume.
//
// Message, Command and Callback are optional payload branches selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the upstream platform that produced the event.
	Platform Platform
	// Conversation identifies where the event happened.
	Conversation Conversation
	// Actor identifies who initiated the event.
	Actor Actor
	// Message carries the text body for message and command events.
	Message *Message
	// Command carries the bound invocation for command events.
	Command *CommandInvocation
	// Callback carries inline button press data for callback events.
	Callback *Callback
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Conversation identifies the neutral destination where an event occurred.
type Conversation struct {
	// ID is the stable conversation identifier on the source platform.
	ID string
	// Type describes the conversation scope.
	Type ConversationType
	// Title is a best-effort display label for the conversation.
	Title string
}

// Actor identifies the user that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID string
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
	// PeerToken is an opaque driver token that lets the sink reach this actor
	// outside of an inbound update (for example, a scheduled digest).
	PeerToken string
}

// Message holds the text body of an inbound message.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// Text is the message body.
	Text string
}

// Callback holds one inline keyboard press.
type Callback struct {
	// QueryID identifies the callback query that must be answered.
	QueryID string
	// MessageID identifies the bot message carrying the pressed keyboard.
	MessageID string
	// Data is the button payload.
	Data string
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
	case EventKindCommandReceived:
		if e.Command == nil {
			return fmt.Errorf("%w: command.received requires command payload", ErrInvalidEvent)
		}
	case EventKindCallbackReceived:
		if e.Callback == nil {
			return fmt.Errorf("%w: callback.received requires callback payload", ErrInvalidEvent)
		}
		if e.Callback.QueryID == "" {
			return fmt.Errorf("%w: callback.received requires query id", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}
