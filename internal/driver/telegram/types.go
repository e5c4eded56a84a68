package telegram

import (
	"time"

	"npa-monitor/pkg/npa"
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new private text messages.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeCallback identifies inline keyboard presses.
	UpdateTypeCallback UpdateType = "callback"
)

// Update is the Telegram adapter's internal DTO before neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Callback   *CallbackPayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
type ChatRef struct {
	ID    string
	Title string
	Type  npa.ConversationType
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
	// PeerToken encodes the user id and access hash, see FormatPeerToken.
	PeerToken string
}

// MessagePayload carries one inbound text message.
type MessagePayload struct {
	ID   string
	Text string
}

// CallbackPayload carries one inline keyboard press.
type CallbackPayload struct {
	QueryID   string
	MessageID string
	Data      string
}
