package telegram

import (
	"context"
	"fmt"
	"time"

	"npa-monitor/pkg/npa"
)

// Decoder converts Telegram update DTOs into neutral events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event.
	Decode(ctx context.Context, update Update) (*npa.Event, error)
}

// DefaultDecoder provides the default Telegram-to-npa mapping.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event. Commands are not
// decoded here: the kernel derives command.received from message.created.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*npa.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeMessage:
		if update.Message == nil {
			return nil, fmt.Errorf("decode message: missing message payload")
		}
		event.Kind = npa.EventKindMessageCreated
		event.Message = &npa.Message{
			ID:   update.Message.ID,
			Text: update.Message.Text,
		}
	case UpdateTypeCallback:
		if update.Callback == nil {
			return nil, fmt.Errorf("decode callback: missing callback payload")
		}
		event.Kind = npa.EventKindCallbackReceived
		event.Callback = &npa.Callback{
			QueryID:   update.Callback.QueryID,
			MessageID: update.Callback.MessageID,
			Data:      update.Callback.Data,
		}
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

func newBaseEvent(update Update) *npa.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &npa.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		Conversation: npa.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: npa.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
			PeerToken:   update.Actor.PeerToken,
		},
		Metadata: update.Metadata,
	}
}
